package discipline

import (
	"fmt"
	"time"
)

type message struct {
	title string
	body  string
}

const (
	dateLayout = "2006-01-02"
	timeLayout = "2006-01-02 15:04 UTC"
)

func warningMessage(count int) message {
	return message{
		title: "Dispute warning",
		body: fmt.Sprintf("You have %d disputes in the current period. "+
			"Further disputes will lead to a suspension of your account.", count),
	}
}

func scheduledMessage(a Action) message {
	if a.Type == ActionBan {
		return message{
			title: "Account ban scheduled",
			body:  "Your account will be banned once your current ride is completed.",
		}
	}
	return message{
		title: "Suspension scheduled",
		body: fmt.Sprintf("A %d-day suspension will start once your current ride is completed (%d disputes).",
			a.Days(), a.DisputeCount),
	}
}

func pausedMessage(a Action) message {
	if a.Type == ActionBan {
		return message{
			title: "Account ban on hold",
			body:  "Your account ban is on hold until your current ride is completed.",
		}
	}
	return message{
		title: "Suspension on hold",
		body:  fmt.Sprintf("Your %d-day suspension is on hold until your current ride is completed.", a.Days()),
	}
}

func appliedMessage(a Action, now time.Time) message {
	if a.Type == ActionBan {
		return message{
			title: "Account banned",
			body:  "Your account has been banned after repeated disputes. Your cars are no longer bookable.",
		}
	}
	if shortened(a, now) {
		return message{
			title: "Account suspended",
			body: fmt.Sprintf("Your account is suspended after %d disputes. Part of your %d-day suspension "+
				"elapsed during your ride and the rest ends on %s. Your cars are no longer bookable.",
				a.DisputeCount, a.Days(), a.ScheduledEnd.UTC().Format(timeLayout)),
		}
	}
	return message{
		title: "Account suspended",
		body: fmt.Sprintf("Your account is suspended for %d days after %d disputes.%s Your cars are no longer bookable.",
			a.Days(), a.DisputeCount, until(a.ScheduledEnd)),
	}
}

func resumedMessage(a Action, now time.Time) message {
	if a.Type == ActionBan {
		return message{
			title: "Account ban in effect",
			body:  "Your ride is completed and your account ban is now in effect.",
		}
	}
	if shortened(a, now) {
		return message{
			title: "Suspension in effect",
			body: fmt.Sprintf("Your ride is completed and the rest of your %d-day suspension is now in effect until %s.",
				a.Days(), a.ScheduledEnd.UTC().Format(timeLayout)),
		}
	}
	return message{
		title: "Suspension in effect",
		body:  fmt.Sprintf("Your ride is completed and your %d-day suspension is now in effect.", a.Days()),
	}
}

// shortened reports a suspension whose fixed window was partly spent while it
// was paused.
func shortened(a Action, now time.Time) bool {
	if a.ScheduledEnd == nil || a.Days() == 0 {
		return false
	}
	full := time.Duration(a.Days()) * 24 * time.Hour
	return a.ScheduledEnd.Sub(now) < full-time.Hour
}

func liftedMessage(a Action) message {
	return message{
		title: "Suspension lifted",
		body:  fmt.Sprintf("Your %d-day suspension has been lifted and your account is active again.", a.Days()),
	}
}

func until(t *time.Time) string {
	if t == nil {
		return ""
	}
	return " It ends on " + t.UTC().Format(dateLayout) + "."
}
