package discipline

// Step identifies one rung of the ladder: an action type plus its suspension length.
type Step struct {
	Type ActionType
	Days int
}

var (
	StepSuspension3d = Step{Type: ActionSuspension, Days: 3}
	StepSuspension7d = Step{Type: ActionSuspension, Days: 7}
	StepBan          = Step{Type: ActionBan}
)

// Rule fires when the period count reaches MinDisputes and, if set, Requires was
// already issued in the same period. A rule never fires twice in one period.
type Rule struct {
	Name        string
	MinDisputes int
	Requires    *Step
	Issues      Step
}

// Ladder is evaluated top to bottom; the first matching rule wins.
type Ladder []Rule

// DefaultLadder lists rules most severe first.
func DefaultLadder() Ladder {
	return Ladder{
		{Name: "ban", MinDisputes: 6, Requires: &StepSuspension7d, Issues: StepBan},
		{Name: "suspension_7d", MinDisputes: 7, Requires: &StepSuspension3d, Issues: StepSuspension7d},
		{Name: "suspension_3d", MinDisputes: 5, Issues: StepSuspension3d},
	}
}

// Decide picks the rule to apply for count given the steps already issued in the
// period. An in-flight suspension or ban blocks every rule.
func (l Ladder) Decide(count int, issued []Step, inFlight bool) (Rule, bool) {
	if inFlight {
		return Rule{}, false
	}
	for _, rule := range l {
		if count < rule.MinDisputes {
			continue
		}
		if rule.Requires != nil && !containsStep(issued, *rule.Requires) {
			continue
		}
		if containsStep(issued, rule.Issues) {
			continue
		}
		return rule, true
	}
	return Rule{}, false
}

func containsStep(steps []Step, want Step) bool {
	for _, s := range steps {
		if s == want {
			return true
		}
	}
	return false
}
