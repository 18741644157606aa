package notification

import (
	"context"
	"errors"
)

// Fanout delivers every notice to all sinks. One failing sink does not stop
// the others; their errors are joined.
type Fanout struct {
	sinks []Sender
}

func NewFanout(sinks ...Sender) *Fanout {
	out := make([]Sender, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Fanout{sinks: out}
}

func (f *Fanout) Send(ctx context.Context, userID string, typ Type, title, body string) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Send(ctx, userID, typ, title, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
