package driver

import (
	"context"
	"errors"
	"testing"
)

type stubReader struct {
	profile Profile
	cars    []Car
	getErr  error
	carsErr error
}

func (s stubReader) GetByID(context.Context, string) (Profile, error) {
	return s.profile, s.getErr
}

func (s stubReader) ListCars(context.Context, string) ([]Car, error) {
	return s.cars, s.carsErr
}

func TestProfileAttachesCars(t *testing.T) {
	svc := NewService(stubReader{
		profile: Profile{ID: "d1", AccountStatus: "inactive"},
		cars:    []Car{{ID: "c1", Plate: "AB-123"}, {ID: "c2", Plate: "CD-456"}},
	})

	p, err := svc.Profile(context.Background(), "d1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Cars) != 2 || p.Cars[0].Plate != "AB-123" {
		t.Fatalf("unexpected cars: %+v", p.Cars)
	}
}

func TestProfilePropagatesErrors(t *testing.T) {
	svc := NewService(stubReader{getErr: ErrNotFound})
	if _, err := svc.Profile(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	boom := errors.New("boom")
	svc = NewService(stubReader{carsErr: boom})
	if _, err := svc.Profile(context.Background(), "d1"); !errors.Is(err, boom) {
		t.Fatalf("expected car error, got %v", err)
	}
}
