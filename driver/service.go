package driver

import "context"

// ProfileReader abstracts repository operations for the service.
type ProfileReader interface {
	GetByID(ctx context.Context, id string) (Profile, error)
	ListCars(ctx context.Context, driverID string) ([]Car, error)
}

type Service struct {
	repo ProfileReader
}

func NewService(repo ProfileReader) *Service {
	return &Service{repo: repo}
}

// Profile returns the driver together with its cars.
func (s *Service) Profile(ctx context.Context, id string) (Profile, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	cars, err := s.repo.ListCars(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	p.Cars = cars
	return p, nil
}
