package driver

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested driver does not exist.
var ErrNotFound = errors.New("driver: not found")

// Repository provides read access to driver profiles.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID fetches a driver with its user account, without cars.
func (r *Repository) GetByID(ctx context.Context, id string) (Profile, error) {
	const query = `
		SELECT d.id::text, d.user_id::text, u.full_name, u.email, d.is_verified, u.status::text, d.created_at
		FROM drivers d
		JOIN users u ON u.id = d.user_id
		WHERE d.id = $1
	`

	var p Profile
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.UserID,
		&p.FullName,
		&p.Email,
		&p.IsVerified,
		&p.AccountStatus,
		&p.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.Is(err, pgx.ErrNoRows) || (errors.As(err, &pgErr) && pgErr.Code == "22P02") {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("driver: query by id: %w", err)
	}
	return p, nil
}

// ListCars returns the driver's cars ordered by plate.
func (r *Repository) ListCars(ctx context.Context, driverID string) ([]Car, error) {
	const query = `
		SELECT id::text, plate, model, is_active
		FROM cars
		WHERE driver_id = $1
		ORDER BY plate ASC
	`

	rows, err := r.pool.Query(ctx, query, driverID)
	if err != nil {
		return nil, fmt.Errorf("driver: list cars: %w", err)
	}
	defer rows.Close()

	cars := make([]Car, 0, 4)
	for rows.Next() {
		var c Car
		if err := rows.Scan(&c.ID, &c.Plate, &c.Model, &c.IsActive); err != nil {
			return nil, fmt.Errorf("driver: scan car: %w", err)
		}
		cars = append(cars, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("driver: iterate cars: %w", err)
	}
	return cars, nil
}
