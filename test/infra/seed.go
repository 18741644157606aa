package infra

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Fleet is one driver with cars plus a customer who books and disputes them.
type Fleet struct {
	DriverID   string
	DriverUser string
	CustomerID string
	CarIDs     []string
}

// SeedFleet inserts a verified driver owning cars cars and one customer.
func SeedFleet(ctx context.Context, pool *pgxpool.Pool, cars int) (Fleet, error) {
	var f Fleet
	tag := rand.Int63()

	if err := pool.QueryRow(ctx,
		`INSERT INTO users (email, full_name, role) VALUES ($1, 'Stress Driver', 'driver') RETURNING id::text`,
		fmt.Sprintf("driver-%d@example.com", tag)).Scan(&f.DriverUser); err != nil {
		return Fleet{}, fmt.Errorf("seed driver user: %w", err)
	}
	if err := pool.QueryRow(ctx,
		`INSERT INTO drivers (user_id, is_verified) VALUES ($1, true) RETURNING id::text`,
		f.DriverUser).Scan(&f.DriverID); err != nil {
		return Fleet{}, fmt.Errorf("seed driver: %w", err)
	}
	if err := pool.QueryRow(ctx,
		`INSERT INTO users (email, full_name) VALUES ($1, 'Stress Customer') RETURNING id::text`,
		fmt.Sprintf("customer-%d@example.com", tag)).Scan(&f.CustomerID); err != nil {
		return Fleet{}, fmt.Errorf("seed customer: %w", err)
	}
	for i := 0; i < cars; i++ {
		var id string
		if err := pool.QueryRow(ctx,
			`INSERT INTO cars (driver_id, plate, model) VALUES ($1, $2, 'Sedan') RETURNING id::text`,
			f.DriverID, fmt.Sprintf("ST-%d-%d", tag%10000, i)).Scan(&id); err != nil {
			return Fleet{}, fmt.Errorf("seed car: %w", err)
		}
		f.CarIDs = append(f.CarIDs, id)
	}
	return f, nil
}

// Reset empties every table the stress run writes to.
func Reset(ctx context.Context, pool *pgxpool.Pool) error {
	tables := []string{
		"notifications",
		"disputes",
		"car_bookings",
		"hotel_bookings",
		"cars",
		"drivers",
		"users",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reset begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// disciplinary_actions refuses DELETE; TRUNCATE bypasses row triggers.
	if _, err := tx.Exec(ctx, "UPDATE drivers SET current_suspension_id = NULL"); err != nil {
		return fmt.Errorf("reset pointers: %w", err)
	}
	if _, err := tx.Exec(ctx, "TRUNCATE TABLE disciplinary_actions CASCADE"); err != nil {
		return fmt.Errorf("truncate disciplinary_actions: %w", err)
	}
	for _, tbl := range tables {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+tbl+" CASCADE"); err != nil {
			return fmt.Errorf("truncate %s: %w", tbl, err)
		}
	}
	return tx.Commit(ctx)
}
