package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"bookinghub/discipline"
	"bookinghub/notification"
	"bookinghub/test/actors"
	"bookinghub/test/chaos"
	"bookinghub/test/infra"
	"bookinghub/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 30*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 4, "number of disputer and rider actors each")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
	flChaos       = flag.Bool("chaos", true, "terminate random backends while running")
)

func TestDisciplineConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("stress run skipped in -short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	shared := *flDSN != "" || os.Getenv(infra.DSNEnv) != ""
	if !shared && !dockerAvailable(ctx) {
		t.Skipf("no docker and no %s; skipping stress run", infra.DSNEnv)
	}

	pgC, dsn, err := infra.StartPostgres(ctx, *flDSN)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, shared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	if err := infra.Reset(ctx, pool); err != nil {
		t.Fatalf("reset: %v", err)
	}
	fleet, err := infra.SeedFleet(ctx, pool, 3)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := discipline.NewEngine(pool, nil,
		discipline.WithNotifier(notification.NewPGStore(pool)),
		discipline.WithIDGenerator(uuid.NewString),
		discipline.WithLogger(logger),
	)
	reconciler := discipline.NewReconciler(engine)

	g, gctx := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for i := 0; i < *flConcurrency; i++ {
		g.Go(func() error { return actors.Disputer(gctx, pool, engine, fleet, stop) })
		g.Go(func() error { return actors.Rider(gctx, pool, engine, fleet, stop) })
	}
	g.Go(func() error { return actors.Lifter(gctx, pool, engine, fleet, stop) })
	g.Go(func() error { return actors.Sweeper(gctx, reconciler, stop) })
	if *flChaos {
		go chaos.TerminateRandomBackend(gctx, pool, infra.AppName, stop)
	}

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

loop:
	for time.Now().Before(deadline) {
		select {
		case <-gctx.Done():
			break loop
		case <-ticker.C:
			if failOnOracle(t, gctx, pool) {
				close(stop)
				_ = g.Wait()
				return
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("actors errored: %v", err)
	}

	// One last sweep settles anything a killed connection left paused.
	if _, err := reconciler.RunOnce(ctx); err != nil {
		t.Logf("final sweep: %v", err)
	}
	failOnOracle(t, ctx, pool)

	var actions int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM disciplinary_actions WHERE driver_id = $1`, fleet.DriverID).Scan(&actions); err != nil {
		t.Fatalf("count actions: %v", err)
	}
	if actions == 0 {
		t.Fatalf("stress run produced no disciplinary actions")
	}
	t.Logf("stress run finished: %d actions recorded", actions)
}

func failOnOracle(t *testing.T, ctx context.Context, pool *pgxpool.Pool) bool {
	t.Helper()
	name, row, err := oracles.Run(ctx, pool)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		t.Errorf("oracle error: %v", err)
		return true
	}
	if name != "" {
		dumpRecent(t, ctx, pool)
		t.Errorf("oracle %s failed. First row: %s", name, row)
		return true
	}
	return false
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	dumps := []struct {
		name string
		sql  string
	}{
		{"disciplinary_actions", `SELECT id, action_type, suspension_days, dispute_count, is_paused, blocking_booking_id, actual_start, actual_end, created_at
                                  FROM disciplinary_actions ORDER BY created_at DESC LIMIT 30`},
		{"drivers", `SELECT d.id, u.status, d.current_suspension_id, d.last_warning_at FROM drivers d JOIN users u ON u.id = d.user_id`},
		{"car_bookings", `SELECT id, status, updated_at FROM car_bookings WHERE status = 'IN_PROGRESS'`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", cols[i].Name, vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
