package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns queries that must come back empty at every instant.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_inflight_per_period",
			SQL: `SELECT driver_id, period_start, COUNT(*) FROM disciplinary_actions
                  WHERE action_type IN ('suspension','ban') AND actual_end IS NULL
                  GROUP BY driver_id, period_start HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_step_once_per_period",
			SQL: `SELECT driver_id, period_start, action_type, suspension_days, COUNT(*) FROM disciplinary_actions
                  WHERE action_type IN ('suspension','ban')
                  GROUP BY driver_id, period_start, action_type, suspension_days HAVING COUNT(*) > 1`,
		},
		{
			Name: "O3_warning_once_per_period",
			SQL: `SELECT driver_id, period_start, COUNT(*) FROM disciplinary_actions
                  WHERE action_type = 'warning'
                  GROUP BY driver_id, period_start HAVING COUNT(*) > 1`,
		},
		{
			Name: "O4_paused_never_applied",
			SQL: `SELECT id FROM disciplinary_actions
                  WHERE is_paused AND (actual_start IS NOT NULL OR blocking_booking_id IS NULL)`,
		},
		{
			Name: "O5_applied_means_not_active",
			SQL: `SELECT a.id, u.status FROM disciplinary_actions a
                  JOIN drivers d ON d.id = a.driver_id
                  JOIN users u ON u.id = d.user_id
                  WHERE a.action_type IN ('suspension','ban')
                    AND a.actual_start IS NOT NULL AND a.actual_end IS NULL
                    AND u.status = 'active'`,
		},
		{
			Name: "O6_applied_means_no_bookable_cars",
			SQL: `SELECT a.id, c.id FROM disciplinary_actions a
                  JOIN cars c ON c.driver_id = a.driver_id
                  WHERE a.action_type IN ('suspension','ban')
                    AND a.actual_start IS NOT NULL AND a.actual_end IS NULL
                    AND c.is_active`,
		},
		{
			Name: "O7_ladder_prerequisites",
			SQL: `SELECT a.id FROM disciplinary_actions a
                  WHERE (a.action_type = 'ban' OR a.suspension_days = 7)
                    AND NOT EXISTS (
                      SELECT 1 FROM disciplinary_actions p
                      WHERE p.driver_id = a.driver_id AND p.period_start = a.period_start
                        AND p.action_type = 'suspension'
                        AND p.suspension_days = CASE WHEN a.action_type = 'ban' THEN 7 ELSE 3 END
                        AND p.created_at <= a.created_at)`,
		},
		{
			Name: "O8_pointer_targets_own_suspension",
			SQL: `SELECT d.id FROM drivers d
                  JOIN disciplinary_actions a ON a.id = d.current_suspension_id
                  WHERE a.driver_id <> d.id OR a.action_type <> 'suspension'`,
		},
		{
			Name: "O9_history_delete_guard",
			SQL: `SELECT 'missing_no_delete_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'no_delete_disciplinary_actions')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
