// internal/chaos/experiments.go
package chaos

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"librelay/internal/clients"
)

// Deployment holds the handles the experiments poke at: direct connections to
// both stores plus clients for the two API surfaces.
type Deployment struct {
	FrontendDB *sql.DB
	AdminDB    *sql.DB
	Frontend   *clients.Client
	Admin      *clients.Client
}

// RegisterExperiments registers the standard suite against the deployment.
func (e *Engine) RegisterExperiments(d *Deployment) {
	e.Register(e.ConcurrentBorrowRaceExperiment(d, 50))
	e.Register(e.RelayBacklogExperiment(d))
	e.Register(e.StoreConvergenceExperiment(d))
}

// consistencyMetric counts books whose availability disagrees with their open
// borrow records. Zero is the invariant.
func consistencyMetric(name string, db *sql.DB) Metric {
	return Metric{
		Name: name,
		Query: func(ctx context.Context) (float64, error) {
			var inconsistencies int
			err := db.QueryRowContext(ctx, `
				SELECT COUNT(*) FROM books b
				WHERE b.availability_status <> (NOT EXISTS (
					SELECT 1 FROM borrow_records r
					WHERE r.book_uuid = b.book_uuid AND NOT r.returned
				))
			`).Scan(&inconsistencies)
			return float64(inconsistencies), err
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

func outboxDepthMetric(name string, db *sql.DB) Metric {
	return Metric{
		Name: name,
		Query: func(ctx context.Context) (float64, error) {
			var depth int
			err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&depth)
			return float64(depth), err
		},
		Threshold: Threshold{Operator: "<", Value: 1000},
	}
}

// ConcurrentBorrowRaceExperiment fires concurrent borrows at one book.
// Exactly one must win; the availability invariant must hold throughout.
func (e *Engine) ConcurrentBorrowRaceExperiment(d *Deployment, concurrency int) Experiment {
	return Experiment{
		Name:       "concurrent-borrow-race",
		Hypothesis: "Of N concurrent borrows on one book exactly one succeeds; availability never diverges from borrow records",
		SteadyState: []Metric{
			consistencyMetric("frontend_consistency", d.FrontendDB),
		},
		Method: []Action{
			{
				Type:   "concurrent-requests",
				Target: "frontend-service",
				Execute: func(ctx context.Context) error {
					user, err := d.Frontend.EnrollUser(ctx, uuid.NewString()+"@example.com", "Chaos", "Reader")
					if err != nil {
						return err
					}
					book, err := d.Admin.AddBook(ctx, "Race Target", "Chaos Press", "test")
					if err != nil {
						return err
					}

					var wg sync.WaitGroup
					wins := make(chan struct{}, concurrency)
					for i := 0; i < concurrency; i++ {
						wg.Add(1)
						go func() {
							defer wg.Done()
							if _, err := d.Frontend.BorrowBook(ctx, user.UUID, book.UUID, 7); err == nil {
								wins <- struct{}{}
							}
						}()
					}
					wg.Wait()
					close(wins)

					winners := 0
					for range wins {
						winners++
					}
					if winners != 1 {
						return errors.New("expected exactly one winning borrow")
					}
					return nil
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "frontend_consistency",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "availability must match open borrow records",
			},
		},
		Duration: 30 * time.Second,
	}
}

// RelayBacklogExperiment floods the outbox with writes while the relay is
// expected to keep draining it.
func (e *Engine) RelayBacklogExperiment(d *Deployment) Experiment {
	return Experiment{
		Name:       "relay-backlog-drain",
		Hypothesis: "The outbox stays bounded under a write burst; the forwarder drains it faster than it fills",
		SteadyState: []Metric{
			outboxDepthMetric("frontend_outbox_depth", d.FrontendDB),
			outboxDepthMetric("admin_outbox_depth", d.AdminDB),
		},
		Method: []Action{
			{
				Type:   "write-burst",
				Target: "admin-service",
				Execute: func(ctx context.Context) error {
					for i := 0; i < 200; i++ {
						if _, err := d.Admin.AddBook(ctx, "Backlog Filler", "Chaos Press", "test"); err != nil {
							return err
						}
					}
					return nil
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "admin_outbox_depth",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "outbox must drain to zero after the burst",
			},
		},
		Duration: 2 * time.Minute,
	}
}

// StoreConvergenceExperiment checks that both stores settle on the same book
// count after traffic stops.
func (e *Engine) StoreConvergenceExperiment(d *Deployment) Experiment {
	bookCount := func(db *sql.DB) func(context.Context) (float64, error) {
		return func(ctx context.Context) (float64, error) {
			var n int
			err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM books`).Scan(&n)
			return float64(n), err
		}
	}
	divergence := Metric{
		Name: "store_divergence",
		Query: func(ctx context.Context) (float64, error) {
			frontend, err := bookCount(d.FrontendDB)(ctx)
			if err != nil {
				return 0, err
			}
			admin, err := bookCount(d.AdminDB)(ctx)
			if err != nil {
				return 0, err
			}
			diff := frontend - admin
			if diff < 0 {
				diff = -diff
			}
			return diff, err
		},
		// Events in flight show as temporary divergence.
		Threshold: Threshold{Operator: "<", Value: 50},
	}

	return Experiment{
		Name:       "store-convergence",
		Hypothesis: "Writes to either primary converge into both stores once the relay catches up",
		SteadyState: []Metric{
			divergence,
		},
		Method: []Action{
			{
				Type:   "split-writes",
				Target: "both-services",
				Execute: func(ctx context.Context) error {
					for i := 0; i < 25; i++ {
						if _, err := d.Admin.AddBook(ctx, "Admin Origin", "Chaos Press", "test"); err != nil {
							return err
						}
						if _, err := d.Frontend.EnrollUser(ctx, uuid.NewString()+"@example.com", "Chaos", "Reader"); err != nil {
							return err
						}
					}
					return nil
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "store_divergence",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "stores must hold identical book sets after the relay drains",
			},
		},
		Duration: time.Minute,
	}
}
