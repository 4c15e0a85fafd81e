package jobs

import (
	"context"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-table-reservations/internal/reservations"
	"github.com/imrishuroy/go-table-reservations/internal/tasks"
)

// Sweeper expires pending reservations whose expiration job was lost. It goes through the
// same per-row path as the expiration job, so nothing is skipped.
type Sweeper struct {
	store   *reservations.Store
	expirer *Expirer
	batch   int
	logs    *zap.Logger
}

func NewSweeper(store *reservations.Store, expirer *Expirer, batch int, logs *zap.Logger) *Sweeper {
	if batch <= 0 {
		batch = 100
	}
	return &Sweeper{store: store, expirer: expirer, batch: batch, logs: logs}
}

// Execute expires one batch of overdue reservations and returns how many it expired.
// Per-row failures are logged and skipped; a failure to list is returned.
func (s *Sweeper) Execute(ctx context.Context) (int, error) {
	ids, err := s.store.DuePending(ctx, s.batch)
	if err != nil {
		return 0, classify(err)
	}

	expired := 0
	for _, id := range ids {
		changed, err := s.expirer.expire(ctx, id)
		if err != nil {
			s.logs.Error("sweep could not expire reservation", zap.String("reservation_id", id), zap.Error(err))
			continue
		}
		if changed {
			expired++
		}
	}
	s.logs.Info("expired reservation sweep complete", zap.Int("candidates", len(ids)), zap.Int("expired", expired))
	return expired, nil
}

func (s *Sweeper) Handle(ctx context.Context, _ tasks.Task) error {
	_, err := s.Execute(ctx)
	return err
}
