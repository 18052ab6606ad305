package worker

import (
	"context"
	"time"

	"bookshop/internal/usecase"
)

const defaultSweepBatch = 100

// usecase.OrderEvents
type Sweeper interface {
	Sweep(ctx context.Context, grace time.Duration, limit int) (int, error)
}

// コミット後に通知できなかった注文を定期的に再送する
type NotifySweeper struct {
	sweeper  Sweeper
	interval time.Duration
	grace    time.Duration
	batch    int
	log      usecase.Logger
}

func NewNotifySweeper(sweeper Sweeper, interval, grace time.Duration, log usecase.Logger) *NotifySweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = nopLogger{}
	}
	return &NotifySweeper{
		sweeper:  sweeper,
		interval: interval,
		grace:    grace,
		batch:    defaultSweepBatch,
		log:      log,
	}
}

// ctxがキャンセルされるまで動く
func (s *NotifySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *NotifySweeper) sweepOnce(ctx context.Context) {
	n, err := s.sweeper.Sweep(ctx, s.grace, s.batch)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Errorf("notify sweep failed: %v", err)
		}
		return
	}
	if n > 0 {
		s.log.Infof("notify sweep re-emitted %d orders", n)
	}
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
