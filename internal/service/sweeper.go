package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Expirer marks stale offers and bidding sessions as expired.
type Expirer interface {
	SweepExpired(ctx context.Context) (offers, sessions int64, err error)
}

// Sweeper runs an Expirer on a fixed interval until its context is cancelled.
type Sweeper struct {
	expirer  Expirer
	interval time.Duration
	log      logrus.FieldLogger
}

// NewSweeper creates a new Sweeper.
func NewSweeper(expirer Expirer, interval time.Duration, log logrus.FieldLogger) *Sweeper {
	return &Sweeper{expirer: expirer, interval: interval, log: log}
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single pass. Errors are logged and the next tick retries.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	offers, sessions, err := s.expirer.SweepExpired(ctx)
	if err != nil {
		s.log.WithError(err).Warn("expiry sweep failed")
		return
	}
	if offers > 0 || sessions > 0 {
		s.log.WithFields(logrus.Fields{
			"offers":   offers,
			"sessions": sessions,
		}).Info("expired stale bidding records")
	}
}

var _ Expirer = (*Negotiator)(nil)
