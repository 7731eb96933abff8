package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dispatch/internal/domain"
	"dispatch/internal/events"
	"dispatch/internal/metrics"
	"dispatch/internal/repository"
)

// ArrivalConfig holds arrival verification parameters.
type ArrivalConfig struct {
	MinElapsed       time.Duration
	MaxDistanceM     float64
	LowCreditBalance int
	Now              func() time.Time
}

// ArrivalService verifies driver arrival at pickup and consumes a ride credit.
type ArrivalService struct {
	store     repository.Store
	notifier  *NotificationService
	publisher events.Publisher
	log       logrus.FieldLogger
	cfg       ArrivalConfig
}

// NewArrivalService creates a new ArrivalService.
func NewArrivalService(
	store repository.Store,
	notifier *NotificationService,
	publisher events.Publisher,
	log logrus.FieldLogger,
	cfg ArrivalConfig,
) *ArrivalService {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ArrivalService{
		store:     store,
		notifier:  notifier,
		publisher: publisher,
		log:       log,
		cfg:       cfg,
	}
}

// ConfirmArrivalCommand contains the driver's arrival report.
type ConfirmArrivalCommand struct {
	RequestID string       `validate:"required"`
	DriverID  string       `validate:"required"`
	Position  domain.Point
}

// ArrivalResult describes a confirmed arrival.
type ArrivalResult struct {
	RequestID        string
	Status           domain.RequestStatus
	DistanceMeters   float64
	CreditConsumed   bool
	CreditsRemaining int
	// LowBalance is set when the remaining credits are at or below the advisory threshold.
	LowBalance bool
}

// ConfirmArrival checks the assignment, elapsed time, distance and credit
// balance, then consumes one credit and moves the request to driver_arrived
// in a single unit of work.
func (s *ArrivalService) ConfirmArrival(ctx context.Context, cmd ConfirmArrivalCommand) (*ArrivalResult, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	if !cmd.Position.Valid() {
		return nil, ErrInvalidLocation
	}

	req, err := s.store.Requests().GetByID(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if req.DriverID != cmd.DriverID {
		s.reject("not_assigned")
		return nil, ErrNotAssignedDriver
	}
	if req.Status != domain.RequestStatusDriverAssigned {
		s.reject("wrong_status")
		return nil, ErrRequestNotAssigned
	}

	now := s.cfg.Now()
	if elapsed := now.Sub(req.AssignedAt); elapsed < s.cfg.MinElapsed {
		s.reject("too_early")
		return nil, &TooEarlyError{Remaining: s.cfg.MinElapsed - elapsed}
	}

	distance := domain.HaversineMeters(cmd.Position, req.Pickup)
	if distance > s.cfg.MaxDistanceM {
		s.reject("too_far")
		return nil, &TooFarError{DistanceMeters: distance, MaxMeters: s.cfg.MaxDistanceM}
	}

	gated := req.ServiceType.CreditGated()
	if gated {
		balance, err := s.store.Credits().GetByDriverID(ctx, cmd.DriverID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			s.reject("no_credits")
			return nil, &InsufficientCreditsError{Balance: 0}
		case err != nil:
			return nil, fmt.Errorf("load credits: %w", err)
		case balance.RidesRemaining <= 0:
			s.reject("no_credits")
			return nil, &InsufficientCreditsError{Balance: balance.RidesRemaining}
		}
	}

	result := &ArrivalResult{
		RequestID:      req.ID,
		Status:         domain.RequestStatusDriverArrived,
		DistanceMeters: distance,
	}

	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		if gated {
			before, after, ok, err := tx.Credits().Consume(ctx, cmd.DriverID)
			if err != nil {
				return fmt.Errorf("consume credit: %w", err)
			}
			if !ok {
				return &InsufficientCreditsError{Balance: 0}
			}
			err = tx.Credits().RecordConsumption(ctx, &domain.CreditConsumption{
				ID:            uuid.New().String(),
				DriverID:      cmd.DriverID,
				RequestID:     req.ID,
				BalanceBefore: before,
				BalanceAfter:  after,
				CreatedAt:     now,
			})
			if err != nil {
				return fmt.Errorf("record credit consumption: %w", err)
			}
			result.CreditConsumed = true
			result.CreditsRemaining = after
		}

		ok, err := tx.Requests().TransitionForDriver(ctx, req.ID, cmd.DriverID,
			domain.RequestStatusDriverAssigned, domain.RequestStatusDriverArrived, now)
		if err != nil {
			return fmt.Errorf("mark driver arrived: %w", err)
		}
		if !ok {
			return ErrRequestNotAssigned
		}
		return nil
	})
	if err != nil {
		var creditErr *InsufficientCreditsError
		switch {
		case errors.As(err, &creditErr):
			s.reject("no_credits")
		case errors.Is(err, ErrRequestNotAssigned):
			s.reject("wrong_status")
		}
		return nil, err
	}

	metrics.ArrivalConfirmations.WithLabelValues("confirmed").Inc()
	log := s.log.WithFields(logrus.Fields{
		"request_id":      req.ID,
		"driver_id":       cmd.DriverID,
		"distance_m":      distance,
		"rides_remaining": result.CreditsRemaining,
	})
	log.Info("driver arrival confirmed")

	req.Status = domain.RequestStatusDriverArrived
	req.ArrivedAt = now
	s.notifier.NotifyDriverArrived(ctx, req)

	if result.CreditConsumed {
		publish(ctx, s.publisher, s.log, events.CreditConsumed, cmd.DriverID, map[string]any{
			"request_id":      req.ID,
			"rides_remaining": result.CreditsRemaining,
		}, now)
		if result.CreditsRemaining <= s.cfg.LowCreditBalance {
			result.LowBalance = true
			s.notifier.NotifyLowCreditBalance(ctx, cmd.DriverID, result.CreditsRemaining)
		}
	}
	publish(ctx, s.publisher, s.log, events.RequestArrived, req.ID, map[string]any{
		"driver_id":  cmd.DriverID,
		"distance_m": distance,
	}, now)

	return result, nil
}

func (s *ArrivalService) reject(reason string) {
	metrics.ArrivalConfirmations.WithLabelValues(reason).Inc()
}
