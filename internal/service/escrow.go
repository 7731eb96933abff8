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
	"dispatch/internal/payment"
	"dispatch/internal/repository"
)

// EscrowService holds request funds and releases them exactly once.
type EscrowService struct {
	store     repository.Store
	gateway   payment.Gateway
	notifier  *NotificationService
	publisher events.Publisher
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewEscrowService creates a new EscrowService. now may be nil.
func NewEscrowService(
	store repository.Store,
	gateway payment.Gateway,
	notifier *NotificationService,
	publisher events.Publisher,
	log logrus.FieldLogger,
	now func() time.Time,
) *EscrowService {
	if now == nil {
		now = time.Now
	}
	return &EscrowService{
		store:     store,
		gateway:   gateway,
		notifier:  notifier,
		publisher: publisher,
		log:       log,
		now:       now,
	}
}

// HoldEscrowCommand contains the parameters for holding funds against a request.
type HoldEscrowCommand struct {
	RequestID   string `validate:"required"`
	BuyerID     string `validate:"required"`
	SellerID    string // Optional: defaults to the assigned driver
	Amount      int64
	PlatformFee int64
	Currency    string `validate:"required,len=3"`
	Cash        bool
}

// HoldEscrow records the funds for a request and fixes the net split. Card
// escrows are authorised through the gateway first. Holding twice returns the
// existing escrow.
func (s *EscrowService) HoldEscrow(ctx context.Context, cmd HoldEscrowCommand) (*domain.Escrow, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	if cmd.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if cmd.PlatformFee < 0 || cmd.PlatformFee > cmd.Amount {
		return nil, ErrInvalidFee
	}

	req, err := s.store.Requests().GetByID(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if req.RequesterID != cmd.BuyerID {
		return nil, ErrNotRequester
	}

	existing, err := s.store.Escrows().GetByRequestID(ctx, req.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load escrow: %w", err)
	}

	seller := cmd.SellerID
	if seller == "" {
		seller = req.DriverID
	}
	if seller == "" {
		return nil, ErrNoSeller
	}

	escrow := &domain.Escrow{
		ID:          uuid.New().String(),
		RequestID:   req.ID,
		BuyerID:     cmd.BuyerID,
		SellerID:    seller,
		Amount:      cmd.Amount,
		PlatformFee: cmd.PlatformFee,
		NetAmount:   domain.NetPayable(cmd.Amount, cmd.PlatformFee),
		Currency:    cmd.Currency,
		Status:      domain.EscrowStatusHeld,
		CreatedAt:   s.now(),
	}

	if cmd.Cash {
		escrow.Status = domain.EscrowStatusPendingCash
	} else {
		ref, err := s.gateway.Authorize(ctx, req.ID, cmd.Amount, cmd.Currency)
		if err != nil {
			s.log.WithError(err).WithField("request_id", req.ID).Warn("escrow funding authorisation failed")
			return nil, fmt.Errorf("%w: %v", ErrFundingNotAuthorized, err)
		}
		escrow.ExternalRef = ref
	}

	if err := s.store.Escrows().Create(ctx, escrow); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return s.store.Escrows().GetByRequestID(ctx, req.ID)
		}
		return nil, fmt.Errorf("create escrow: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"request_id": req.ID,
		"escrow_id":  escrow.ID,
		"amount":     escrow.Amount,
		"status":     escrow.Status,
	}).Info("escrow held")
	publish(ctx, s.publisher, s.log, events.EscrowHeld, req.ID, map[string]any{
		"escrow_id":  escrow.ID,
		"amount":     escrow.Amount,
		"net_amount": escrow.NetAmount,
		"status":     escrow.Status,
	}, escrow.CreatedAt)

	return escrow, nil
}

// GetEscrow returns the escrow held against a request.
func (s *EscrowService) GetEscrow(ctx context.Context, requestID string) (*domain.Escrow, error) {
	return s.store.Escrows().GetByRequestID(ctx, requestID)
}

// ReleaseEscrowCommand contains the parameters for releasing held funds.
type ReleaseEscrowCommand struct {
	RequestID   string `validate:"required"`
	ConfirmerID string `validate:"required"`
}

// ReleaseResult describes a release. AlreadyReleased is set when an earlier
// call did the work; the amounts are those of that call.
type ReleaseResult struct {
	Escrow          *domain.Escrow
	NetAmount       int64
	WalletBalance   int64
	AlreadyReleased bool
}

// ReleaseEscrow credits the counterparty's wallet with the net amount and
// marks the escrow released. Nothing is written unless every step succeeds,
// so a failed call can be retried safely.
func (s *EscrowService) ReleaseEscrow(ctx context.Context, cmd ReleaseEscrowCommand) (*ReleaseResult, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}

	escrow, err := s.store.Escrows().GetByRequestID(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if escrow.Status == domain.EscrowStatusReleased {
		metrics.EscrowReleases.WithLabelValues("already_released").Inc()
		return alreadyReleased(escrow), nil
	}

	if escrow.BuyerID != cmd.ConfirmerID {
		return nil, ErrNotRequester
	}
	req, err := s.store.Requests().GetByID(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if !req.Status.SettlementEligible() {
		return nil, ErrNotEligibleToSettle
	}

	if escrow.ExternalRef != "" {
		if err := s.gateway.Capture(ctx, escrow.ExternalRef); err != nil {
			metrics.EscrowReleases.WithLabelValues("capture_failed").Inc()
			return nil, fmt.Errorf("capture escrow funds: %w", err)
		}
	}

	now := s.now()
	var balance int64
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		ok, err := tx.Escrows().MarkReleased(ctx, escrow.RequestID, now)
		if err != nil {
			return fmt.Errorf("mark escrow released: %w", err)
		}
		if !ok {
			return errRaceLost
		}

		wallet, err := tx.Wallets().GetOrCreate(ctx, escrow.SellerID, escrow.Currency)
		if err != nil {
			return fmt.Errorf("load wallet: %w", err)
		}
		before, after, err := tx.Wallets().Credit(ctx, wallet.ID, escrow.NetAmount)
		if err != nil {
			return fmt.Errorf("credit wallet: %w", err)
		}
		err = tx.Wallets().RecordTransaction(ctx, &domain.WalletTransaction{
			ID:            uuid.New().String(),
			WalletID:      wallet.ID,
			RequestID:     escrow.RequestID,
			Type:          domain.WalletTransactionEscrowRelease,
			Amount:        escrow.NetAmount,
			BalanceBefore: before,
			BalanceAfter:  after,
			Description:   fmt.Sprintf("escrow release for request %s", escrow.RequestID),
			CreatedAt:     now,
		})
		if err != nil {
			return fmt.Errorf("record wallet transaction: %w", err)
		}
		balance = after

		if req.Status == domain.RequestStatusDelivered {
			if _, err := tx.Requests().Transition(ctx, req.ID,
				domain.RequestStatusDelivered, domain.RequestStatusCompleted, now); err != nil {
				return fmt.Errorf("complete request: %w", err)
			}
		}
		return nil
	})
	if errors.Is(err, errRaceLost) {
		current, err := s.store.Escrows().GetByRequestID(ctx, cmd.RequestID)
		if err != nil {
			return nil, err
		}
		metrics.EscrowReleases.WithLabelValues("already_released").Inc()
		return alreadyReleased(current), nil
	}
	if err != nil {
		metrics.EscrowReleases.WithLabelValues("failed").Inc()
		return nil, err
	}

	escrow.Status = domain.EscrowStatusReleased
	escrow.ReleasedAt = now

	metrics.EscrowReleases.WithLabelValues("released").Inc()
	s.log.WithFields(logrus.Fields{
		"request_id": escrow.RequestID,
		"seller_id":  escrow.SellerID,
		"net_amount": escrow.NetAmount,
	}).Info("escrow released")

	s.notifier.NotifyEscrowReleased(ctx, escrow)
	publish(ctx, s.publisher, s.log, events.EscrowReleased, escrow.RequestID, map[string]any{
		"escrow_id":  escrow.ID,
		"seller_id":  escrow.SellerID,
		"net_amount": escrow.NetAmount,
	}, now)

	return &ReleaseResult{
		Escrow:        escrow,
		NetAmount:     escrow.NetAmount,
		WalletBalance: balance,
	}, nil
}

func alreadyReleased(escrow *domain.Escrow) *ReleaseResult {
	return &ReleaseResult{
		Escrow:          escrow,
		NetAmount:       escrow.NetAmount,
		AlreadyReleased: true,
	}
}
