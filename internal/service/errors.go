package service

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Error classes. Every error returned by this package wraps exactly one of them.
var (
	// ErrInvalidInput is returned for malformed or out-of-range input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrForbidden is returned when the caller does not own the record it acts on.
	ErrForbidden = errors.New("forbidden")

	// ErrStateConflict is returned when a record is not in the state an operation requires.
	ErrStateConflict = errors.New("state conflict")

	// ErrPreconditionFailed is returned when a measured precondition does not hold.
	ErrPreconditionFailed = errors.New("precondition failed")
)

var (
	ErrInvalidLocation     = fmt.Errorf("%w: invalid location", ErrInvalidInput)
	ErrInvalidPriority     = fmt.Errorf("%w: invalid priority", ErrInvalidInput)
	ErrInvalidServiceType  = fmt.Errorf("%w: invalid service type", ErrInvalidInput)
	ErrInvalidVehicleClass = fmt.Errorf("%w: invalid vehicle class", ErrInvalidInput)
	ErrInvalidAmount       = fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	ErrInvalidFee          = fmt.Errorf("%w: platform fee must be between zero and the amount", ErrInvalidInput)
	ErrPriceOutOfBounds    = fmt.Errorf("%w: price outside allowed band", ErrInvalidInput)
	ErrMissingEstimate     = fmt.Errorf("%w: request has no estimated price", ErrInvalidInput)
	ErrNoSeller            = fmt.Errorf("%w: escrow needs a seller or an assigned driver", ErrInvalidInput)

	ErrNotRequester      = fmt.Errorf("%w: caller is not the requester", ErrForbidden)
	ErrNotAssignedDriver = fmt.Errorf("%w: driver is not assigned to this request", ErrForbidden)

	ErrRequestNotPending     = fmt.Errorf("%w: request is not pending", ErrStateConflict)
	ErrRequestNotAssigned    = fmt.Errorf("%w: request is not awaiting arrival", ErrStateConflict)
	ErrInvalidTransition     = fmt.Errorf("%w: transition not allowed", ErrStateConflict)
	ErrBiddingAlreadyOpen    = fmt.Errorf("%w: bidding already opened for this request", ErrStateConflict)
	ErrBiddingClosed         = fmt.Errorf("%w: bidding window is closed", ErrStateConflict)
	ErrOfferAlreadySubmitted = fmt.Errorf("%w: driver already has a pending offer", ErrStateConflict)
	ErrOfferExpired          = fmt.Errorf("%w: offer has expired", ErrStateConflict)
	ErrConcurrentUpdate      = fmt.Errorf("%w: record changed concurrently", ErrStateConflict)

	ErrTooEarly             = fmt.Errorf("%w: arrival confirmed too early", ErrPreconditionFailed)
	ErrTooFar               = fmt.Errorf("%w: too far from pickup", ErrPreconditionFailed)
	ErrInsufficientCredits  = fmt.Errorf("%w: no ride credits remaining", ErrPreconditionFailed)
	ErrNotEligibleToSettle  = fmt.Errorf("%w: request is not eligible for settlement", ErrPreconditionFailed)
	ErrMaxRoundsReached     = fmt.Errorf("%w: no more price raises allowed", ErrPreconditionFailed)
	ErrPriceCeilingReached  = fmt.Errorf("%w: proposed price already at the ceiling", ErrPreconditionFailed)
	ErrDriverUnavailable    = fmt.Errorf("%w: driver is no longer available", ErrPreconditionFailed)
	ErrDriverOutOfRange     = fmt.Errorf("%w: driver is outside the request's search radius", ErrPreconditionFailed)
	ErrFundingNotAuthorized = fmt.Errorf("%w: escrow funding could not be authorised", ErrPreconditionFailed)
)

// TooEarlyError reports how much longer the driver must wait before confirming arrival.
type TooEarlyError struct {
	Remaining time.Duration
}

// RemainingSeconds rounds the wait up to whole seconds.
func (e *TooEarlyError) RemainingSeconds() int {
	return int(math.Ceil(e.Remaining.Seconds()))
}

func (e *TooEarlyError) Error() string {
	return fmt.Sprintf("%s: wait %d more seconds", ErrTooEarly, e.RemainingSeconds())
}

func (e *TooEarlyError) Unwrap() error { return ErrTooEarly }

// TooFarError reports the measured distance to pickup.
type TooFarError struct {
	DistanceMeters float64
	MaxMeters      float64
}

func (e *TooFarError) Error() string {
	return fmt.Sprintf("%s: %.0fm away, must be within %.0fm", ErrTooFar, e.DistanceMeters, e.MaxMeters)
}

func (e *TooFarError) Unwrap() error { return ErrTooFar }

// InsufficientCreditsError reports the driver's balance.
type InsufficientCreditsError struct {
	Balance int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("%s: balance %d", ErrInsufficientCredits, e.Balance)
}

func (e *InsufficientCreditsError) Unwrap() error { return ErrInsufficientCredits }

// PriceOutOfBoundsError reports the rejected price and the allowed band.
type PriceOutOfBoundsError struct {
	Price int64
	Min   int64
	Max   int64
}

func (e *PriceOutOfBoundsError) Error() string {
	return fmt.Sprintf("%s: %d not in [%d, %d]", ErrPriceOutOfBounds, e.Price, e.Min, e.Max)
}

func (e *PriceOutOfBoundsError) Unwrap() error { return ErrPriceOutOfBounds }
