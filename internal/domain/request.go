package domain

import "time"

// RequestStatus represents the lifecycle state of a request.
type RequestStatus string

const (
	RequestStatusPending           RequestStatus = "pending"
	RequestStatusDriverAssigned    RequestStatus = "driver_assigned"
	RequestStatusNoDriverAvailable RequestStatus = "no_driver_available"
	RequestStatusDriverArrived     RequestStatus = "driver_arrived"
	RequestStatusInProgress        RequestStatus = "in_progress"
	RequestStatusDelivered         RequestStatus = "delivered"
	RequestStatusCompleted         RequestStatus = "completed"
	RequestStatusCancelled         RequestStatus = "cancelled"
)

// AllowedTransitions lists every legal status change of a request.
var AllowedTransitions = map[RequestStatus][]RequestStatus{
	RequestStatusPending:           {RequestStatusDriverAssigned, RequestStatusNoDriverAvailable, RequestStatusCancelled},
	RequestStatusNoDriverAvailable: {RequestStatusPending, RequestStatusCancelled},
	RequestStatusDriverAssigned:    {RequestStatusDriverArrived, RequestStatusPending, RequestStatusCancelled},
	RequestStatusDriverArrived:     {RequestStatusInProgress, RequestStatusCancelled},
	RequestStatusInProgress:        {RequestStatusDelivered, RequestStatusCompleted},
	RequestStatusDelivered:         {RequestStatusCompleted},
}

// CanTransition reports whether a request may move from one status to another.
func CanTransition(from, to RequestStatus) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SettlementEligible reports whether escrow may be released for a request in this status.
func (s RequestStatus) SettlementEligible() bool {
	return s == RequestStatusDelivered || s == RequestStatusCompleted
}

// ServiceType identifies the kind of transport being requested.
type ServiceType string

const (
	ServiceTypeTaxi     ServiceType = "taxi"
	ServiceTypeMoto     ServiceType = "moto"
	ServiceTypeDelivery ServiceType = "delivery"
)

// Valid reports whether the service type is known.
func (t ServiceType) Valid() bool {
	switch t {
	case ServiceTypeTaxi, ServiceTypeMoto, ServiceTypeDelivery:
		return true
	}
	return false
}

// CreditGated reports whether drivers need ride credits to serve this type.
func (t ServiceType) CreditGated() bool {
	return t == ServiceTypeTaxi || t == ServiceTypeMoto
}

// CompletedStatus is the status a finished trip of this type lands in.
func (t ServiceType) CompletedStatus() RequestStatus {
	if t == ServiceTypeDelivery {
		return RequestStatusDelivered
	}
	return RequestStatusCompleted
}

// Priority controls search radius, score boost and retry backoff.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether the priority is known.
func (p Priority) Valid() bool {
	return p == PriorityNormal || p == PriorityHigh || p == PriorityUrgent
}

// ScoreMultiplier is applied to a candidate's base score.
func (p Priority) ScoreMultiplier() float64 {
	switch p {
	case PriorityHigh:
		return 1.2
	case PriorityUrgent:
		return 1.3
	default:
		return 1.0
	}
}

// Request is a ride or delivery order awaiting or undergoing driver assignment.
type Request struct {
	ID             string
	RequesterID    string
	Pickup         Point
	Destination    *Point
	ServiceType    ServiceType
	VehicleClass   VehicleClass
	Priority       Priority
	Status         RequestStatus
	DriverID       string
	EstimatedPrice int64
	AgreedPrice    int64
	Currency       string
	CreatedAt      time.Time
	AssignedAt     time.Time
	ArrivedAt      time.Time
	CompletedAt    time.Time
	CancelledAt    time.Time
	CancelReason   string
}
