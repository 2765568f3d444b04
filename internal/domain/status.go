package domain

import "fmt"

type Status string

const (
	StatusPending            Status = "pending"
	StatusConfirmed          Status = "confirmed"
	StatusProcessing         Status = "processing"
	StatusShipped            Status = "shipped"
	StatusAtStation          Status = "at_station"
	StatusReachedDestination Status = "reached_destination"
	StatusDelivered          Status = "delivered"
	StatusCancelled          Status = "cancelled"
	StatusDenied             Status = "denied"
)

var pipeline = []Status{
	StatusPending,
	StatusConfirmed,
	StatusProcessing,
	StatusShipped,
	StatusAtStation,
	StatusReachedDestination,
	StatusDelivered,
}

// AllowedTransitions lists the structurally valid status pairs for an order
// line. Which actor may take each edge is decided by the order service.
// Every non-terminal status can reach delivered and cancelled so that admins
// can override; denied is only reachable while the line awaits the seller.
var AllowedTransitions = map[Status][]Status{
	StatusPending:            {StatusConfirmed, StatusDenied, StatusCancelled, StatusDelivered},
	StatusConfirmed:          {StatusProcessing, StatusShipped, StatusCancelled, StatusDelivered},
	StatusProcessing:         {StatusShipped, StatusCancelled, StatusDelivered},
	StatusShipped:            {StatusAtStation, StatusReachedDestination, StatusCancelled, StatusDelivered},
	StatusAtStation:          {StatusReachedDestination, StatusCancelled, StatusDelivered},
	StatusReachedDestination: {StatusDelivered, StatusCancelled},
}

var allowedTransitionSet = buildTransitionSet(AllowedTransitions)

func buildTransitionSet(transitions map[Status][]Status) map[Status]map[Status]struct{} {
	set := make(map[Status]map[Status]struct{}, len(transitions))
	for from, tos := range transitions {
		next := make(map[Status]struct{}, len(tos))
		for _, to := range tos {
			next[to] = struct{}{}
		}
		set[from] = next
	}
	return set
}

// Normalize maps the unset status of legacy rows to pending.
func (s Status) Normalize() Status {
	if s == "" {
		return StatusPending
	}
	return s
}

func (s Status) Valid() bool {
	switch s {
	case StatusCancelled, StatusDenied:
		return true
	}
	return s.Rank() >= 0
}

func (s Status) Terminal() bool {
	switch s.Normalize() {
	case StatusDelivered, StatusCancelled, StatusDenied:
		return true
	}
	return false
}

// Rank is the position of s along the fulfilment pipeline, or -1 for the
// cancelled and denied off-ramps.
func (s Status) Rank() int {
	s = s.Normalize()
	for i, p := range pipeline {
		if p == s {
			return i
		}
	}
	return -1
}

func CanTransition(from, to Status) bool {
	next, ok := allowedTransitionSet[from.Normalize()]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// CheckTransition returns a *TransitionError unless at least one of the
// given sources may move to `to`; `from` is the current status.
func CheckTransition(from, to Status, accepted ...Status) error {
	from = from.Normalize()
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	if len(accepted) == 0 {
		return nil
	}
	for _, s := range accepted {
		if s == from {
			return nil
		}
	}
	return &TransitionError{From: from, To: to}
}

// Rollup derives the order status from its lines.
func Rollup(items []OrderItem) Status {
	var (
		lowest    Status
		anyDenied bool
		active    int
	)
	for _, item := range items {
		s := item.Status.Normalize()
		switch s {
		case StatusDenied:
			anyDenied = true
			continue
		case StatusCancelled:
			continue
		}
		active++
		if lowest == "" || s.Rank() < lowest.Rank() {
			lowest = s
		}
	}
	if active == 0 {
		if anyDenied {
			return StatusDenied
		}
		return StatusCancelled
	}
	return lowest
}

func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}
