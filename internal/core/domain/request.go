package domain

import (
	"fmt"
	"time"
)

type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusRejected RequestStatus = "rejected"
)

var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestStatusPending: {RequestStatusApproved, RequestStatusRejected},
}

func (s RequestStatus) Valid() bool {
	switch s {
	case RequestStatusPending, RequestStatusApproved, RequestStatusRejected:
		return true
	}
	return false
}

func (s RequestStatus) Terminal() bool {
	return len(requestTransitions[s]) == 0
}

// CanTransition reports whether the transition table allows s -> next.
func (s RequestStatus) CanTransition(next RequestStatus) bool {
	for _, allowed := range requestTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Request struct {
	ID            string
	EmployeeID    string
	ItemID        string
	Quantity      int
	Reason        string
	Status        RequestStatus
	AdminResponse string
	DecidedBy     string
	CreatedAt     time.Time
	DecidedAt     *time.Time
}

// Decide returns a copy of r moved to outcome. The receiver is left untouched.
func (r Request) Decide(outcome RequestStatus, adminID, response string, at time.Time) (Request, error) {
	if !r.Status.CanTransition(outcome) {
		return r, fmt.Errorf("%w: request %s cannot move from %s to %s", ErrInvalidState, r.ID, r.Status, outcome)
	}
	r.Status = outcome
	r.DecidedBy = adminID
	r.AdminResponse = response
	r.DecidedAt = &at
	return r, nil
}
