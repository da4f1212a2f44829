package types

import "time"

// RequestStatus represents the lifecycle state of a role-change request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// RoleChangeRequest records a principal's request to be assigned a
// different role. At most one request exists per requester; a new request
// overwrites the prior one regardless of its status.
type RoleChangeRequest struct {
	Requester     Principal     `json:"requester" db:"requester"`
	RequestedRole Role          `json:"requested_role" db:"requested_role"`
	RequestedAt   time.Time     `json:"requested_at" db:"requested_at"`
	Status        RequestStatus `json:"status" db:"status"`
}

// UserProfile holds the self-maintained directory entry for a principal.
// It persists through role changes.
type UserProfile struct {
	Principal      Principal `json:"principal" db:"principal"`
	Name           string    `json:"name" db:"name"`
	Specialization string    `json:"specialization" db:"specialization"`
	Institution    string    `json:"institution" db:"institution"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}
