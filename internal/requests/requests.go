// Package requests exposes the slice of help-request data the payment and
// reputation flows depend on. Request CRUD lives elsewhere; this package reads
// requests and performs the status writes that settlement drives.
package requests

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("help request not found")

// Status is the lifecycle state of a help request.
type Status string

const (
	StatusOpen       Status = "open"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// FastResponseWindow is how quickly a helper must accept for the acceptance
// to count as a fast response.
const FastResponseWindow = time.Hour

// HelpRequest is a neighbor's request for help.
type HelpRequest struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	RequesterID string     `json:"requesterId"`
	HelperID    string     `json:"helperId,omitempty"`
	CommunityID string     `json:"communityId,omitempty"`
	Status      Status     `json:"status"`
	Attachments []string   `json:"attachments"`
	AcceptedAt  *time.Time `json:"acceptedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// IsParty reports whether userID is the requester or the assigned helper.
func (r *HelpRequest) IsParty(userID string) bool {
	return userID != "" && (r.RequesterID == userID || r.HelperID == userID)
}

// HelperStats summarizes a user's record as a helper.
type HelperStats struct {
	Completed     int // requests they helped complete
	Assigned      int // requests ever assigned to them (open ones excluded)
	FastResponses int // acceptances within FastResponseWindow of posting
}

// StatusWriter moves a request to a new status. The ledger uses it to keep
// request state in step with escrow transitions.
type StatusWriter interface {
	SetStatus(ctx context.Context, id string, status Status, at time.Time) error
}

// Store reads help requests and applies settlement-driven status changes.
type Store interface {
	StatusWriter
	Get(ctx context.Context, id string) (*HelpRequest, error)
	GetMany(ctx context.Context, ids []string) (map[string]*HelpRequest, error)
	MarkCompleted(ctx context.Context, id, proof string, at time.Time) (*HelpRequest, error)
	HelperStats(ctx context.Context, userID string) (HelperStats, error)
	CountCompletedAsRequester(ctx context.Context, userID string) (int, error)
	CompletedHelpsByUser(ctx context.Context, userIDs []string) (map[string]int, error)
}

func isFast(r *HelpRequest) bool {
	return r.AcceptedAt != nil && r.AcceptedAt.Sub(r.CreatedAt) <= FastResponseWindow
}
