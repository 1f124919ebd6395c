// Package feedback provides the domain model for client feedback about agents:
// persisted records, star-rating conversion, aggregate statistics and the
// public JSON export view.
package feedback

import (
	"errors"
	"fmt"
	"time"
)

// Star-rating bounds accepted from clients. Stored ratings are on a 0-100 scale.
const (
	MinStars    = 1
	MaxStars    = 5
	StarScale   = 20
	MaxRating   = MaxStars * StarScale
	StatusOK    = "ok"
	StatusError = "error"
)

// Record is a persisted feedback entry. ID and CreatedAt are assigned by the store.
type Record struct {
	ID             int64     `json:"id"`
	FeedbackAuthID string    `json:"feedbackAuthId"`
	AuthIDSource   string    `json:"authIdSource,omitempty"`
	AgentSkillID   string    `json:"agentSkillId"`
	TaskID         string    `json:"taskId"`
	ContextID      string    `json:"contextId"`
	Rating         int       `json:"rating"`
	Domain         string    `json:"domain"`
	Notes          string    `json:"notes"`
	ProofOfPayment string    `json:"proofOfPayment,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Validate checks a record before it is handed to a store.
func (r *Record) Validate() error {
	if r.Domain == "" {
		return errors.New("domain is required")
	}
	if r.Rating < 0 || r.Rating > MaxRating {
		return fmt.Errorf("rating %d outside 0-%d", r.Rating, MaxRating)
	}
	return nil
}

// ScaleRating converts a 1-5 star rating to the stored 0-100 scale.
func ScaleRating(stars int) (int, error) {
	if stars < MinStars || stars > MaxStars {
		return 0, fmt.Errorf("rating %d must be between %d and %d", stars, MinStars, MaxStars)
	}
	return stars * StarScale, nil
}

// SubmitRequest is a client's feedback about a server agent.
type SubmitRequest struct {
	Rating         int    `json:"rating"` // 1-5 stars
	Domain         string `json:"domain"`
	Notes          string `json:"notes"`
	AgentSkillID   string `json:"agentSkillId"`
	TaskID         string `json:"taskId"`
	ContextID      string `json:"contextId"`
	FeedbackAuthID string `json:"feedbackAuthId,omitempty"` // pre-supplied authorization
	ProofOfPayment string `json:"proofOfPayment,omitempty"`
	ClientAgentID  string `json:"clientAgentId,omitempty"` // decimal uint256
	ServerAgentID  string `json:"serverAgentId,omitempty"` // decimal uint256
	ClientAddress  string `json:"clientAddress,omitempty"`
}

// Validate checks the request fields that do not need the chain.
func (r *SubmitRequest) Validate() error {
	if _, err := ScaleRating(r.Rating); err != nil {
		return err
	}
	if r.Domain == "" {
		return errors.New("domain is required")
	}
	return nil
}

// SubmitResult is returned to clients. Status is StatusOK or StatusError.
type SubmitResult struct {
	Status         string `json:"status"`
	ID             int64  `json:"id,omitempty"`
	Rating         int    `json:"rating,omitempty"`
	FeedbackAuthID string `json:"feedbackAuthId,omitempty"`
	AuthIDSource   string `json:"authIdSource,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Failed builds an error result.
func Failed(err error) SubmitResult {
	return SubmitResult{Status: StatusError, Error: err.Error()}
}
