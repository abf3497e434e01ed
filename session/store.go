// Package session holds the persistent state of a user journey and the
// stores that keep it.
package session

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound            = errors.New("session not found")
	ErrLeadNotFound        = errors.New("lead not found")
	ErrLeadAlreadyCaptured = errors.New("lead already captured for this session")
)

// Store is a document store keyed by session id (and lead id for leads).
// Every method is an independent point update, atomic at the level of a
// single document.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)

	AppendMessage(ctx context.Context, id string, m Message) error
	SetStage(ctx context.Context, id string, stage Stage) error
	// SaveSection writes one section, moves current_stage and
	// progress_percentage, and appends to context_history.
	SaveSection(ctx context.Context, id string, sec Section, content string, at time.Time) error
	UpdateIdea(ctx context.Context, id, idea string, rec RefinementRecord) error
	AppendVersion(ctx context.Context, id string, v Version) error
	// IncrementRefinements adds exactly one to refinements_used and returns
	// the new value.
	IncrementRefinements(ctx context.Context, id string) (int, error)
	// MarkLeadCaptured flips lead_captured once; a second call returns
	// ErrLeadAlreadyCaptured without changing anything.
	MarkLeadCaptured(ctx context.Context, id string, c LeadCapture) error
	MarkEmailSent(ctx context.Context, id string, r EmailReceipt) error

	CreateLead(ctx context.Context, l *Lead) error
	GetLead(ctx context.Context, leadID string) (*Lead, error)
	UpdateLeadStatus(ctx context.Context, leadID string, status LeadStatus) error
	AppendLeadNote(ctx context.Context, leadID string, note LeadNote) error
	// TopLeads returns leads ordered by score descending.
	TopLeads(ctx context.Context, limit int) ([]Lead, error)
	// LeadStats counts leads scoring at least highScore as high quality.
	LeadStats(ctx context.Context, highScore int) (LeadStats, error)

	Ping(ctx context.Context) error
	Close() error
}
