package consultant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"ai_consultant/generator"
	"ai_consultant/logger"
	"ai_consultant/metrics"
	"ai_consultant/session"
)

const (
	refinementTrigger   = "user_refinement"
	additionalReqHeader = "\n\n**Additional Requirements:**\n"

	ErrCodeRefinementLimit = "refinement_limit_reached"
	refinementLimitMessage = "You've used all your refinements. Want unlimited refinements? Book a call!"

	summaryInitial     = "Initial report generated."
	summaryUnavailable = "Changes summary not available."

	DefaultCTAURL = "https://calendly.com/youragency/consultation"
)

// RefinementResult is returned by AddRefinement. A quota rejection is a
// result with Success false, not an error.
type RefinementResult struct {
	Success         bool              `json:"success"`
	UpdatedSections []session.Section `json:"updated_sections,omitempty"`
	ChangesSummary  string            `json:"changes_summary,omitempty"`
	NewVersion      int               `json:"new_version,omitempty"`
	RefinementsLeft int               `json:"refinements_left"`

	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	CTAURL  string `json:"cta_url,omitempty"`
}

// Manager runs refinement cycles: validate, update idea, classify, snapshot,
// regenerate, summarise, commit.
type Manager struct {
	store    session.Store
	agent    *generator.Agent
	pipeline *Pipeline
	log      *logger.Logger
	metrics  *metrics.Metrics
	ctaURL   string
	now      func() time.Time
}

func NewManager(store session.Store, agent *generator.Agent, pipeline *Pipeline, ctaURL string, log *logger.Logger, m *metrics.Metrics) *Manager {
	if ctaURL == "" {
		ctaURL = DefaultCTAURL
	}
	return &Manager{
		store:    store,
		agent:    agent,
		pipeline: pipeline,
		log:      componentLogger(log, "refinement"),
		metrics:  m,
		ctaURL:   ctaURL,
		now:      time.Now,
	}
}

// AddRefinement appends info to the idea and regenerates the sections it
// affects. The quota is spent only after regeneration succeeds; a
// regeneration error is returned as is with the version snapshot already
// recorded.
func (m *Manager) AddRefinement(ctx context.Context, sessionID, info string) (RefinementResult, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return RefinementResult{}, err
	}

	if !sess.CanRefine() {
		m.metrics.RecordRefinement("rejected")
		return RefinementResult{
			Success:         false,
			RefinementsLeft: 0,
			Error:           ErrCodeRefinementLimit,
			Message:         refinementLimitMessage,
			CTAURL:          m.ctaURL,
		}, nil
	}

	now := m.now().UTC()
	idea := sess.Idea + additionalReqHeader + info
	if err := m.store.UpdateIdea(ctx, sessionID, idea, session.RefinementRecord{Timestamp: now, AddedInfo: info}); err != nil {
		return RefinementResult{}, fmt.Errorf("update idea: %w", err)
	}

	affected := m.detectAffected(ctx, sessionID, info, sess.Context)

	version := session.Version{
		VersionNumber:   len(sess.Versions) + 1,
		CreatedAt:       now,
		Trigger:         refinementTrigger,
		ContextSnapshot: sess.Context,
		IdeaSnapshot:    idea,
	}
	if err := m.store.AppendVersion(ctx, sessionID, version); err != nil {
		return RefinementResult{}, fmt.Errorf("append version: %w", err)
	}

	sections := ExpandSections(affected)
	if _, err := m.pipeline.runSections(ctx, sessionID, idea, sections); err != nil {
		m.metrics.RecordRefinement("failed")
		return RefinementResult{}, fmt.Errorf("regenerate sections: %w", err)
	}

	summary := m.summarize(ctx, sessionID, append(sess.Versions, version))

	used, err := m.store.IncrementRefinements(ctx, sessionID)
	if err != nil {
		m.metrics.RecordRefinement("failed")
		return RefinementResult{}, fmt.Errorf("increment refinements: %w", err)
	}
	m.metrics.RecordRefinement("success")
	m.log.Info("refinement committed").
		Str("session_id", sessionID).
		Int("version", version.VersionNumber).
		Int("refinements_used", used).
		Interface("sections", sections).
		Send()

	return RefinementResult{
		Success:         true,
		UpdatedSections: sections,
		ChangesSummary:  summary,
		NewVersion:      version.VersionNumber + 1,
		RefinementsLeft: sess.RefinementsAllowed - (sess.RefinementsUsed + 1),
	}, nil
}

// detectAffected asks the model which sections the new information touches.
// Any failure degrades to requirement_gathering alone.
func (m *Manager) detectAffected(ctx context.Context, sessionID, info string, current session.Context) []session.Section {
	fallback := []session.Section{session.RequirementGathering}

	preview, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return fallback
	}
	secs, err := m.agent.ClassifyImpact(ctx, sessionID, info, generator.Truncate(string(preview), 500))
	if err != nil {
		m.log.Warn("impact analysis degraded").Str("session_id", sessionID).Err(err).Send()
		return fallback
	}
	return secs
}

// summarize describes what changed between the two most recent idea
// snapshots. Fewer than two versions yields a fixed literal.
func (m *Manager) summarize(ctx context.Context, sessionID string, versions []session.Version) string {
	if len(versions) < 2 {
		return summaryInitial
	}
	prev, cur := versions[len(versions)-2], versions[len(versions)-1]
	if prev.IdeaSnapshot == "" || cur.IdeaSnapshot == "" {
		return summaryUnavailable
	}

	out, err := m.agent.SummarizeChanges(ctx, sessionID, prev.IdeaSnapshot, cur.IdeaSnapshot, ideaDelta(prev.IdeaSnapshot, cur.IdeaSnapshot))
	if err != nil {
		m.log.Warn("change summary degraded").Str("session_id", sessionID).Err(err).Send()
		return summaryUnavailable
	}
	return out
}

// ideaDelta returns the text inserted between two idea versions.
func ideaDelta(oldIdea, newIdea string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldIdea, newIdea, false)

	var sb strings.Builder
	for _, d := range diffs {
		if d.Type == diffmatchpatch.DiffInsert {
			sb.WriteString(d.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}
