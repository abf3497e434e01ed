// Package consultant implements the report funnel: the requirements
// conversation, the section pipeline, bounded refinement, lead capture and
// scoring, and the read models served to the transport.
package consultant

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"ai_consultant/generator"
	"ai_consultant/logger"
	"ai_consultant/metrics"
	"ai_consultant/session"
)

const (
	NextContinueConversation = "continue_conversation"
	NextPreviewReady         = "preview_ready"
	NextRequestEmail         = "request_email_for_full_report"

	StatusGenerating     = "generating"
	StatusReportComplete = "report_complete"
)

// ReportRenderer turns a finished session into a downloadable document.
type ReportRenderer interface {
	RenderReport(s *session.Session) ([]byte, error)
}

// Options configures a Service. Zero values select defaults.
type Options struct {
	RefinementsAllowed int
	CTAURL             string
	Mailer             ReportMailer
	Sales              SalesNotifier
	Renderer           ReportRenderer
	Logger             *logger.Logger
	Metrics            *metrics.Metrics
	// Pick selects social proof entries; nil means random.
	Pick func(n int) int
}

// Service is the function surface the transport calls. Operations that
// mutate a session run under that session's lock; reads do not lock.
type Service struct {
	store    session.Store
	locks    *session.Locker
	engine   *Engine
	pipeline *Pipeline
	manager  *Manager
	tracker  *Tracker
	renderer ReportRenderer
	log      *logger.Logger
	metrics  *metrics.Metrics

	refinementsAllowed int
	now                func() time.Time
	newID              func() string
}

func NewService(store session.Store, agent *generator.Agent, opts Options) (*Service, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if agent == nil {
		return nil, errors.New("generator agent is required")
	}
	tracker, err := NewTracker(store, opts.Pick)
	if err != nil {
		return nil, fmt.Errorf("load social proof: %w", err)
	}
	allowed := opts.RefinementsAllowed
	if allowed <= 0 {
		allowed = session.DefaultRefinementsAllowed
	}

	pipeline := NewPipeline(store, agent, PipelineOptions{
		Mailer:  opts.Mailer,
		Sales:   opts.Sales,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	})
	return &Service{
		store:              store,
		locks:              session.NewLocker(),
		engine:             NewEngine(store, agent, opts.Logger),
		pipeline:           pipeline,
		manager:            NewManager(store, agent, pipeline, opts.CTAURL, opts.Logger, opts.Metrics),
		tracker:            tracker,
		renderer:           opts.Renderer,
		log:                componentLogger(opts.Logger, "service"),
		metrics:            opts.Metrics,
		refinementsAllowed: allowed,
		now:                time.Now,
		newID:              uuid.NewString,
	}, nil
}

func componentLogger(l *logger.Logger, name string) *logger.Logger {
	if l == nil {
		l = logger.Nop()
	}
	return l.With(name)
}

func nextStep(complete bool) string {
	if complete {
		return NextPreviewReady
	}
	return NextContinueConversation
}

// CreateSession stores a fresh session and returns its id.
func (s *Service) CreateSession(ctx context.Context, userID, idea string) (string, error) {
	sess := session.New(s.newID(), userID, idea, s.refinementsAllowed, s.now().UTC())
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	s.log.Info("session created").Str("session_id", sess.ID).Str("user_id", userID).Send()
	return sess.ID, nil
}

type StartResult struct {
	SessionID            string `json:"session_id"`
	AgentResponse        string `json:"agent_response"`
	RequirementsComplete bool   `json:"requirements_complete"`
	NextStep             string `json:"next_step"`
}

// StartConversation creates a session and sends the idea as the first user
// message.
func (s *Service) StartConversation(ctx context.Context, userID, idea string) (StartResult, error) {
	id, err := s.CreateSession(ctx, userID, idea)
	if err != nil {
		return StartResult{}, err
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	turn, err := s.engine.Advance(ctx, id, idea)
	if err != nil {
		return StartResult{SessionID: id}, err
	}
	return StartResult{
		SessionID:            id,
		AgentResponse:        turn.Response,
		RequirementsComplete: turn.RequirementsComplete,
		NextStep:             nextStep(turn.RequirementsComplete),
	}, nil
}

type ContinueResult struct {
	SessionID            string `json:"session_id"`
	AgentResponse        string `json:"agent_response"`
	RequirementsComplete bool   `json:"requirements_complete"`
	ConversationCount    int    `json:"conversation_count"`
	NextStep             string `json:"next_step"`
}

func (s *Service) ContinueConversation(ctx context.Context, sessionID, message string) (ContinueResult, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	turn, err := s.engine.Advance(ctx, sessionID, message)
	if err != nil {
		return ContinueResult{}, err
	}
	return ContinueResult{
		SessionID:            sessionID,
		AgentResponse:        turn.Response,
		RequirementsComplete: turn.RequirementsComplete,
		ConversationCount:    turn.UserTurns,
		NextStep:             nextStep(turn.RequirementsComplete),
	}, nil
}

type PreviewResult struct {
	SessionID            string `json:"session_id"`
	Preview              string `json:"preview"`
	FullPreviewAvailable bool   `json:"full_preview_available"`
	NextStep             string `json:"next_step"`
}

// GeneratePreviewReport writes the requirements section and returns a teaser
// of it.
func (s *Service) GeneratePreviewReport(ctx context.Context, sessionID string) (PreviewResult, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	text, err := s.pipeline.RunPreview(ctx, sessionID)
	if err != nil {
		return PreviewResult{}, err
	}
	return PreviewResult{
		SessionID:            sessionID,
		Preview:              generator.Truncate(text, 500) + "...",
		FullPreviewAvailable: true,
		NextStep:             NextRequestEmail,
	}, nil
}

// CaptureLead scores the session, records the lead and marks the session
// captured. A second capture fails with ErrLeadAlreadyCaptured and changes
// nothing.
func (s *Service) CaptureLead(ctx context.Context, sessionID, email, name, phone string) (string, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()
	return s.captureLocked(ctx, sessionID, email, name, phone)
}

func (s *Service) captureLocked(ctx context.Context, sessionID, email, name, phone string) (string, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if sess.LeadCaptured {
		return "", ErrLeadAlreadyCaptured
	}

	now := s.now().UTC()
	score := ScoreLead(sess)
	lead := &session.Lead{
		LeadID:              s.newID(),
		SessionID:           sessionID,
		Email:               email,
		Name:                name,
		Phone:               phone,
		CapturedAt:          now,
		Idea:                sess.Idea,
		ConversationHistory: sess.ConversationHistory,
		LeadScore:           score,
		Status:              session.LeadNew,
		Notes:               []session.LeadNote{},
	}
	if err := s.store.CreateLead(ctx, lead); err != nil {
		return "", fmt.Errorf("create lead: %w", err)
	}
	if err := s.store.MarkLeadCaptured(ctx, sessionID, session.LeadCapture{Email: email, Name: name, Score: score, At: now}); err != nil {
		return "", err
	}

	s.metrics.RecordLeadCaptured()
	s.log.Info("lead captured").
		Str("session_id", sessionID).
		Str("lead_id", lead.LeadID).
		Int("lead_score", score).
		Send()
	return lead.LeadID, nil
}

// GenerateFullReport runs the full pipeline for a session. It blocks for the
// whole run and is usually dispatched as a background job.
func (s *Service) GenerateFullReport(ctx context.Context, sessionID string) (session.Context, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()
	return s.pipeline.RunFull(ctx, sessionID)
}

type FullReportResult struct {
	SessionID       string          `json:"session_id"`
	LeadID          string          `json:"lead_id"`
	Status          string          `json:"status"`
	EmailSent       bool            `json:"email_sent"`
	Context         session.Context `json:"context"`
	RefinementsLeft int             `json:"refinements_left"`
}

// SubmitLeadAndGenerateFullReport captures the lead and generates the full
// report in one blocking call.
func (s *Service) SubmitLeadAndGenerateFullReport(ctx context.Context, sessionID, email, name, phone string) (FullReportResult, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	leadID, err := s.captureLocked(ctx, sessionID, email, name, phone)
	if err != nil {
		return FullReportResult{}, err
	}
	out, err := s.pipeline.RunFull(ctx, sessionID)
	if err != nil {
		return FullReportResult{SessionID: sessionID, LeadID: leadID}, err
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return FullReportResult{}, err
	}
	return FullReportResult{
		SessionID:       sessionID,
		LeadID:          leadID,
		Status:          StatusReportComplete,
		EmailSent:       sess.ReportEmailSent,
		Context:         out,
		RefinementsLeft: sess.RefinementsLeft(),
	}, nil
}

// RefineReport runs one refinement cycle. Refinement is only offered once
// the lead is captured.
func (s *Service) RefineReport(ctx context.Context, sessionID, info string) (RefinementResult, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return RefinementResult{}, err
	}
	if !sess.LeadCaptured {
		return RefinementResult{}, ErrLeadNotCaptured
	}
	return s.manager.AddRefinement(ctx, sessionID, info)
}

type SessionReport struct {
	SessionID       string            `json:"session_id"`
	Idea            string            `json:"idea"`
	Stage           session.Stage     `json:"stage"`
	Context         session.Context   `json:"context"`
	LeadCaptured    bool              `json:"lead_captured"`
	RefinementsLeft int               `json:"refinements_left"`
	LeadScore       int               `json:"lead_score"`
	Versions        []session.Version `json:"versions"`
}

func (s *Service) GetSessionReport(ctx context.Context, sessionID string) (SessionReport, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return SessionReport{}, err
	}
	return SessionReport{
		SessionID:       sess.ID,
		Idea:            sess.Idea,
		Stage:           sess.Stage,
		Context:         sess.Context,
		LeadCaptured:    sess.LeadCaptured,
		RefinementsLeft: sess.RefinementsAllowed - sess.RefinementsUsed,
		LeadScore:       sess.LeadScore,
		Versions:        sess.Versions,
	}, nil
}

func (s *Service) GetProgress(ctx context.Context, sessionID string) (Progress, error) {
	return s.tracker.Progress(ctx, sessionID)
}

func (s *Service) GetSocialProof() SocialProof {
	return s.tracker.SocialProof()
}

// GetFullSession returns the whole stored document.
func (s *Service) GetFullSession(ctx context.Context, sessionID string) (*session.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

type LeadAnalytics struct {
	TotalLeads       int     `json:"total_leads"`
	HighQualityLeads int     `json:"high_quality_leads"`
	AverageLeadScore float64 `json:"average_lead_score"`
	ConversionRate   float64 `json:"conversion_rate"`
}

func (s *Service) GetLeadAnalytics(ctx context.Context) (LeadAnalytics, error) {
	st, err := s.store.LeadStats(ctx, HighQualityScore)
	if err != nil {
		return LeadAnalytics{}, fmt.Errorf("lead stats: %w", err)
	}
	out := LeadAnalytics{
		TotalLeads:       st.Total,
		HighQualityLeads: st.HighQuality,
		AverageLeadScore: round2(st.AverageScore),
	}
	if st.Total > 0 {
		out.ConversionRate = round2(float64(st.HighQuality) / float64(st.Total) * 100)
	}
	return out, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

type LeadSummary struct {
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Score      int       `json:"score"`
	Idea       string    `json:"idea"`
	CapturedAt time.Time `json:"captured_at"`
}

const DefaultTopLeads = 10

func (s *Service) GetTopLeads(ctx context.Context, limit int) ([]LeadSummary, error) {
	if limit <= 0 {
		limit = DefaultTopLeads
	}
	leads, err := s.store.TopLeads(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("top leads: %w", err)
	}
	out := make([]LeadSummary, 0, len(leads))
	for _, l := range leads {
		out = append(out, LeadSummary{
			Name:       l.Name,
			Email:      l.Email,
			Score:      l.LeadScore,
			Idea:       generator.Truncate(l.Idea, 100) + "...",
			CapturedAt: l.CapturedAt,
		})
	}
	return out, nil
}

func (s *Service) GetLead(ctx context.Context, leadID string) (*session.Lead, error) {
	return s.store.GetLead(ctx, leadID)
}

func (s *Service) UpdateLeadStatus(ctx context.Context, leadID, status string) error {
	st, ok := session.ParseLeadStatus(status)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidLeadStatus, status)
	}
	return s.store.UpdateLeadStatus(ctx, leadID, st)
}

func (s *Service) AddLeadNote(ctx context.Context, leadID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("note text is required")
	}
	return s.store.AppendLeadNote(ctx, leadID, session.LeadNote{Text: text, CreatedAt: s.now().UTC()})
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ExportReport renders the finished report. The business strategy section
// must exist.
func (s *Service) ExportReport(ctx context.Context, sessionID string) ([]byte, error) {
	if s.renderer == nil {
		return nil, errors.New("no report renderer configured")
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Context.BusinessStrategy == "" {
		return nil, ErrReportIncomplete
	}
	return s.renderer.RenderReport(sess)
}
