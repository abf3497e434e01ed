package consultant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ai_consultant/generator"
	"ai_consultant/logger"
	"ai_consultant/metrics"
	"ai_consultant/session"
)

// ReportMailer delivers the finished report to the lead. A nil receipt with
// a nil error means delivery was skipped.
type ReportMailer interface {
	SendReport(ctx context.Context, s *session.Session) (*session.EmailReceipt, error)
}

// SalesNotifier tells the sales team about a finished report.
type SalesNotifier interface {
	NotifySales(ctx context.Context, s *session.Session) error
}

// Pipeline generates report sections in dependency order.
type Pipeline struct {
	store   session.Store
	agent   *generator.Agent
	mailer  ReportMailer
	sales   SalesNotifier
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// PipelineOptions carries the optional collaborators of a Pipeline.
type PipelineOptions struct {
	Mailer  ReportMailer
	Sales   SalesNotifier
	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

func NewPipeline(store session.Store, agent *generator.Agent, opts PipelineOptions) *Pipeline {
	return &Pipeline{
		store:   store,
		agent:   agent,
		mailer:  opts.Mailer,
		sales:   opts.Sales,
		log:     componentLogger(opts.Logger, "pipeline"),
		metrics: opts.Metrics,
		now:     time.Now,
	}
}

// RunFull generates all four sections, marks the report complete and fires
// the terminal side effects. It returns the freshly generated context.
func (p *Pipeline) RunFull(ctx context.Context, sessionID string) (session.Context, error) {
	sess, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.Context{}, err
	}

	start := time.Now()
	out, err := p.runSections(ctx, sessionID, enhancedIdea(sess), session.Sections)
	if err != nil {
		return out, err
	}
	if err := p.store.SetStage(ctx, sessionID, session.StageReportComplete); err != nil {
		return out, fmt.Errorf("set stage: %w", err)
	}
	p.log.Info("full report generated").
		Str("session_id", sessionID).
		Dur("duration_ms", time.Since(start)).
		Send()

	p.finish(ctx, sessionID)
	return out, nil
}

// RunPreview generates only the requirements section. It sends nothing.
func (p *Pipeline) RunPreview(ctx context.Context, sessionID string) (string, error) {
	sess, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}

	out, err := p.runSections(ctx, sessionID, enhancedIdea(sess), []session.Section{session.RequirementGathering})
	if err != nil {
		return "", err
	}
	if sess.Stage.Before(session.StagePreviewGenerated) {
		if err := p.store.SetStage(ctx, sessionID, session.StagePreviewGenerated); err != nil {
			return "", fmt.Errorf("set stage: %w", err)
		}
	}
	return out.RequirementGathering, nil
}

// runSections generates secs in the given order. Each section is conditioned
// on the output of every section generated before it in this run, and is
// saved as soon as it is ready. The first failure aborts the run; sections
// already saved stay saved.
func (p *Pipeline) runSections(ctx context.Context, sessionID, idea string, secs []session.Section) (session.Context, error) {
	var out session.Context
	priors := make([]generator.PriorOutput, 0, len(secs))
	for _, sec := range secs {
		text, err := p.agent.GenerateSection(ctx, sessionID, sec, idea, priors)
		if err != nil {
			return out, err
		}
		if err := p.store.SaveSection(ctx, sessionID, sec, text, p.now().UTC()); err != nil {
			return out, fmt.Errorf("save %s: %w", sec, err)
		}
		out.Set(sec, text)
		priors = append(priors, generator.PriorOutput{Section: sec, Text: text})
		p.log.Debug("section saved").
			Str("session_id", sessionID).
			Str("section", string(sec)).
			Int("progress", sec.Progress()).
			Send()
	}
	return out, nil
}

// finish runs each side effect in its own failure boundary. Nothing here can
// fail the pipeline.
func (p *Pipeline) finish(ctx context.Context, sessionID string) {
	sess, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		p.log.Warn("reload session for side effects").Str("session_id", sessionID).Err(err).Send()
		return
	}

	if p.mailer != nil {
		p.sideEffect(ctx, "report_email", sessionID, func(ctx context.Context) error {
			receipt, err := p.mailer.SendReport(ctx, sess)
			if err != nil || receipt == nil {
				return err
			}
			return p.store.MarkEmailSent(ctx, sessionID, *receipt)
		})
	}
	if p.sales != nil {
		p.sideEffect(ctx, "sales_notification", sessionID, func(ctx context.Context) error {
			return p.sales.NotifySales(ctx, sess)
		})
	}
}

func (p *Pipeline) sideEffect(ctx context.Context, name, sessionID string, fn func(context.Context) error) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		p.metrics.RecordSideEffect(name, err)
		if err != nil {
			p.log.Warn("side effect failed").
				Str("effect", name).
				Str("session_id", sessionID).
				Err(err).
				Send()
		}
	}()
	err = fn(ctx)
}

// enhancedIdea appends the role-tagged transcript to the idea.
func enhancedIdea(s *session.Session) string {
	lines := make([]string, 0, len(s.ConversationHistory))
	for _, m := range s.ConversationHistory {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	return s.Idea + "\n\nConversation Context:\n" + strings.Join(lines, "\n")
}
