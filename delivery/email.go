package delivery

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"ai_consultant/generator"
	"ai_consultant/logger"
	"ai_consultant/session"
)

// ComplexityTier buckets a lead score for the email copy.
func ComplexityTier(score int) string {
	switch {
	case score >= 70:
		return "high"
	case score >= 40:
		return "medium"
	default:
		return "standard"
	}
}

// IdeaFeatures lists the headline features mentioned in an idea.
func IdeaFeatures(idea string) []string {
	lower := strings.ToLower(idea)
	var out []string
	if strings.Contains(lower, "video") {
		out = append(out, "video generation")
	}
	if strings.Contains(lower, "automat") || strings.Contains(lower, "workflow") {
		out = append(out, "automation")
	}
	if strings.Contains(lower, "chat") || strings.Contains(lower, "conversation") {
		out = append(out, "conversational AI")
	}
	return out
}

type EmailContent struct {
	Subject string
	HTML    string
}

// Composer writes the report email. The model is asked for a personalised
// intro; without one, or when it fails, a fixed intro is used.
type Composer struct {
	agent  *generator.Agent
	ctaURL string
	log    *logger.Logger
}

func NewComposer(agent *generator.Agent, ctaURL string, log *logger.Logger) *Composer {
	if log == nil {
		log = logger.Nop()
	}
	return &Composer{agent: agent, ctaURL: ctaURL, log: log.With("email")}
}

type emailPage struct {
	Name        string
	Intro       string
	IdeaSummary string
	Features    string
	Complexity  string
	CTAURL      string
}

var emailTmpl = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<body style="font-family:Arial,sans-serif;line-height:1.6;color:#333;">
<div style="max-width:600px;margin:0 auto;padding:20px;">
<div style="background:#2563eb;color:white;padding:30px;text-align:center;border-radius:10px 10px 0 0;">
<h1 style="margin:0;">Your AI Agent Report is Ready!</h1>
</div>
<div style="background:#ffffff;padding:30px;border:1px solid #e5e7eb;">
<p>Hi {{.Name}},</p>
<p>{{.Intro}}</p>
<p>We've completed the analysis of your idea: <strong>{{.IdeaSummary}}</strong></p>
<p>Your complete strategic report is attached to this email.</p>
<div style="background:#f0f9ff;border-left:4px solid #3b82f6;padding:15px;margin:15px 0;">
<strong>What's inside:</strong>
<ul>
<li>Complete Requirements Analysis</li>
<li>Technical Architecture Blueprint</li>
<li>UX Design Framework &amp; User Flows</li>
<li>Business Model &amp; Pricing Strategy</li>
</ul>
<p style="margin:0;">Project profile: {{.Complexity}} complexity, {{.Features}}.</p>
</div>
<p><strong>Next steps:</strong> ready to bring this to life? Let's discuss how we can build it for you.</p>
<div style="text-align:center;">
<a href="{{.CTAURL}}" style="display:inline-block;background:#3b82f6;color:white;padding:12px 30px;text-decoration:none;border-radius:6px;margin:20px 0;">Schedule Free Consultation</a>
</div>
<p style="margin-top:30px;color:#6b7280;font-size:14px;">Have questions about the report? Just reply to this email.</p>
</div>
</div>
</body>
</html>
`))

const defaultIntro = "Thanks for walking us through your idea. Our team of AI specialists has turned it into a full blueprint."

func (c *Composer) Compose(ctx context.Context, s *session.Session) (EmailContent, error) {
	name := s.LeadName
	if name == "" {
		name = "there"
	}
	features := IdeaFeatures(s.Idea)
	complexity := ComplexityTier(s.LeadScore)

	intro := defaultIntro
	if c.agent != nil {
		out, err := c.agent.WriteEmailIntro(ctx, s.ID, generator.EmailBrief{
			Name:       name,
			Idea:       s.Idea,
			Complexity: complexity,
			Features:   features,
			Highlights: map[session.Section]string{
				session.RequirementGathering:  generator.Truncate(s.Context.RequirementGathering, 500),
				session.TechnicalArchitecture: generator.Truncate(s.Context.TechnicalArchitecture, 500),
				session.BusinessStrategy:      generator.Truncate(s.Context.BusinessStrategy, 500),
			},
		})
		if err != nil {
			c.log.Warn("email intro fell back to default").Str("session_id", s.ID).Err(err).Send()
		} else {
			intro = out
		}
	}

	summary := s.Idea
	if len(summary) > 100 {
		summary = generator.Truncate(summary, 100) + "..."
	}
	featureText := "custom AI agent"
	if len(features) > 0 {
		featureText = strings.Join(features, ", ")
	}

	var buf bytes.Buffer
	err := emailTmpl.Execute(&buf, emailPage{
		Name:        name,
		Intro:       intro,
		IdeaSummary: summary,
		Features:    featureText,
		Complexity:  complexity,
		CTAURL:      c.ctaURL,
	})
	if err != nil {
		return EmailContent{}, err
	}
	return EmailContent{
		Subject: fmt.Sprintf("Your AI Agent Report is Ready, %s!", name),
		HTML:    buf.String(),
	}, nil
}

// ReportSender emails the finished report to the lead with the rendered
// report attached.
type ReportSender struct {
	mailer   Mailer
	composer *Composer
	renderer *Renderer
	from     string
	log      *logger.Logger
	now      func() time.Time
}

// NewReportSender returns a sender. A nil mailer makes every send a logged
// no-op.
func NewReportSender(mailer Mailer, composer *Composer, renderer *Renderer, from string, log *logger.Logger) *ReportSender {
	if log == nil {
		log = logger.Nop()
	}
	return &ReportSender{
		mailer:   mailer,
		composer: composer,
		renderer: renderer,
		from:     from,
		log:      log.With("report_email"),
		now:      time.Now,
	}
}

func (r *ReportSender) SendReport(ctx context.Context, s *session.Session) (*session.EmailReceipt, error) {
	if r.mailer == nil {
		r.log.Warn("no mailer configured, skipping report email").Str("session_id", s.ID).Send()
		return nil, nil
	}
	if s.LeadEmail == "" {
		r.log.Warn("no lead email, skipping report email").Str("session_id", s.ID).Send()
		return nil, nil
	}

	content, err := r.composer.Compose(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("compose email: %w", err)
	}
	doc, err := r.renderer.RenderReport(s)
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}

	id, err := r.mailer.Send(ctx, Email{
		From:        r.from,
		To:          []string{s.LeadEmail},
		Subject:     content.Subject,
		HTML:        content.HTML,
		Attachments: []Attachment{{Filename: ReportFilename(s.ID), Content: doc}},
	})
	if err != nil {
		return nil, fmt.Errorf("send report email: %w", err)
	}
	r.log.Info("report email sent").Str("session_id", s.ID).Str("email_id", id).Send()
	return &session.EmailReceipt{EmailID: id, Subject: content.Subject, SentAt: r.now().UTC()}, nil
}
