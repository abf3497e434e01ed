package delivery

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strconv"
	"strings"

	"ai_consultant/generator"
	"ai_consultant/logger"
	"ai_consultant/session"
)

// EstimateValue is a rough project value in dollars.
func EstimateValue(s *session.Session) int {
	arch := strings.ToLower(s.Context.TechnicalArchitecture)
	idea := strings.ToLower(generator.Truncate(s.Idea, 200))

	value := 25000
	if strings.Contains(arch, "video") || strings.Contains(arch, "generation") {
		value += 20000
	}
	if strings.Contains(arch, "real-time") {
		value += 15000
	}
	if strings.Contains(idea, "enterprise") {
		value += 30000
	}
	return value
}

// Priority labels a lead for the sales team.
func Priority(score int) string {
	switch {
	case score > 70:
		return "HIGH"
	case score > 40:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// formatUSD renders n with thousands separators.
func formatUSD(n int) string {
	s := strconv.Itoa(n)
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return "$" + b.String()
}

type salesPage struct {
	Priority      string
	PriorityColor string
	Score         int
	Name          string
	Email         string
	Idea          string
	Value         string
	Action        string
	DashboardURL  string
	SessionID     string
}

var salesTmpl = template.Must(template.New("sales").Parse(`<!DOCTYPE html>
<html>
<body style="font-family:Arial,sans-serif;color:#333;">
<div style="max-width:600px;margin:0 auto;padding:20px;">
<h2>New Qualified Lead</h2>
<div style="border-left:4px solid {{.PriorityColor}};background:#f9fafb;padding:20px;margin:20px 0;">
<h3>Priority: {{.Priority}}</h3>
<p><strong>Lead Score:</strong> {{.Score}}/100</p>
</div>
<div style="background:#f3f4f6;padding:15px;border-radius:6px;margin:15px 0;">
<h3>Contact Information</h3>
<p><strong>Name:</strong> {{.Name}}</p>
<p><strong>Email:</strong> {{.Email}}</p>
</div>
<div style="background:#f3f4f6;padding:15px;border-radius:6px;margin:15px 0;">
<h3>Project Overview</h3>
<p>{{.Idea}}...</p>
</div>
<div style="background:#f3f4f6;padding:15px;border-radius:6px;margin:15px 0;">
<p><strong>Estimated Project Value:</strong> {{.Value}}</p>
</div>
<p><strong>Recommended Action:</strong> {{.Action}}</p>
<div style="text-align:center;">
<a href="{{.DashboardURL}}" style="display:inline-block;background:#3b82f6;color:white;padding:12px 24px;text-decoration:none;border-radius:6px;">View Full Session</a>
</div>
<p style="margin-top:30px;color:#6b7280;font-size:14px;">Session ID: {{.SessionID}}</p>
</div>
</body>
</html>
`))

var priorityColors = map[string]string{
	"HIGH":   "#ef4444",
	"MEDIUM": "#f59e0b",
	"LOW":    "#6366f1",
}

// SalesNotifier emails the sales inbox when a report completes.
type SalesNotifier struct {
	mailer       Mailer
	from         string
	to           string
	dashboardURL string
	log          *logger.Logger
}

// NewSalesNotifier returns a notifier. A nil mailer makes every
// notification a logged no-op.
func NewSalesNotifier(mailer Mailer, from, to, dashboardURL string, log *logger.Logger) *SalesNotifier {
	if log == nil {
		log = logger.Nop()
	}
	return &SalesNotifier{mailer: mailer, from: from, to: to, dashboardURL: dashboardURL, log: log.With("sales")}
}

// Compose builds the notification for s.
func (n *SalesNotifier) Compose(s *session.Session) (EmailContent, error) {
	priority := Priority(s.LeadScore)
	value := formatUSD(EstimateValue(s))
	action := "Follow up within 48-72 hours"
	if s.LeadScore > 70 {
		action = "Contact within 24 hours - high quality lead!"
	}

	var buf bytes.Buffer
	err := salesTmpl.Execute(&buf, salesPage{
		Priority:      priority,
		PriorityColor: priorityColors[priority],
		Score:         s.LeadScore,
		Name:          s.LeadName,
		Email:         s.LeadEmail,
		Idea:          generator.Truncate(s.Idea, 200),
		Value:         value,
		Action:        action,
		DashboardURL:  n.dashboardURL,
		SessionID:     s.ID,
	})
	if err != nil {
		return EmailContent{}, err
	}
	return EmailContent{
		Subject: fmt.Sprintf("%s New Lead: %s - %s Potential", priority, s.LeadName, value),
		HTML:    buf.String(),
	}, nil
}

func (n *SalesNotifier) NotifySales(ctx context.Context, s *session.Session) error {
	if n.mailer == nil || n.to == "" {
		n.log.Warn("sales notification not configured, skipping").Str("session_id", s.ID).Send()
		return nil
	}
	content, err := n.Compose(s)
	if err != nil {
		return fmt.Errorf("compose sales notification: %w", err)
	}
	id, err := n.mailer.Send(ctx, Email{
		From:    n.from,
		To:      []string{n.to},
		Subject: content.Subject,
		HTML:    content.HTML,
	})
	if err != nil {
		return fmt.Errorf("send sales notification: %w", err)
	}
	n.log.Info("sales notification sent").Str("session_id", s.ID).Str("email_id", id).Send()
	return nil
}
