// Package delivery renders finished reports and sends them out: the report
// document, the lead's report email and the sales team notification.
package delivery

import (
	"bytes"
	"fmt"
	"html/template"
	"regexp"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"ai_consultant/session"
)

// Renderer converts generated markdown into self-contained HTML.
type Renderer struct {
	md  goldmark.Markdown
	now func() time.Time
}

func NewRenderer() *Renderer {
	return &Renderer{
		md:  goldmark.New(goldmark.WithExtensions(extension.GFM)),
		now: time.Now,
	}
}

func (r *Renderer) mdToHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Mail clients drop <style> blocks, so headings and tables get inline styles.
var (
	headingRe = regexp.MustCompile(`<h([1-6])>`)
	tableTags = map[string]string{
		"<table>":      `<table style="border-collapse:collapse;width:100%;margin:1em 0;">`,
		"<th>":         `<th style="border:1px solid #d1d5db;background:#f3f4f6;padding:6px 10px;text-align:left;">`,
		"<td>":         `<td style="border:1px solid #d1d5db;padding:6px 10px;">`,
		"<blockquote>": `<blockquote style="border-left:4px solid #3b82f6;margin:1em 0;padding:0.5em 1em;background:#f0f9ff;">`,
		"<pre>":        `<pre style="background:#f3f4f6;padding:12px;border-radius:6px;overflow-x:auto;">`,
	}
	headingSizes = map[string]string{
		"1": "24px",
		"2": "22px",
		"3": "20px",
		"4": "18px",
		"5": "16px",
		"6": "15px",
	}
)

func inlineStyles(html string) string {
	html = headingRe.ReplaceAllStringFunc(html, func(tag string) string {
		level := headingRe.FindStringSubmatch(tag)[1]
		return fmt.Sprintf(`<h%s style="font-size:%s;font-weight:700;margin:1em 0 0.6em;color:#111827;">`, level, headingSizes[level])
	})
	for plain, styled := range tableTags {
		html = strings.ReplaceAll(html, plain, styled)
	}
	return html
}

// SectionHTML renders one section's markdown for embedding in a document.
func (r *Renderer) SectionHTML(md string) (template.HTML, error) {
	out, err := r.mdToHTML(md)
	if err != nil {
		return "", err
	}
	// goldmark escapes raw HTML in the source unless WithUnsafe is set.
	return template.HTML(inlineStyles(out)), nil
}

type reportSection struct {
	Title string
	Body  template.HTML
}

type reportPage struct {
	SessionID   string
	Idea        string
	LeadScore   int
	GeneratedAt string
	Sections    []reportSection
}

var reportTmpl = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>AI Agent Blueprint</title>
</head>
<body style="font-family:Arial,sans-serif;line-height:1.6;color:#333;max-width:820px;margin:0 auto;padding:24px;">
<h1 style="color:#1d4ed8;">AI Agent Blueprint</h1>
<p style="color:#6b7280;font-size:14px;">Session {{.SessionID}} &middot; generated {{.GeneratedAt}} &middot; lead score {{.LeadScore}}/100</p>
<div style="background:#f0f9ff;border-left:4px solid #3b82f6;padding:15px;margin:20px 0;white-space:pre-wrap;">{{.Idea}}</div>
{{range .Sections}}<section style="margin-top:32px;">
<h2 style="border-bottom:2px solid #e5e7eb;padding-bottom:6px;">{{.Title}}</h2>
{{.Body}}
</section>
{{end}}</body>
</html>
`))

// RenderReport renders every non-empty section of s as one HTML document.
func (r *Renderer) RenderReport(s *session.Session) ([]byte, error) {
	page := reportPage{
		SessionID:   s.ID,
		Idea:        s.Idea,
		LeadScore:   s.LeadScore,
		GeneratedAt: r.now().UTC().Format("2006-01-02 15:04 MST"),
	}
	for _, sec := range session.Sections {
		text := s.Context.Get(sec)
		if text == "" {
			continue
		}
		body, err := r.SectionHTML(text)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", sec, err)
		}
		page.Sections = append(page.Sections, reportSection{Title: sec.Title(), Body: body})
	}

	var buf bytes.Buffer
	if err := reportTmpl.Execute(&buf, page); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReportFilename is the attachment name used for a session's report.
func ReportFilename(sessionID string) string {
	id := sessionID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("ai-agent-report-%s.html", id)
}
