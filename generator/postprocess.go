package generator

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"ai_consultant/session"
)

var (
	ErrEmptyOutput = errors.New("model returned empty output")
	ErrNoSections  = errors.New("no section names in model output")
)

var fenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n(.*?)\\n?```$")

// Clean trims the raw model output and strips a single wrapping code fence.
func Clean(raw string) (string, error) {
	out := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(out); len(m) == 2 {
		out = strings.TrimSpace(m[1])
	}
	if out == "" {
		return "", ErrEmptyOutput
	}
	return out, nil
}

// IsRequirementsComplete reports whether the response carries the completion
// sentinel, matched case-insensitively anywhere in the text.
func IsRequirementsComplete(response string) bool {
	return strings.Contains(strings.ToUpper(response), RequirementsComplete)
}

// ParseSectionList decodes a JSON array of section names from the model
// output. Surrounding prose and code fences are tolerated; unknown names are
// dropped. It fails when nothing usable remains.
func ParseSectionList(raw string) ([]session.Section, error) {
	text := strings.TrimSpace(raw)
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, ErrNoSections
	}

	var names []string
	if err := json.Unmarshal([]byte(text[start:end+1]), &names); err != nil {
		return nil, err
	}

	seen := make(map[session.Section]bool)
	var out []session.Section
	for _, n := range names {
		sec, ok := session.ParseSection(n)
		if !ok || seen[sec] {
			continue
		}
		seen[sec] = true
		out = append(out, sec)
	}
	if len(out) == 0 {
		return nil, ErrNoSections
	}
	return out, nil
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }
