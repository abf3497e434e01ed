package consultant

import (
	"strings"

	"ai_consultant/session"
)

var (
	complexityKeywords = []string{"api", "integration", "video", "generation", "automation", "enterprise", "saas", "platform", "real-time"}
	techKeywords       = []string{"ai", "machine learning", "nlp", "computer vision", "llm"}
	businessKeywords   = []string{"target audience", "pricing", "revenue", "market", "customers"}
)

// HighQualityScore is the lead score from which a lead counts as high quality.
const HighQualityScore = 70

// ScoreLead rates a session 0-100 for sales prioritisation. It reads the
// session only and is deterministic.
func ScoreLead(s *session.Session) int {
	idea := strings.ToLower(s.Idea)

	score := min(s.UserTurns()*5, 25)
	score += min(3*countMatches(idea, complexityKeywords), 30)
	score += min(4*countMatches(idea, techKeywords), 20)
	score += min(3*countMatches(idea, businessKeywords), 15)

	switch n := len(s.Context.RequirementGathering); {
	case n > 1000:
		score += 10
	case n > 500:
		score += 5
	}

	return max(0, min(score, 100))
}

func countMatches(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			n++
		}
	}
	return n
}
