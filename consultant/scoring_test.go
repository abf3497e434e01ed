package consultant

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"ai_consultant/session"
)

func scoringSession(idea string, userTurns int, requirements string) *session.Session {
	s := session.New("s1", "u1", idea, session.DefaultRefinementsAllowed, time.Now())
	for i := 0; i < userTurns; i++ {
		s.ConversationHistory = append(s.ConversationHistory,
			session.Message{Role: session.RoleUser, Content: "answer"},
			session.Message{Role: session.RoleAgent, Content: "question"},
		)
	}
	s.Context.RequirementGathering = requirements
	return s
}

func TestScoreLead(t *testing.T) {
	tests := []struct {
		name         string
		idea         string
		turns        int
		requirements string
		want         int
	}{
		{name: "no signal", idea: "chatbot for restaurants", want: 0},
		{
			name:         "complexity engagement and detail",
			idea:         "An enterprise automation API with real-time sync",
			turns:        3,
			requirements: strings.Repeat("r", 1200),
			want:         37,
		},
		{name: "engagement capped", idea: "chatbot for restaurants", turns: 9, want: 25},
		{name: "medium detail", idea: "chatbot for restaurants", requirements: strings.Repeat("r", 501), want: 5},
		{name: "detail boundary", idea: "chatbot for restaurants", requirements: strings.Repeat("r", 500), want: 0},
		{name: "tech keywords", idea: "An LLM with NLP and computer vision", want: 12},
		{name: "business phrases", idea: "Pricing for our target audience and market", want: 9},
		{
			name: "every complexity keyword",
			idea: "api integration video generation automation enterprise saas platform real-time",
			want: 27,
		},
		{
			name: "every signal",
			idea: "api integration video generation automation enterprise saas platform real-time " +
				"ai machine learning nlp computer vision llm target audience pricing revenue market customers",
			turns:        10,
			requirements: strings.Repeat("r", 2000),
			want:         97,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := scoringSession(tt.idea, tt.turns, tt.requirements)
			assert.Equal(t, tt.want, ScoreLead(s))
		})
	}
}

func TestScoreLead_Deterministic(t *testing.T) {
	s := scoringSession("A SaaS platform with AI pricing", 2, strings.Repeat("x", 700))
	first := ScoreLead(s)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, ScoreLead(s))
	}
}
