package generator

import (
	"context"
	"fmt"
	"strings"

	"ai_consultant/session"
)

// MockLLM is an offline client for local runs. Its replies are deterministic
// per prompt kind; it never calls an external model.
type MockLLM struct {
	// CompleteAfter is the number of conversation replies before the mock
	// declares the requirements complete. Zero completes immediately.
	CompleteAfter int
}

func (m MockLLM) Complete(_ context.Context, prompt Prompt) (string, error) {
	switch prompt.Kind {
	case KindConversation:
		agentTurns := strings.Count(prompt.User, "\nAGENT: ")
		if agentTurns >= m.CompleteAfter {
			return RequirementsComplete + "\n\nSummary: the idea is clear enough to draft a report.", nil
		}
		return "Who is the target audience, and which systems should the agent integrate with?", nil
	case KindImpact:
		return `["requirement_gathering"]`, nil
	case KindChangeSummary:
		return "- Requirements updated with the newly added details", nil
	case KindEmailIntro:
		return "Thanks for sharing your idea with us. We put together a full blueprint for it.", nil
	}

	if sec, ok := session.ParseSection(prompt.Kind); ok {
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("# %s\n\n", sec.Title()))
		sb.WriteString("Draft generated offline from the prompt below.\n\n")
		sb.WriteString("```\n")
		sb.WriteString(Truncate(prompt.User, 400))
		sb.WriteString("\n```\n")
		return sb.String(), nil
	}
	return "", fmt.Errorf("mock llm: unknown prompt kind %q", prompt.Kind)
}
