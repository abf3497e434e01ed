package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ai_consultant/logger"
	"ai_consultant/metrics"
	"ai_consultant/session"
)

// Agent turns funnel requests into prompts, calls the model and cleans the
// output. It holds no session state.
type Agent struct {
	llm     LLMClient
	log     *logger.Logger
	metrics *metrics.Metrics
}

func NewAgent(llm LLMClient, log *logger.Logger, m *metrics.Metrics) (*Agent, error) {
	if llm == nil {
		return nil, errors.New("llm client is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Agent{llm: llm, log: log.With("generator"), metrics: m}, nil
}

func (a *Agent) complete(ctx context.Context, sessionID string, prompt Prompt) (string, error) {
	start := time.Now()
	raw, err := a.llm.Complete(ctx, prompt)
	var out string
	if err == nil {
		out, err = Clean(raw)
	}
	elapsed := time.Since(start)
	a.metrics.RecordGeneration(prompt.Kind, err, elapsed)
	a.log.LogGeneration(prompt.Kind, sessionID, elapsed, err)
	if err != nil {
		return "", fmt.Errorf("%s generation: %w", prompt.Kind, err)
	}
	return out, nil
}

// Converse produces the requirements expert's next reply.
func (a *Agent) Converse(ctx context.Context, sessionID string, transcript []session.Message) (string, error) {
	return a.complete(ctx, sessionID, BuildConversationPrompt(transcript))
}

// GenerateSection writes one report section conditioned on earlier outputs.
func (a *Agent) GenerateSection(ctx context.Context, sessionID string, sec session.Section, idea string, priors []PriorOutput) (string, error) {
	return a.complete(ctx, sessionID, BuildSectionPrompt(sec, idea, priors))
}

// ClassifyImpact asks which sections newInfo affects. The returned list may
// be unordered and is never empty on success.
func (a *Agent) ClassifyImpact(ctx context.Context, sessionID, newInfo, contextPreview string) ([]session.Section, error) {
	out, err := a.complete(ctx, sessionID, BuildImpactPrompt(newInfo, contextPreview))
	if err != nil {
		return nil, err
	}
	secs, err := ParseSectionList(out)
	if err != nil {
		return nil, fmt.Errorf("parse impact analysis: %w", err)
	}
	return secs, nil
}

// SummarizeChanges describes the difference between two idea versions.
func (a *Agent) SummarizeChanges(ctx context.Context, sessionID, oldIdea, newIdea, delta string) (string, error) {
	return a.complete(ctx, sessionID, BuildChangeSummaryPrompt(Truncate(oldIdea, 300), Truncate(newIdea, 300), delta))
}

// WriteEmailIntro writes the personalised opening of the report email.
func (a *Agent) WriteEmailIntro(ctx context.Context, sessionID string, brief EmailBrief) (string, error) {
	return a.complete(ctx, sessionID, BuildEmailIntroPrompt(brief))
}
