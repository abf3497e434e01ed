package consultant

import (
	"context"
	"fmt"
	"time"

	"ai_consultant/generator"
	"ai_consultant/logger"
	"ai_consultant/session"
)

// Turn is the outcome of one conversation step.
type Turn struct {
	Response             string
	RequirementsComplete bool
	UserTurns            int
}

// Engine runs the requirements Q&A loop.
type Engine struct {
	store session.Store
	agent *generator.Agent
	log   *logger.Logger
	now   func() time.Time
}

func NewEngine(store session.Store, agent *generator.Agent, log *logger.Logger) *Engine {
	return &Engine{store: store, agent: agent, log: componentLogger(log, "conversation"), now: time.Now}
}

// Advance records the user message, asks the model for its reply and records
// that too. The two appends are separate point updates, so a failed model
// call leaves the user message on record and nothing else.
func (e *Engine) Advance(ctx context.Context, sessionID, userMessage string) (Turn, error) {
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return Turn{}, err
	}

	msg := session.Message{Role: session.RoleUser, Content: userMessage, Timestamp: e.now().UTC()}
	if err := e.store.AppendMessage(ctx, sessionID, msg); err != nil {
		return Turn{}, fmt.Errorf("append user message: %w", err)
	}
	transcript := append(sess.ConversationHistory, msg)

	response, err := e.agent.Converse(ctx, sessionID, transcript)
	if err != nil {
		return Turn{}, err
	}

	reply := session.Message{Role: session.RoleAgent, Content: response, Timestamp: e.now().UTC()}
	if err := e.store.AppendMessage(ctx, sessionID, reply); err != nil {
		return Turn{}, fmt.Errorf("append agent message: %w", err)
	}

	complete := generator.IsRequirementsComplete(response)
	if complete && sess.Stage.Before(session.StagePreviewReady) {
		if err := e.store.SetStage(ctx, sessionID, session.StagePreviewReady); err != nil {
			return Turn{}, fmt.Errorf("set stage: %w", err)
		}
	}

	e.log.Debug("conversation turn").
		Str("session_id", sessionID).
		Bool("requirements_complete", complete).
		Send()

	return Turn{
		Response:             response,
		RequirementsComplete: complete,
		UserTurns:            sess.UserTurns() + 1,
	}, nil
}
