package consultant

import (
	"context"
	_ "embed"
	"errors"
	"math/rand/v2"

	"gopkg.in/yaml.v3"

	"ai_consultant/session"
)

//go:embed socialproof.yaml
var socialProofData []byte

// SocialProof is one testimonial and one success metric shown while a report
// is generating.
type SocialProof struct {
	Testimonial string `json:"testimonial"`
	Metric      string `json:"metric"`
}

type socialCatalogue struct {
	Testimonials []string `yaml:"testimonials"`
	Metrics      []string `yaml:"metrics"`
}

func loadCatalogue(data []byte) (socialCatalogue, error) {
	var c socialCatalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, err
	}
	if len(c.Testimonials) == 0 || len(c.Metrics) == 0 {
		return c, errors.New("social proof catalogue needs at least one testimonial and one metric")
	}
	return c, nil
}

// Progress is the polling view of a session.
type Progress struct {
	SessionID          string          `json:"session_id"`
	Stage              session.Stage   `json:"stage"`
	CurrentStage       session.Section `json:"current_stage"`
	ProgressPercentage int             `json:"progress_percentage"`
	Testimonial        string          `json:"testimonial"`
	Metric             string          `json:"metric"`
}

// Tracker serves progress reads. Reads take no session lock so they can run
// alongside an in-flight generation.
type Tracker struct {
	store     session.Store
	catalogue socialCatalogue
	pick      func(n int) int
}

// NewTracker builds a tracker. pick chooses an index in [0, n); nil means
// uniform random.
func NewTracker(store session.Store, pick func(n int) int) (*Tracker, error) {
	c, err := loadCatalogue(socialProofData)
	if err != nil {
		return nil, err
	}
	if pick == nil {
		pick = rand.IntN
	}
	return &Tracker{store: store, catalogue: c, pick: pick}, nil
}

func (t *Tracker) SocialProof() SocialProof {
	return SocialProof{
		Testimonial: t.catalogue.Testimonials[t.pick(len(t.catalogue.Testimonials))],
		Metric:      t.catalogue.Metrics[t.pick(len(t.catalogue.Metrics))],
	}
}

func (t *Tracker) Progress(ctx context.Context, sessionID string) (Progress, error) {
	sess, err := t.store.GetSession(ctx, sessionID)
	if err != nil {
		return Progress{}, err
	}
	proof := t.SocialProof()
	return Progress{
		SessionID:          sess.ID,
		Stage:              sess.Stage,
		CurrentStage:       sess.CurrentStage,
		ProgressPercentage: sess.ProgressPercentage,
		Testimonial:        proof.Testimonial,
		Metric:             proof.Metric,
	}, nil
}
