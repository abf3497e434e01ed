package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactories lists every backend that can run without external services,
// plus MongoDB when CONSULTANT_TEST_MONGO_URI is set.
func storeFactories(t *testing.T) map[string]func() Store {
	factories := map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"sqlite": func() Store {
			st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "consultant.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = st.Close() })
			return st
		},
	}
	if uri := os.Getenv("CONSULTANT_TEST_MONGO_URI"); uri != "" {
		factories["mongo"] = func() Store {
			db := fmt.Sprintf("consultant_test_%d", time.Now().UnixNano())
			st, err := NewMongoStore(context.Background(), uri, db)
			require.NoError(t, err)
			t.Cleanup(func() {
				_ = st.sessions.Database().Drop(context.Background())
				_ = st.Close()
			})
			return st
		}
	}
	return factories
}

func seedSession(t *testing.T, st Store, id string) *Session {
	t.Helper()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New(id, "user_1", "An AI agent for podcasts", DefaultRefinementsAllowed, now)
	require.NoError(t, st.CreateSession(context.Background(), s))
	return s
}

func TestStore_SessionLifecycle(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := factory()
			seedSession(t, st, "s1")

			got, err := st.GetSession(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, StageConversation, got.Stage)
			assert.Equal(t, 2, got.RefinementsAllowed)
			assert.Equal(t, 0, got.RefinementsUsed)
			assert.Equal(t, 0, got.ProgressPercentage)

			at := time.Now().UTC()
			require.NoError(t, st.AppendMessage(ctx, "s1", Message{Role: RoleUser, Content: "hi", Timestamp: at}))
			require.NoError(t, st.AppendMessage(ctx, "s1", Message{Role: RoleAgent, Content: "hello", Timestamp: at}))
			require.NoError(t, st.SetStage(ctx, "s1", StagePreviewReady))
			require.NoError(t, st.SaveSection(ctx, "s1", TechnicalArchitecture, "arch", at))

			got, err = st.GetSession(ctx, "s1")
			require.NoError(t, err)
			require.Len(t, got.ConversationHistory, 2)
			assert.Equal(t, RoleAgent, got.ConversationHistory[1].Role)
			assert.Equal(t, 1, got.UserTurns())
			assert.Equal(t, StagePreviewReady, got.Stage)
			assert.Equal(t, "arch", got.Context.TechnicalArchitecture)
			assert.Equal(t, TechnicalArchitecture, got.CurrentStage)
			assert.Equal(t, 50, got.ProgressPercentage)
			require.Len(t, got.ContextHistory, 1)
			assert.Equal(t, TechnicalArchitecture, got.ContextHistory[0].Stage)
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := factory()

			_, err := st.GetSession(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, st.SetStage(ctx, "missing", StageReportComplete), ErrNotFound)
			_, err = st.IncrementRefinements(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = st.GetLead(ctx, "missing")
			assert.ErrorIs(t, err, ErrLeadNotFound)
			assert.ErrorIs(t, st.UpdateLeadStatus(ctx, "missing", LeadContacted), ErrLeadNotFound)
		})
	}
}

func TestStore_VersionSnapshotsAreIndependent(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := factory()
			seedSession(t, st, "s1")
			at := time.Now().UTC()

			require.NoError(t, st.SaveSection(ctx, "s1", RequirementGathering, "v1 requirements", at))
			cur, err := st.GetSession(ctx, "s1")
			require.NoError(t, err)
			require.NoError(t, st.AppendVersion(ctx, "s1", Version{
				VersionNumber:   1,
				CreatedAt:       at,
				Trigger:         "user_refinement",
				ContextSnapshot: cur.Context,
				IdeaSnapshot:    cur.Idea,
			}))
			require.NoError(t, st.SaveSection(ctx, "s1", RequirementGathering, "v2 requirements", at))

			got, err := st.GetSession(ctx, "s1")
			require.NoError(t, err)
			require.Len(t, got.Versions, 1)
			assert.Equal(t, "v1 requirements", got.Versions[0].ContextSnapshot.RequirementGathering)
			assert.Equal(t, "v2 requirements", got.Context.RequirementGathering)
			assert.Len(t, got.ContextHistory, 2)
		})
	}
}

func TestStore_IdeaAndRefinementCounter(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := factory()
			seedSession(t, st, "s1")

			rec := RefinementRecord{Timestamp: time.Now().UTC(), AddedInfo: "add Instagram"}
			require.NoError(t, st.UpdateIdea(ctx, "s1", "idea + add Instagram", rec))

			used, err := st.IncrementRefinements(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, 1, used)

			got, err := st.GetSession(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, "idea + add Instagram", got.Idea)
			require.Len(t, got.RefinementHistory, 1)
			assert.Equal(t, "add Instagram", got.RefinementHistory[0].AddedInfo)
			assert.Equal(t, 1, got.RefinementsUsed)
			assert.Equal(t, 1, got.RefinementsLeft())
		})
	}
}

func TestStore_ConcurrentIncrementsAreNotLost(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := factory()
			seedSession(t, st, "s1")

			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := st.IncrementRefinements(ctx, "s1")
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			got, err := st.GetSession(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, 8, got.RefinementsUsed)
		})
	}
}

func TestStore_LeadCaptureIsOneWay(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := factory()
			seedSession(t, st, "s1")

			first := LeadCapture{Email: "a@example.com", Name: "Ada", Score: 42, At: time.Now().UTC()}
			require.NoError(t, st.MarkLeadCaptured(ctx, "s1", first))
			second := LeadCapture{Email: "b@example.com", Name: "Bob", Score: 99, At: time.Now().UTC()}
			assert.ErrorIs(t, st.MarkLeadCaptured(ctx, "s1", second), ErrLeadAlreadyCaptured)
			assert.ErrorIs(t, st.MarkLeadCaptured(ctx, "nope", second), ErrNotFound)

			got, err := st.GetSession(ctx, "s1")
			require.NoError(t, err)
			assert.True(t, got.LeadCaptured)
			assert.Equal(t, "a@example.com", got.LeadEmail)
			assert.Equal(t, 42, got.LeadScore)
			assert.Equal(t, StageGeneratingFullReport, got.Stage)

			sentAt := time.Now().UTC()
			require.NoError(t, st.MarkEmailSent(ctx, "s1", EmailReceipt{EmailID: "em_1", Subject: "Your report", SentAt: sentAt}))
			got, err = st.GetSession(ctx, "s1")
			require.NoError(t, err)
			assert.True(t, got.ReportEmailSent)
			assert.Equal(t, "em_1", got.EmailID)
			require.NotNil(t, got.ReportEmailSentAt)
		})
	}
}

func TestStore_Leads(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := factory()
			base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

			for i, score := range []int{10, 90, 70, 40} {
				require.NoError(t, st.CreateLead(ctx, &Lead{
					LeadID:     fmt.Sprintf("l%d", i),
					SessionID:  fmt.Sprintf("s%d", i),
					Email:      fmt.Sprintf("u%d@example.com", i),
					Name:       fmt.Sprintf("User %d", i),
					CapturedAt: base.Add(time.Duration(i) * time.Minute),
					Idea:       "idea",
					LeadScore:  score,
					Status:     LeadNew,
					Notes:      []LeadNote{},
				}))
			}

			top, err := st.TopLeads(ctx, 3)
			require.NoError(t, err)
			require.Len(t, top, 3)
			assert.Equal(t, []int{90, 70, 40}, []int{top[0].LeadScore, top[1].LeadScore, top[2].LeadScore})

			stats, err := st.LeadStats(ctx, 70)
			require.NoError(t, err)
			assert.Equal(t, 4, stats.Total)
			assert.Equal(t, 2, stats.HighQuality)
			assert.InDelta(t, 52.5, stats.AverageScore, 0.001)

			require.NoError(t, st.UpdateLeadStatus(ctx, "l1", LeadContacted))
			require.NoError(t, st.AppendLeadNote(ctx, "l1", LeadNote{Text: "called", CreatedAt: base}))
			require.NoError(t, st.AppendLeadNote(ctx, "l1", LeadNote{Text: "sent deck", CreatedAt: base}))
			l, err := st.GetLead(ctx, "l1")
			require.NoError(t, err)
			assert.Equal(t, LeadContacted, l.Status)
			require.Len(t, l.Notes, 2)
			assert.Equal(t, "sent deck", l.Notes[1].Text)
		})
	}
}

func TestMemoryStore_ReadsAreCopies(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	seedSession(t, st, "s1")

	got, err := st.GetSession(ctx, "s1")
	require.NoError(t, err)
	got.Idea = "mutated"
	got.ConversationHistory = append(got.ConversationHistory, Message{Role: RoleUser})

	again, err := st.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "An AI agent for podcasts", again.Idea)
	assert.Empty(t, again.ConversationHistory)
}
