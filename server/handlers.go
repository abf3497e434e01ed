package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ai_consultant/consultant"
	"ai_consultant/delivery"
)

const maxTopLeads = 100

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "online",
		"service":   "AI Agent Consultant API",
		"version":   s.version,
		"timestamp": s.now().UTC(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, db, code := "healthy", "connected", http.StatusOK
	if err := s.svc.Ping(ctx); err != nil {
		status, db, code = "degraded", "error: "+err.Error(), http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"database":  db,
		"timestamp": s.now().UTC(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.jobs.Draining() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Conversation ---

type conversationResponse struct {
	SessionID            string                 `json:"session_id"`
	AgentResponse        string                 `json:"agent_response"`
	RequirementsComplete bool                   `json:"requirements_complete"`
	ConversationCount    *int                   `json:"conversation_count,omitempty"`
	NextStep             string                 `json:"next_step"`
	SocialProof          consultant.SocialProof `json:"social_proof"`
}

func (s *Server) handleConversationStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	res, err := s.svc.StartConversation(ctx, req.UserID, req.Idea)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conversationResponse{
		SessionID:            res.SessionID,
		AgentResponse:        res.AgentResponse,
		RequirementsComplete: res.RequirementsComplete,
		NextStep:             res.NextStep,
		SocialProof:          s.svc.GetSocialProof(),
	})
}

func (s *Server) handleConversationContinue(w http.ResponseWriter, r *http.Request) {
	var req continueRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	res, err := s.svc.ContinueConversation(ctx, req.SessionID, req.Message)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conversationResponse{
		SessionID:            res.SessionID,
		AgentResponse:        res.AgentResponse,
		RequirementsComplete: res.RequirementsComplete,
		ConversationCount:    &res.ConversationCount,
		NextStep:             res.NextStep,
		SocialProof:          s.svc.GetSocialProof(),
	})
}

// --- Preview and lead capture ---

type previewResponse struct {
	consultant.PreviewResult
	SocialProof consultant.SocialProof `json:"social_proof"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	res, err := s.svc.GeneratePreviewReport(ctx, req.SessionID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, previewResponse{PreviewResult: res, SocialProof: s.svc.GetSocialProof()})
}

type captureResponse struct {
	SessionID       string `json:"session_id"`
	LeadID          string `json:"lead_id"`
	Status          string `json:"status"`
	EmailSent       bool   `json:"email_sent"`
	RefinementsLeft int    `json:"refinements_left"`
	Message         string `json:"message"`
}

// handleLeadCapture records the lead synchronously and queues the full
// report. The client polls /progress until the report is complete.
func (s *Server) handleLeadCapture(w http.ResponseWriter, r *http.Request) {
	var req leadRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	if s.jobs.Draining() {
		s.fail(w, r, ErrDispatcherClosed)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	leadID, err := s.svc.CaptureLead(ctx, req.SessionID, req.Email, req.Name, req.Phone)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sessionID := req.SessionID
	err = s.jobs.Go("full_report", sessionID, func(ctx context.Context) error {
		_, err := s.svc.GenerateFullReport(ctx, sessionID)
		return err
	})
	if err != nil {
		s.log.Error("lead captured but report not queued").Str("session_id", sessionID).Str("lead_id", leadID).Err(err).Send()
		s.fail(w, r, err)
		return
	}

	report, err := s.svc.GetSessionReport(ctx, sessionID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, captureResponse{
		SessionID:       sessionID,
		LeadID:          leadID,
		Status:          consultant.StatusGenerating,
		EmailSent:       false,
		RefinementsLeft: report.RefinementsLeft,
		Message:         "Your report is being generated. You'll receive an email shortly!",
	})
}

// --- Report ---

func (s *Server) handleReportGet(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.svc.GetSessionReport(r.Context(), req.SessionID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReportRefine(w http.ResponseWriter, r *http.Request) {
	var req refineRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	res, err := s.svc.RefineReport(ctx, req.SessionID, req.AdditionalInfo)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReportDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	doc, err := s.svc.ExportReport(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", delivery.ReportFilename(id)))
	w.Header().Set("Content-Length", strconv.Itoa(len(doc)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

// --- Progress ---

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.GetProgress(r.Context(), r.PathValue("session_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSocialProof(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.GetSocialProof())
}

// --- Analytics ---

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.GetLeadAnalytics(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTopLeads(w http.ResponseWriter, r *http.Request) {
	limit := consultant.DefaultTopLeads
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxTopLeads {
			s.fail(w, r, invalid("limit", "must be an integer between 1 and %d", maxTopLeads))
			return
		}
		limit = n
	}
	leads, err := s.svc.GetTopLeads(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leads": leads, "count": len(leads)})
}

func (s *Server) handleLeadGet(w http.ResponseWriter, r *http.Request) {
	lead, err := s.svc.GetLead(r.Context(), r.PathValue("lead_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (s *Server) handleLeadUpdate(w http.ResponseWriter, r *http.Request) {
	var req leadUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	ctx := r.Context()
	id := r.PathValue("lead_id")

	if req.Status != nil {
		if err := s.svc.UpdateLeadStatus(ctx, id, *req.Status); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if req.Note != nil {
		if err := s.svc.AddLeadNote(ctx, id, *req.Note); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	lead, err := s.svc.GetLead(ctx, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (s *Server) handleFullSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.GetFullSession(r.Context(), r.PathValue("session_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleReportWebhook acknowledges an external automation callback.
func (s *Server) handleReportWebhook(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if id == "" {
		s.fail(w, r, invalid("session_id", "is required"))
		return
	}
	if _, err := s.svc.GetFullSession(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "acknowledged",
		"session_id": id,
		"timestamp":  s.now().UTC(),
	})
}
