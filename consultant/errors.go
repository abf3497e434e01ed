package consultant

import (
	"errors"

	"ai_consultant/session"
)

var (
	ErrSessionNotFound     = session.ErrNotFound
	ErrLeadNotFound        = session.ErrLeadNotFound
	ErrLeadAlreadyCaptured = session.ErrLeadAlreadyCaptured
	ErrLeadNotCaptured     = errors.New("lead not captured for this session")
	ErrReportIncomplete    = errors.New("report is not complete")
	ErrInvalidLeadStatus   = errors.New("invalid lead status")
)
