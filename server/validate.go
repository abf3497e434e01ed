package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"strings"
	"unicode/utf8"
)

const maxBodyBytes = 1 << 20

// validationError is a client input problem, reported as 422.
type validationError struct {
	Field string
	Msg   string
}

func (e *validationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func invalid(field, format string, args ...any) error {
	return &validationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// decodeJSON reads one JSON object from the body, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return invalid("body", "request body is empty")
		}
		return invalid("body", "malformed JSON: %v", err)
	}
	return nil
}

// length checks the trimmed rune count of v against [min, max] and returns
// the trimmed value.
func length(field, v string, min, max int) (string, error) {
	v = strings.TrimSpace(v)
	n := utf8.RuneCountInString(v)
	if n < min {
		if min == 1 {
			return v, invalid(field, "is required")
		}
		return v, invalid(field, "must be at least %d characters", min)
	}
	if max > 0 && n > max {
		return v, invalid(field, "must be at most %d characters", max)
	}
	return v, nil
}

// email accepts a bare address only.
func email(field, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return v, invalid(field, "is required")
	}
	addr, err := mail.ParseAddress(v)
	if err != nil || addr.Address != v {
		return v, invalid(field, "is not a valid email address")
	}
	return v, nil
}

type startRequest struct {
	UserID string `json:"user_id"`
	Idea   string `json:"idea"`
}

func (q *startRequest) validate() (err error) {
	if q.UserID, err = length("user_id", q.UserID, 1, 200); err != nil {
		return err
	}
	q.Idea, err = length("idea", q.Idea, 10, 2000)
	return err
}

type continueRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (q *continueRequest) validate() (err error) {
	if q.SessionID, err = length("session_id", q.SessionID, 1, 100); err != nil {
		return err
	}
	q.Message, err = length("message", q.Message, 1, 1000)
	return err
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

func (q *sessionRequest) validate() (err error) {
	q.SessionID, err = length("session_id", q.SessionID, 1, 100)
	return err
}

type leadRequest struct {
	SessionID string `json:"session_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
}

func (q *leadRequest) validate() (err error) {
	if q.SessionID, err = length("session_id", q.SessionID, 1, 100); err != nil {
		return err
	}
	if q.Email, err = email("email", q.Email); err != nil {
		return err
	}
	if q.Name, err = length("name", q.Name, 2, 100); err != nil {
		return err
	}
	q.Phone, err = length("phone", q.Phone, 0, 20)
	return err
}

type refineRequest struct {
	SessionID      string `json:"session_id"`
	AdditionalInfo string `json:"additional_info"`
}

func (q *refineRequest) validate() (err error) {
	if q.SessionID, err = length("session_id", q.SessionID, 1, 100); err != nil {
		return err
	}
	q.AdditionalInfo, err = length("additional_info", q.AdditionalInfo, 10, 1000)
	return err
}

type leadUpdateRequest struct {
	Status *string `json:"status"`
	Note   *string `json:"note"`
}

func (q *leadUpdateRequest) validate() error {
	if q.Status == nil && q.Note == nil {
		return invalid("body", "status or note is required")
	}
	if q.Note != nil {
		n, err := length("note", *q.Note, 1, 2000)
		if err != nil {
			return err
		}
		q.Note = &n
	}
	return nil
}
