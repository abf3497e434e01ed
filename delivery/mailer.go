package delivery

import (
	"context"
	"errors"

	"github.com/resend/resend-go/v2"
)

// Email is one outbound message.
type Email struct {
	From        string
	To          []string
	Subject     string
	HTML        string
	Attachments []Attachment
}

type Attachment struct {
	Filename string
	Content  []byte
}

// Mailer sends an email and returns the provider's message id.
type Mailer interface {
	Send(ctx context.Context, e Email) (string, error)
}

// ResendMailer sends through the Resend API.
type ResendMailer struct {
	client *resend.Client
}

func NewResendMailer(apiKey string) (*ResendMailer, error) {
	if apiKey == "" {
		return nil, errors.New("resend api key is required")
	}
	return &ResendMailer{client: resend.NewClient(apiKey)}, nil
}

func (m *ResendMailer) Send(ctx context.Context, e Email) (string, error) {
	req := &resend.SendEmailRequest{
		From:    e.From,
		To:      e.To,
		Subject: e.Subject,
		Html:    e.HTML,
	}
	for _, a := range e.Attachments {
		req.Attachments = append(req.Attachments, &resend.Attachment{
			Filename: a.Filename,
			Content:  a.Content,
		})
	}

	sent, err := m.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		return "", err
	}
	return sent.Id, nil
}
