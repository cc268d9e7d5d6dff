package email

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GmailSender implements Sender using the Gmail API.
type GmailSender struct {
	endpoint string
}

// NewGmailSender creates a new GmailSender. An empty endpoint uses the
// public Gmail API.
func NewGmailSender(endpoint string) *GmailSender {
	return &GmailSender{endpoint: endpoint}
}

// Send submits a raw RFC 2822 message through users.messages.send.
func (g *GmailSender) Send(ctx context.Context, client *http.Client, raw string) (string, error) {
	if client == nil {
		return "", fmt.Errorf("gmail: authorized client is required")
	}

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("gmail: failed to create service: %w", err)
	}

	msg, err := svc.Users.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			se := &SendError{StatusCode: gerr.Code, Err: err}
			if len(gerr.Errors) > 0 {
				se.Reason = gerr.Errors[0].Reason
			}
			return "", se
		}
		return "", fmt.Errorf("gmail: failed to send email: %w", err)
	}

	return msg.Id, nil
}
