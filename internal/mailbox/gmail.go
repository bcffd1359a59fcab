package mailbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"loadboard-activation-go/internal/config"
	"loadboard-activation-go/internal/models"
)

// GmailFetcher implements ReplyFetcher using the Gmail API with an OAuth2
// refresh token, for deployments where the integrations mailbox is a Google
// Workspace account without IMAP access.
type GmailFetcher struct {
	service   *gmail.Service
	userEmail string
	lastCheck time.Time
}

// NewGmailFetcher builds the Gmail API client from a stored refresh token.
func NewGmailFetcher(cfg *config.MailboxConfig) (*GmailFetcher, error) {
	ctx := context.Background()

	oauthConfig := &oauth2.Config{
		ClientID:     cfg.GmailClientID,
		ClientSecret: cfg.GmailClientSecret,
		Scopes:       []string{gmail.GmailReadonlyScope},
		Endpoint:     google.Endpoint,
	}
	tokenSource := oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.GmailRefreshToken})

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &GmailFetcher{
		service:   service,
		userEmail: cfg.GmailUserEmail,
		lastCheck: time.Now().Add(-24 * time.Hour), // start with replies from the last day
	}, nil
}

// FetchNewReplies lists messages received since the last check, following
// the page token until the listing is exhausted.
func (f *GmailFetcher) FetchNewReplies(ctx context.Context) ([]models.InboundEmail, error) {
	query := fmt.Sprintf("after:%d", f.lastCheck.Unix())

	var replies []models.InboundEmail
	pageToken := ""
	for {
		call := f.service.Users.Messages.List(f.userEmail).Q(query).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		response, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}

		for _, ref := range response.Messages {
			msg, err := f.service.Users.Messages.Get(f.userEmail, ref.Id).Format("full").Context(ctx).Do()
			if err != nil {
				logrus.Warnf("Failed to get message %s: %v", ref.Id, err)
				continue
			}
			replies = append(replies, f.parseMessage(msg))
		}

		if response.NextPageToken == "" {
			break
		}
		pageToken = response.NextPageToken
	}

	f.lastCheck = time.Now()
	return replies, nil
}

func (f *GmailFetcher) parseMessage(msg *gmail.Message) models.InboundEmail {
	email := models.InboundEmail{MessageID: msg.Id}

	for _, header := range msg.Payload.Headers {
		switch header.Name {
		case "Subject":
			email.Subject = header.Value
		case "From":
			email.From = header.Value
		case "Message-ID":
			// Prefer the RFC Message-ID so IMAP and Gmail deployments
			// dedupe the same physical message identically.
			email.MessageID = header.Value
		}
	}

	email.Body = collectPlainParts(msg.Payload)
	return email
}

// collectPlainParts walks the MIME tree and returns the first text/plain
// part found.
func collectPlainParts(part *gmail.MessagePart) string {
	if part == nil {
		return ""
	}
	if part.MimeType == "text/plain" && part.Body != nil && part.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(part.Body.Data)
		if err != nil {
			logrus.Warnf("Failed to decode Gmail body part: %v", err)
			return ""
		}
		return string(data)
	}
	for _, sub := range part.Parts {
		if body := collectPlainParts(sub); body != "" {
			return body
		}
	}
	return ""
}

// Close is a no-op; the Gmail API client holds no persistent connection.
func (f *GmailFetcher) Close() error {
	return nil
}
