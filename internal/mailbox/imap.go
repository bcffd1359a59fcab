package mailbox

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	"github.com/sirupsen/logrus"

	"loadboard-activation-go/internal/config"
	"loadboard-activation-go/internal/models"
)

// IMAPFetcher implements ReplyFetcher over a plain IMAP mailbox.
type IMAPFetcher struct {
	client    *client.Client
	mailbox   string
	lastCheck time.Time
}

// NewIMAPFetcher connects and authenticates against the configured IMAP
// server.
func NewIMAPFetcher(cfg *config.MailboxConfig) (*IMAPFetcher, error) {
	c, err := client.DialTLS(fmt.Sprintf("%s:%d", cfg.IMAPHost, cfg.IMAPPort), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := c.Login(cfg.IMAPUser, cfg.IMAPPassword); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	return &IMAPFetcher{
		client:    c,
		mailbox:   cfg.IMAPMailbox,
		lastCheck: time.Now().Add(-24 * time.Hour), // start with replies from the last day
	}, nil
}

// commandTimeout translates a context deadline into a per-command timeout
// for the IMAP client. No deadline means no timeout; an already expired
// deadline still yields a positive value so pending commands error out
// instead of waiting forever.
func commandTimeout(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	d := time.Until(deadline)
	if d <= 0 {
		return time.Millisecond
	}
	return d
}

// FetchNewReplies fetches messages received since the last check. Select,
// Search and Fetch all inherit the caller's deadline, so a stalled server
// fails the cycle instead of wedging it.
func (f *IMAPFetcher) FetchNewReplies(ctx context.Context) ([]models.InboundEmail, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("imap fetch aborted: %w", err)
	}
	f.client.Timeout = commandTimeout(ctx)

	if _, err := f.client.Select(f.mailbox, true); err != nil {
		return nil, fmt.Errorf("failed to select mailbox %s: %w", f.mailbox, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = f.lastCheck

	uids, err := f.client.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}

	if len(uids) == 0 {
		f.lastCheck = time.Now()
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- f.client.Fetch(seqset, items, messages)
	}()

	var replies []models.InboundEmail
	for msg := range messages {
		email, err := f.parseMessage(msg, section)
		if err != nil {
			logrus.Warnf("Failed to parse IMAP message: %v", err)
			continue
		}
		replies = append(replies, email)
	}

	// The client timeout bounds Fetch, so the channel is guaranteed to
	// close and the error to arrive.
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	f.lastCheck = time.Now()
	return replies, nil
}

func (f *IMAPFetcher) parseMessage(msg *imap.Message, section *imap.BodySectionName) (models.InboundEmail, error) {
	email := models.InboundEmail{}

	if msg.Envelope != nil {
		email.Subject = msg.Envelope.Subject
		email.MessageID = msg.Envelope.MessageId
		if len(msg.Envelope.From) > 0 {
			email.From = msg.Envelope.From[0].Address()
		}
	}
	if email.MessageID == "" {
		// Some senders omit Message-ID; fall back to the mailbox UID.
		email.MessageID = fmt.Sprintf("imap-uid-%d", msg.Uid)
	}

	body, err := readPlainBody(msg, section)
	if err != nil {
		return email, err
	}
	email.Body = body
	return email, nil
}

// readPlainBody extracts the text/plain content of a message body.
func readPlainBody(msg *imap.Message, section *imap.BodySectionName) (string, error) {
	r := msg.GetBody(section)
	if r == nil {
		return "", fmt.Errorf("message has no body section")
	}

	entity, err := message.Read(r)
	if err != nil {
		return "", fmt.Errorf("failed to read message: %w", err)
	}

	if mr := entity.MultipartReader(); mr != nil {
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return "", fmt.Errorf("failed to read part: %w", err)
			}
			contentType := p.Header.Get("Content-Type")
			if strings.Contains(contentType, "text/plain") {
				content, err := io.ReadAll(p.Body)
				if err != nil {
					return "", fmt.Errorf("failed to read part body: %w", err)
				}
				return string(content), nil
			}
		}
		return "", nil
	}

	content, err := io.ReadAll(entity.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read message body: %w", err)
	}
	return string(content), nil
}

// Close logs out of the IMAP session.
func (f *IMAPFetcher) Close() error {
	return f.client.Logout()
}
