package collect

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jyothri/detach/detach"
	"golang.org/x/time/rate"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const user = "me"

// GmailProvider is the detach.Mailbox of the authorised account.
type GmailProvider struct {
	svc       *gmail.Service
	throttler *rate.Limiter
}

var _ detach.Mailbox = (*GmailProvider)(nil)

func NewGmailProvider(ctx context.Context, opts ...option.ClientOption) (*GmailProvider, error) {
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	return &GmailProvider{svc: svc, throttler: newThrottler()}, nil
}

// Search pages through the thread list until offset+max ids are known,
// then loads each thread in full.
func (g *GmailProvider) Search(ctx context.Context, query string, offset, max int) ([]detach.Thread, error) {
	if max <= 0 {
		return nil, nil
	}
	var ids []string
	call := g.svc.Users.Threads.List(user).Q(query).MaxResults(int64(min(offset+max, 500)))
	for len(ids) < offset+max {
		if err := wait(ctx, g.throttler); err != nil {
			return nil, err
		}
		list, err := call.Context(ctx).Do()
		if err != nil {
			return nil, classify(fmt.Errorf("failed to list threads for query '%s': %w", query, err))
		}
		for _, t := range list.Threads {
			ids = append(ids, t.Id)
		}
		if list.NextPageToken == "" {
			break
		}
		call = call.PageToken(list.NextPageToken)
	}
	if offset >= len(ids) {
		return nil, nil
	}
	ids = ids[offset:min(len(ids), offset+max)]

	threads := make([]detach.Thread, 0, len(ids))
	for _, id := range ids {
		if err := wait(ctx, g.throttler); err != nil {
			return nil, err
		}
		t, err := g.svc.Users.Threads.Get(user, id).Format("full").Context(ctx).Do()
		if err != nil {
			return nil, classify(fmt.Errorf("failed to get thread %s: %w", id, err))
		}
		thread := detach.Thread{ID: t.Id}
		for _, m := range t.Messages {
			thread.Messages = append(thread.Messages, g.convert(m))
		}
		threads = append(threads, thread)
	}
	slog.Debug("Loaded threads", "query", query, "count", len(threads))
	return threads, nil
}

func (g *GmailProvider) GetMessage(ctx context.Context, id string) (*detach.Message, error) {
	if err := wait(ctx, g.throttler); err != nil {
		return nil, err
	}
	m, err := g.svc.Users.Messages.Get(user, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Errorf("failed to get message %s: %w", id, err))
	}
	if hasLabel(m.LabelIds, "TRASH") {
		return nil, fmt.Errorf("message %s is in the trash: %w", id, detach.ErrNotFound)
	}
	msg := g.convert(m)
	return &msg, nil
}

func (g *GmailProvider) Trash(ctx context.Context, id string) error {
	if err := wait(ctx, g.throttler); err != nil {
		return err
	}
	if _, err := g.svc.Users.Messages.Trash(user, id).Context(ctx).Do(); err != nil {
		return classify(fmt.Errorf("failed to trash message %s: %w", id, err))
	}
	return nil
}

func (g *GmailProvider) Send(ctx context.Context, out detach.Outgoing) error {
	from, err := g.Identity(ctx)
	if err != nil {
		return err
	}
	raw, err := composeRaw(from, out, time.Now())
	if err != nil {
		return fmt.Errorf("failed to compose message: %w", err)
	}
	if err := wait(ctx, g.throttler); err != nil {
		return err
	}
	msg := &gmail.Message{Raw: base64.URLEncoding.EncodeToString(raw)}
	if _, err := g.svc.Users.Messages.Send(user, msg).Context(ctx).Do(); err != nil {
		return classify(fmt.Errorf("failed to send message to %s: %w", out.To, err))
	}
	return nil
}

func (g *GmailProvider) Identity(ctx context.Context) (string, error) {
	if err := wait(ctx, g.throttler); err != nil {
		return "", err
	}
	profile, err := g.svc.Users.GetProfile(user).Context(ctx).Do()
	if err != nil {
		return "", classify(fmt.Errorf("failed to get user profile from Gmail API: %w", err))
	}
	return profile.EmailAddress, nil
}

func (g *GmailProvider) convert(m *gmail.Message) detach.Message {
	msg := detach.Message{
		ID:       m.Id,
		ThreadID: m.ThreadId,
		Date:     time.UnixMilli(m.InternalDate).UTC(),
	}
	if m.Payload == nil {
		return msg
	}
	for _, header := range m.Payload.Headers {
		switch header.Name {
		case "From":
			msg.From = header.Value
		case "To":
			msg.To = header.Value
		case "Cc":
			msg.Cc = header.Value
		case "Subject":
			msg.Subject = header.Value
		}
	}
	msg.Body = htmlBody(m.Payload)
	for _, part := range attachmentParts(m.Payload) {
		msg.Attachments = append(msg.Attachments, g.attachment(m.Id, part))
	}
	return msg
}

// attachment defers the download of large bodies to Open.
func (g *GmailProvider) attachment(messageId string, part *gmail.MessagePart) detach.Attachment {
	body := part.Body
	return detach.Attachment{
		Name:     part.Filename,
		MimeType: part.MimeType,
		Size:     body.Size,
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			data := body.Data
			if data == "" && body.AttachmentId != "" {
				if err := wait(ctx, g.throttler); err != nil {
					return nil, err
				}
				a, err := g.svc.Users.Messages.Attachments.Get(user, messageId, body.AttachmentId).Context(ctx).Do()
				if err != nil {
					return nil, classify(fmt.Errorf("failed to download attachment %q: %w", part.Filename, err))
				}
				data = a.Data
			}
			b, err := decodeBase64URLBytes(data)
			if err != nil {
				return nil, err
			}
			return io.NopCloser(bytes.NewReader(b)), nil
		},
	}
}

func hasLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}
