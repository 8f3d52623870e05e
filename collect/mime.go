package collect

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/jyothri/detach/detach"
	"google.golang.org/api/gmail/v1"
)

// extractText recursively walks a MIME part tree and returns the first
// body of the given type found (base64url decoded).
func extractText(part *gmail.MessagePart, mimeType string) string {
	if part == nil {
		return ""
	}
	if strings.EqualFold(part.MimeType, mimeType) && part.Filename == "" && part.Body != nil && part.Body.Data != "" {
		return decodeBase64URL(part.Body.Data)
	}
	for _, sub := range part.Parts {
		if body := extractText(sub, mimeType); body != "" {
			return body
		}
	}
	return ""
}

// htmlBody prefers the HTML alternative and falls back to escaped plain text.
func htmlBody(payload *gmail.MessagePart) string {
	if body := extractText(payload, "text/html"); body != "" {
		return body
	}
	plain := extractText(payload, "text/plain")
	if plain == "" {
		return ""
	}
	return "<pre>" + html.EscapeString(plain) + "</pre>"
}

// attachmentParts lists the parts carrying a file name in tree order.
func attachmentParts(part *gmail.MessagePart) []*gmail.MessagePart {
	if part == nil {
		return nil
	}
	var out []*gmail.MessagePart
	if part.Filename != "" && part.Body != nil {
		out = append(out, part)
	}
	for _, sub := range part.Parts {
		out = append(out, attachmentParts(sub)...)
	}
	return out
}

func decodeBase64URL(data string) string {
	b, err := decodeBase64URLBytes(data)
	if err != nil {
		return ""
	}
	return string(b)
}

func decodeBase64URLBytes(data string) ([]byte, error) {
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		// Gmail uses unpadded base64url
		b, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("decode base64url: %w", err)
		}
	}
	return b, nil
}

// composeRaw renders out as an RFC 5322 message with text and HTML
// alternatives.
func composeRaw(from string, out detach.Outgoing, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetSubject(out.Subject)
	if from != "" {
		h.SetAddressList("From", []*mail.Address{{Address: from}})
	}
	to, err := mail.ParseAddressList(out.To)
	if err != nil {
		return nil, fmt.Errorf("parse recipient %q: %w", out.To, err)
	}
	h.SetAddressList("To", to)

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	tw, err := mw.CreateInline()
	if err != nil {
		return nil, err
	}
	if err := writeInline(tw, "text/plain", out.TextBody); err != nil {
		return nil, err
	}
	if err := writeInline(tw, "text/html", out.HTMLBody); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeInline(tw *mail.InlineWriter, contentType, body string) error {
	var th mail.InlineHeader
	th.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := tw.CreatePart(th)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, body); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
