package parser

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// Placeholder values keep downstream storage and search consistent;
// subject and body are never stored empty.
const (
	NoSubject = "no subject"
	NoBody    = "no body"
)

// ParsedMessage is the normalized record decoded from raw message bytes.
type ParsedMessage struct {
	MessageID   string
	From        string // raw decoded From header
	To          string // raw decoded To header
	FromAddr    Address
	ToAddr      Address
	Subject     string
	Body        string
	BodyHash    string
	BodyPreview string
	Date        time.Time
	IsSent      bool
}

// Parser decodes MIME messages into ParsedMessages.
type Parser struct {
	previewLen int
}

// New creates a parser. previewLen bounds the stored body preview in runes.
func New(previewLen int) *Parser {
	if previewLen <= 0 {
		previewLen = 1000
	}
	return &Parser{previewLen: previewLen}
}

// Parse decodes raw RFC 822 bytes. accountAddr is the syncing account's own
// address, used to classify sent messages by exact address comparison.
// Any failure is returned as an error so the caller can skip the message
// without aborting its batch.
func (p *Parser) Parse(raw []byte, accountAddr string) (*ParsedMessage, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}

	msg := &ParsedMessage{}

	if subject, err := mr.Header.Subject(); err == nil {
		msg.Subject = strings.TrimSpace(subject)
	}
	if msg.Subject == "" {
		msg.Subject = NoSubject
	}

	if date, err := mr.Header.Date(); err == nil {
		msg.Date = date
	}

	if id, err := mr.Header.MessageID(); err == nil {
		msg.MessageID = id
	}

	msg.From = headerAddress(&mr.Header, "From")
	msg.To = headerAddress(&mr.Header, "To")
	msg.FromAddr = NormalizeAddress(msg.From)
	msg.ToAddr = NormalizeAddress(msg.To)

	plain, html := readBodyParts(mr)
	switch {
	case plain != "":
		msg.Body = plain
	case html != "":
		msg.Body = stripTags(html)
	}
	if strings.TrimSpace(msg.Body) == "" {
		msg.Body = NoBody
	}

	sum := sha256.Sum256([]byte(msg.Body))
	msg.BodyHash = hex.EncodeToString(sum[:])
	msg.BodyPreview = truncateRunes(stripTags(msg.Body), p.previewLen)

	if msg.MessageID == "" {
		msg.MessageID = syntheticID(msg)
	}

	account := NormalizeAddress(accountAddr)
	msg.IsSent = account.Normalized != "" && account.Normalized == msg.FromAddr.Normalized

	return msg, nil
}

// headerAddress returns the decoded header value, preferring the parsed
// address list over the raw text.
func headerAddress(h *mail.Header, key string) string {
	if list, err := h.AddressList(key); err == nil && len(list) > 0 {
		parts := make([]string, 0, len(list))
		for _, a := range list {
			parts = append(parts, a.String())
		}
		return strings.Join(parts, ", ")
	}
	if text, err := h.Text(key); err == nil {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(h.Get(key))
}

// readBodyParts walks the MIME parts and returns the first plain-text and
// first HTML bodies found. Part read errors end the walk with whatever was
// already collected; decoding falls back through legacy charsets before
// accepting lossy replacement.
func readBodyParts(mr *mail.Reader) (plain, html string) {
	for {
		part, err := mr.NextPart()
		if err == io.EOF || err != nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()

		switch {
		case strings.HasPrefix(ct, "text/plain") && plain == "":
			if b, err := io.ReadAll(part.Body); err == nil {
				plain = decodeFallback(b)
			}
		case strings.HasPrefix(ct, "text/html") && html == "":
			if b, err := io.ReadAll(part.Body); err == nil {
				html = decodeFallback(b)
			}
		}
		if plain != "" && html != "" {
			break
		}
	}
	return plain, html
}

// syntheticID derives a stable identifier for messages lacking a native
// Message-ID, so re-processing the same bytes is idempotent.
func syntheticID(msg *ParsedMessage) string {
	prefix := msg.Body
	if len(prefix) > 256 {
		prefix = prefix[:256]
	}
	composite := strings.Join([]string{
		msg.FromAddr.Normalized,
		msg.ToAddr.Normalized,
		msg.Date.UTC().Format(time.RFC3339),
		prefix,
	}, "|")
	sum := sha256.Sum256([]byte(composite))
	return "derived-" + hex.EncodeToString(sum[:])
}
