package imapx

import (
	"context"
	"fmt"
	"strings"

	"github.com/emersion/go-imap"
)

// Localized sent-folder names seen across providers. Gmail's Japanese
// locale names the folder 送信済みメール.
var sentFolderNames = []string{
	"Sent",
	"Sent Mail",
	"Sent Items",
	"Sent Messages",
	"[Gmail]/Sent Mail",
	"[Gmail]/送信済みメール",
	"送信済み",
	"送信済みメール",
	"Gesendet",
	"Envoyés",
}

// ListFolders lists all folders visible to the account.
func (c *Conn) ListFolders(ctx context.Context) ([]*imap.MailboxInfo, error) {
	if !c.VerifyState(ctx, []State{StateAuthenticated, StateFolderSelected}, true, "") {
		return nil, ErrConnection
	}

	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return nil, ErrConnection
	}

	ch := make(chan *imap.MailboxInfo, 64)
	done := make(chan error, 1)
	go func() {
		done <- sess.List("", "*", ch)
	}()

	var mailboxes []*imap.MailboxInfo
	for mb := range ch {
		mailboxes = append(mailboxes, mb)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrProtocol, err)
	}
	return mailboxes, nil
}

// FindSentFolder returns the provider's sent folder. Not every provider
// exposes one; absence is reported with ok=false, not an error.
func (c *Conn) FindSentFolder(ctx context.Context) (string, bool, error) {
	mailboxes, err := c.ListFolders(ctx)
	if err != nil {
		return "", false, err
	}
	name, ok := SentFolder(mailboxes)
	return name, ok, nil
}

// SentFolder scans folder metadata for a sent designation, preferring the
// RFC 6154 \Sent special-use attribute over name matching.
func SentFolder(mailboxes []*imap.MailboxInfo) (string, bool) {
	for _, mb := range mailboxes {
		if mb == nil || hasAttr(mb.Attributes, imap.NoSelectAttr) {
			continue
		}
		if hasAttr(mb.Attributes, imap.SentAttr) {
			return mb.Name, true
		}
	}
	for _, mb := range mailboxes {
		if mb == nil || hasAttr(mb.Attributes, imap.NoSelectAttr) {
			continue
		}
		for _, known := range sentFolderNames {
			if strings.EqualFold(mb.Name, known) || strings.EqualFold(baseName(mb), known) {
				return mb.Name, true
			}
		}
	}
	return "", false
}

func hasAttr(attrs []string, target string) bool {
	for _, a := range attrs {
		if strings.EqualFold(a, target) {
			return true
		}
	}
	return false
}

// baseName strips the hierarchy prefix, e.g. "[Gmail]/Sent Mail" -> "Sent Mail".
func baseName(mb *imap.MailboxInfo) string {
	delim := mb.Delimiter
	if delim == "" {
		delim = "/"
	}
	parts := strings.Split(mb.Name, delim)
	return parts[len(parts)-1]
}
