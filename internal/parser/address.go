package parser

import (
	"net/mail"
	"regexp"
	"strings"
)

var (
	angleRegex = regexp.MustCompile(`^"?([^"<]*)"?\s*<([^>]+)>$`)
	spaceRegex = regexp.MustCompile(`\s+`)
)

// Address is a header address split into its canonical parts.
type Address struct {
	Original    string
	Normalized  string // lowercased, whitespace-stripped address
	DisplayName string
}

// NormalizeAddress canonicalizes a "Display Name <addr@host>" header value.
// "Alice <alice@x.com>" and "ALICE@X.COM" normalize to the same address.
func NormalizeAddress(s string) Address {
	original := strings.TrimSpace(s)
	addr := original
	display := ""

	if parsed, err := mail.ParseAddress(original); err == nil {
		addr = parsed.Address
		display = parsed.Name
	} else if m := angleRegex.FindStringSubmatch(original); m != nil {
		display = strings.Trim(m[1], ` "'`)
		addr = m[2]
	}

	normalized := spaceRegex.ReplaceAllString(strings.ToLower(addr), "")
	normalized = strings.Trim(normalized, "<>")

	return Address{
		Original:    original,
		Normalized:  normalized,
		DisplayName: strings.TrimSpace(display),
	}
}
