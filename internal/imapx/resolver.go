package imapx

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// IMAP servers for popular providers, used by the account setup flow
// before falling back to probing.
var knownIMAPServers = map[string]string{
	"gmail.com":      "imap.gmail.com:993",
	"googlemail.com": "imap.gmail.com:993",
	"outlook.com":    "outlook.office365.com:993",
	"hotmail.com":    "outlook.office365.com:993",
	"live.com":       "outlook.office365.com:993",
	"yahoo.com":      "imap.mail.yahoo.com:993",
	"yahoo.co.jp":    "imap.mail.yahoo.co.jp:993",
	"icloud.com":     "imap.mail.me.com:993",
	"me.com":         "imap.mail.me.com:993",
	"aol.com":        "imap.aol.com:993",
	"zoho.com":       "imap.zoho.com:993",
	"fastmail.com":   "imap.fastmail.com:993",
	"gmx.com":        "imap.gmx.com:993",
	"gmx.de":         "imap.gmx.net:993",
	"web.de":         "imap.web.de:993",
	"mail.ru":        "imap.mail.ru:993",
	"yandex.ru":      "imap.yandex.ru:993",
	"yandex.com":     "imap.yandex.com:993",
}

// ResolveServer determines the IMAP server for an email address: known
// providers first, then common host patterns, then MX-derived guesses.
func ResolveServer(email string) (string, error) {
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("invalid email address %q", email)
	}
	domain := strings.ToLower(parts[1])

	if server, ok := knownIMAPServers[domain]; ok {
		return server, nil
	}

	for _, host := range []string{"imap." + domain, "mail." + domain} {
		if probeIMAPPort(host) {
			return host + ":993", nil
		}
	}

	if server, err := resolveViaMX(domain); err == nil {
		return server, nil
	}

	return "imap." + domain + ":993", nil
}

func probeIMAPPort(host string) bool {
	conn, err := net.DialTimeout("tcp", host+":993", 3*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// resolveViaMX derives an IMAP host from the domain's primary MX record,
// e.g. mx.example.com -> imap.example.com.
func resolveViaMX(domain string) (string, error) {
	mxRecords, err := net.LookupMX(domain)
	if err != nil || len(mxRecords) == 0 {
		return "", fmt.Errorf("no MX records for %s", domain)
	}

	mxHost := strings.TrimSuffix(mxRecords[0].Host, ".")
	parts := strings.SplitN(mxHost, ".", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("cannot derive IMAP host from MX %s", mxHost)
	}

	for _, prefix := range []string{"imap.", "mail."} {
		host := prefix + parts[1]
		if probeIMAPPort(host) {
			return host + ":993", nil
		}
	}
	return "", fmt.Errorf("could not determine IMAP server for %s", domain)
}
