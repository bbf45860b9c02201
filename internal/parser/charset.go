package parser

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
)

// Fallback chain for bodies whose declared charset is missing or wrong.
// Japanese legacy encodings come first; the original deployments mostly
// synced Japanese-locale mailboxes.
var fallbackEncodings = []encoding.Encoding{
	japanese.ISO2022JP,
	japanese.EUCJP,
	japanese.ShiftJIS,
	charmap.Windows1252,
}

// decodeFallback turns raw text bytes into valid UTF-8: already-valid bytes
// pass through, then each legacy encoding is tried, and as a last resort
// invalid sequences are replaced rather than failing the message.
func decodeFallback(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	for _, enc := range fallbackEncodings {
		decoded, err := enc.NewDecoder().Bytes(b)
		if err != nil || !utf8.Valid(decoded) {
			continue
		}
		// A decoder that had to emit replacement runes guessed wrong;
		// let the next encoding try.
		if !bytes.ContainsRune(decoded, utf8.RuneError) {
			return string(decoded)
		}
	}
	return string([]rune(string(b))) // replaces invalid sequences with U+FFFD
}
