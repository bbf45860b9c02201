package parser

import "testing"

func TestNormalizeAddress(t *testing.T) {
	cases := []struct {
		in          string
		normalized  string
		displayName string
	}{
		{"alice@example.com", "alice@example.com", ""},
		{"ALICE@Example.COM", "alice@example.com", ""},
		{"Alice <alice@example.com>", "alice@example.com", "Alice"},
		{`"Alice Smith" <alice@example.com>`, "alice@example.com", "Alice Smith"},
		{"  alice@example.com  ", "alice@example.com", ""},
		{"<alice@example.com>", "alice@example.com", ""},
		{"山田 太郎 <taro@example.co.jp>", "taro@example.co.jp", "山田 太郎"},
	}
	for _, tc := range cases {
		got := NormalizeAddress(tc.in)
		if got.Normalized != tc.normalized {
			t.Errorf("NormalizeAddress(%q).Normalized = %q, want %q", tc.in, got.Normalized, tc.normalized)
		}
		if got.DisplayName != tc.displayName {
			t.Errorf("NormalizeAddress(%q).DisplayName = %q, want %q", tc.in, got.DisplayName, tc.displayName)
		}
	}
}

func TestNormalizeAddressVariantsCollapse(t *testing.T) {
	variants := []string{
		"alice@example.com",
		"ALICE@EXAMPLE.COM",
		"Alice <alice@example.com>",
		`"Alice" <ALICE@example.com>`,
	}
	want := NormalizeAddress(variants[0]).Normalized
	for _, v := range variants[1:] {
		if got := NormalizeAddress(v).Normalized; got != want {
			t.Errorf("NormalizeAddress(%q).Normalized = %q, want %q", v, got, want)
		}
	}
}

func TestNormalizeAddressEmpty(t *testing.T) {
	if got := NormalizeAddress("").Normalized; got != "" {
		t.Errorf("NormalizeAddress(\"\").Normalized = %q, want empty", got)
	}
}
