package slug_test

import (
	"strings"
	"testing"

	"biomon/internal/platform/slug"
)

func TestMake(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in, want string
	}{
		{"Ada Lovelace", "ada-lovelace"},
		{"  José Núñez ", "jose-nunez"},
		{"O'Brien #7", "o-brien-7"},
		{"日本", "session"},
		{"", "session"},
	}
	for _, tc := range cases {
		if got := slug.Make(tc.in, "session"); got != tc.want {
			t.Fatalf("Make(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMakeCapsLength(t *testing.T) {
	t.Parallel()
	got := slug.Make(strings.Repeat("ab ", 40), "x")
	if len(got) > 48 || strings.HasSuffix(got, "-") {
		t.Fatalf("unexpected slug %q", got)
	}
}
