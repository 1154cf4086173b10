package security

import (
	"strings"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain kind", "hillshade", "hillshade"},
		{"keeps dots and dashes", "color-relief.v2", "color-relief.v2"},
		{"path separators", "../etc/passwd", "etc_passwd"},
		{"collapses runs", "a///b", "a_b"},
		{"spaces", "sky view factor", "sky_view_factor"},
		{"empty", "", "unknown"},
		{"only junk", "///", "unknown"},
		{"trims edges", "_chm_", "chm"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeFilename(tc.in); got != tc.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSanitizeFilenameCapsLength(t *testing.T) {
	long := strings.Repeat("a", 500)
	if got := SanitizeFilename(long); len(got) > 128 {
		t.Errorf("len = %d, want <= 128", len(got))
	}
}
