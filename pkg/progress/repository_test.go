package progress

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncatePassesShortMessagesThrough(t *testing.T) {
	if got := Truncate("connection refused"); got != "connection refused" {
		t.Fatalf("short message must be untouched, got %q", got)
	}
}

func TestTruncateCapsAtMaxErrorLength(t *testing.T) {
	long := strings.Repeat("x", MaxErrorLength+100)
	got := Truncate(long)
	if len(got) != MaxErrorLength {
		t.Fatalf("expected %d bytes, got %d", MaxErrorLength, len(got))
	}
}

func TestTruncateNeverSplitsARune(t *testing.T) {
	// Pad so a two-byte rune straddles the cut point.
	msg := strings.Repeat("a", MaxErrorLength-1) + strings.Repeat("é", 50)
	got := Truncate(msg)
	if len(got) > MaxErrorLength {
		t.Fatalf("expected at most %d bytes, got %d", MaxErrorLength, len(got))
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncated message is not valid UTF-8: %q", got)
	}
}
