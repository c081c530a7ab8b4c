package cuid2

import (
	"regexp"
	"strings"
	"testing"
)

func TestEncodeTimestampBase62(t *testing.T) {
	tests := []struct {
		name     string
		seconds  int64
		expected string
	}{
		{"Zero timestamp", 0, "000000"},
		{"One second", 1, "000001"},
		{"62 seconds", 62, "000010"},
		{"One minute", 60, "00000y"},
		{"One hour", 3600, "0000w4"},
		{"One day", 86400, "000MTY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := EncodeTimestampBase62(tt.seconds)
			if result != tt.expected {
				t.Errorf("EncodeTimestampBase62(%d) = %s, want %s", tt.seconds, result, tt.expected)
			}
		})
	}
}

func TestEncodeTimestampBase62Sortable(t *testing.T) {
	// Lexicographic order must follow numeric order.
	previous := EncodeTimestampBase62(0)
	for _, seconds := range []int64{1, 60, 3600, 86400, 1704067200} {
		encoded := EncodeTimestampBase62(seconds)
		if encoded <= previous {
			t.Errorf("EncodeTimestampBase62(%d) = %s, not greater than %s", seconds, encoded, previous)
		}
		previous = encoded
	}
}

func TestGeneratePrefixedID(t *testing.T) {
	pattern := regexp.MustCompile(`^job_[0-9A-Za-z]{24}$`)

	id := GeneratePrefixedID("job")
	if !pattern.MatchString(id) {
		t.Errorf("GeneratePrefixedID(%q) = %q, does not match %s", "job", id, pattern)
	}
	if !strings.HasPrefix(id, "job_") {
		t.Errorf("GeneratePrefixedID(%q) = %q, missing prefix", "job", id)
	}
}

func TestGeneratePrefixedIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := GeneratePrefixedID("node")
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}
