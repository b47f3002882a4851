package tools

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"resource_search", "resource_search"},
		{"resourceSearch", "resource_search"},
		{"ResourceSearch", "resource_search"},
		{"flashcard-create", "flashcard_create"},
		{"call writer agent", "call_writer_agent"},
		{"web.fetch", "web_fetch"},
		{"  __spaced__  ", "spaced"},
		{"get2Items", "get2_items"},
		{"HTTPRequest", "httprequest"},
		{"résumé!", "r_sum"},
		{"", "tool"},
		{"!!!", "tool"},
		{"a--b__c", "a_b_c"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeLength(t *testing.T) {
	long := strings.Repeat("abc", 40)
	got := Normalize(long)
	assert.Len(t, got, MaxNameLength)

	// A cut landing on a separator must not leave a trailing underscore.
	edge := strings.Repeat("a", MaxNameLength-1) + "_bbbb"
	got = Normalize(edge)
	assert.Equal(t, strings.Repeat("a", MaxNameLength-1), got)
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"", "x", "resourceSearch", "Resource Search", "a1B2c3", "CALL_WRITER_AGENT",
		"__a__", "ünïcödé", "tab\tsep", "mixed-Case_and.dots", "aB", "AbCdEf",
		strings.Repeat("zY", 50), strings.Repeat("_", 70), "x9Y", "9lives",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func FuzzNormalizeIdempotent(f *testing.F) {
	f.Add("resourceSearch")
	f.Add("Weird Name!!")
	f.Add("")
	f.Fuzz(func(t *testing.T, s string) {
		once := Normalize(s)
		if twice := Normalize(once); twice != once {
			t.Fatalf("Normalize not idempotent: %q -> %q -> %q", s, once, twice)
		}
		if len(once) > MaxNameLength {
			t.Fatalf("Normalize(%q) too long: %d", s, len(once))
		}
	})
}
