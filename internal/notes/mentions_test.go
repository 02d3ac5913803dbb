package notes

import (
	"reflect"
	"testing"
)

func TestExtractMentions(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		want    []string
	}{
		{name: "single", content: "@alice please check the demo", want: []string{"alice"}},
		{name: "several in order", content: "cc @Bob, @alice and @bob", want: []string{"bob", "alice"}},
		{name: "diacritics folded", content: "thanks @José", want: []string{"jose"}},
		{name: "email ignored", content: "mail bob@example.com", want: []string{}},
		{name: "bare at sign", content: "meet @ noon", want: []string{}},
		{name: "adjacent punctuation", content: "(@carol)", want: []string{"carol"}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			got := ExtractMentions(testCase.content)
			if !reflect.DeepEqual(got, testCase.want) {
				t.Fatalf("ExtractMentions(%q) = %v, want %v", testCase.content, got, testCase.want)
			}
		})
	}
}

func TestNewContentBounds(t *testing.T) {
	if _, err := NewContent("   "); err == nil {
		t.Fatalf("expected empty content to be rejected")
	}
	long := make([]byte, maxContentLength+1)
	for index := range long {
		long[index] = 'x'
	}
	if _, err := NewContent(string(long)); err == nil {
		t.Fatalf("expected oversized content to be rejected")
	}
	content, err := NewContent("  looks good  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content.String() != "looks good" {
		t.Fatalf("expected trimmed content, got %q", content)
	}
}
