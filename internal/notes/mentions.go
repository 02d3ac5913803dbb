package notes

import (
	"regexp"

	"github.com/MarcoPoloResearchLab/jury/internal/judges"
)

// An @ only opens a mention at the start of the text or after a non-word rune, so emails are skipped.
var mentionPattern = regexp.MustCompile(`(?:^|[^\p{L}\p{N}_@])@(\p{L}[\p{L}\p{M}]*)`)

// ExtractMentions returns the normalized, de-duplicated judge names mentioned in content,
// in order of first appearance.
func ExtractMentions(content string) []string {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	seen := make(map[string]struct{}, len(matches))
	mentions := make([]string, 0, len(matches))
	for _, match := range matches {
		name := judges.NormalizeName(match[1])
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		mentions = append(mentions, name)
	}
	return mentions
}
