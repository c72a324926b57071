package prompt

import "strings"

const maxSuggestions = 3

// SplitSuggestions separates a finished reply into the answer shown to the
// visitor and the follow-up suggestions listed after the delimiter. A reply
// without the delimiter has no suggestions.
func SplitSuggestions(reply string) (string, []string) {
	idx := strings.LastIndex(reply, SuggestionsDelimiter)
	if idx < 0 {
		return strings.TrimSpace(reply), nil
	}

	answer := strings.TrimSpace(reply[:idx])
	var suggestions []string
	for _, line := range strings.Split(reply[idx+len(SuggestionsDelimiter):], "\n") {
		line = trimBullet(strings.TrimSpace(line))
		if line == "" {
			continue
		}
		suggestions = append(suggestions, line)
		if len(suggestions) == maxSuggestions {
			break
		}
	}
	return answer, suggestions
}

func trimBullet(line string) string {
	line = strings.TrimLeft(line, "-*• ")
	if len(line) > 2 && line[0] >= '1' && line[0] <= '9' && (line[1] == '.' || line[1] == ')') {
		line = line[2:]
	}
	return strings.TrimSpace(line)
}
