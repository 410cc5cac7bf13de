package genai

import "regexp"

var fencedJSON = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// ExtractFencedJSON pulls the first ```json fenced block out of a model
// response. Models asked for structured output wrap it in a fence and often
// add prose around it.
func ExtractFencedJSON(text string) (string, bool) {
	m := fencedJSON.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}
