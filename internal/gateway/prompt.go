package gateway

import (
	"strings"
)

// SystemInstruction is the fixed schema description sent with every chunk.
const SystemInstruction = `You extract structured knowledge from academic and technical text.

Return a single JSON object with exactly these four keys:
  "principles": array of strings
  "methods": array of strings
  "frameworks": array of strings
  "theories": array of strings

Rules:
- Every value must be an array of plain strings, one concept per string.
- Use an empty array when no concept of that kind appears in the text.
- Do not wrap the JSON in markdown code fences.
- Do not add commentary before or after the JSON.`

// BuildUserPrompt renders the per-chunk user message. Metadata sections are
// omitted when empty.
func BuildUserPrompt(req Request) string {
	var b strings.Builder
	if t := strings.TrimSpace(req.Metadata.Title); t != "" {
		b.WriteString("Title: ")
		b.WriteString(t)
		b.WriteString("\n")
	}
	if a := strings.TrimSpace(req.Metadata.Abstract); a != "" {
		b.WriteString("Abstract: ")
		b.WriteString(a)
		b.WriteString("\n")
	}
	if len(req.Metadata.Keywords) > 0 {
		b.WriteString("Keywords: ")
		b.WriteString(strings.Join(req.Metadata.Keywords, ", "))
		b.WriteString("\n")
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString("Text:\n")
	b.WriteString(req.Text)
	return b.String()
}
