package execution

import (
	"encoding/json"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/dativo-io/steward/internal/agentapi"
)

var citationPolicy = bluemonday.StrictPolicy()

// Output is a parsed model answer.
type Output struct {
	Result    any
	Citations []agentapi.Citation
	// Structured is false when the answer was not a {result, citations}
	// object and Result holds the raw text.
	Structured bool
}

type structuredOutput struct {
	Result    json.RawMessage `json:"result"`
	Citations []struct {
		TranscriptID string  `json:"transcript_id"`
		SegmentIndex int     `json:"segment_index"`
		Text         string  `json:"text"`
		Confidence   float64 `json:"confidence"`
	} `json:"citations"`
}

// ParseOutput extracts the {result, citations} object from a model answer.
// The object may be wrapped in a fenced code block or surrounded by prose.
// Anything that does not parse falls back to the raw text with no citations.
func ParseOutput(text string) Output {
	raw := Output{Result: text}
	for _, candidate := range jsonCandidates(text) {
		var so structuredOutput
		if err := json.Unmarshal([]byte(candidate), &so); err != nil || len(so.Result) == 0 {
			continue
		}
		var result any
		if err := json.Unmarshal(so.Result, &result); err != nil || result == nil {
			continue
		}
		out := Output{Result: result, Structured: true}
		for _, c := range so.Citations {
			clean := sanitizeCitation(c.Text)
			if clean == "" && c.TranscriptID == "" {
				continue
			}
			out.Citations = append(out.Citations, agentapi.Citation{
				TranscriptID: c.TranscriptID,
				SegmentIndex: c.SegmentIndex,
				Text:         clean,
				Confidence:   clamp01(c.Confidence),
			})
		}
		return out
	}
	return raw
}

// jsonCandidates returns substrings that may hold the answer object, most
// specific first: fenced blocks, then the outermost braces.
func jsonCandidates(text string) []string {
	var out []string
	rest := text
	for {
		start := strings.Index(rest, "```")
		if start < 0 {
			break
		}
		body := rest[start+3:]
		end := strings.Index(body, "```")
		if end < 0 {
			break
		}
		block := body[:end]
		if nl := strings.IndexByte(block, '\n'); nl >= 0 && !strings.Contains(block[:nl], "{") {
			block = block[nl+1:] // drop the language tag
		}
		out = append(out, strings.TrimSpace(block))
		rest = body[end+3:]
	}
	if first, last := strings.IndexByte(text, '{'), strings.LastIndexByte(text, '}'); first >= 0 && last > first {
		out = append(out, text[first:last+1])
	}
	return out
}

func sanitizeCitation(s string) string {
	return strings.TrimSpace(html.UnescapeString(citationPolicy.Sanitize(s)))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
