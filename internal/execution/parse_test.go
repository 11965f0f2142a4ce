package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/steward/internal/testutil"
)

func TestParseOutput(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		structured bool
		citations  int
	}{
		{"bare object", `{"result": "calm reply", "citations": []}`, true, 0},
		{"fenced with language tag", testutil.AnswerWithCitation, true, 1},
		{"fenced without tag", "```\n{\"result\": {\"a\": 1}}\n```", true, 0},
		{"prose around object", `Here you go: {"result": "ok", "citations": [{"transcript_id": "t1", "text": "quote"}]} hope that helps`, true, 1},
		{"plain prose", testutil.AnswerUnstructured, false, 0},
		{"json without result", `{"answer": "x"}`, false, 0},
		{"null result", `{"result": null}`, false, 0},
		{"broken json", `{"result": "unterminated`, false, 0},
		{"empty", ``, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := ParseOutput(tt.text)
			assert.Equal(t, tt.structured, out.Structured)
			assert.Len(t, out.Citations, tt.citations)
			if !tt.structured {
				assert.Equal(t, tt.text, out.Result)
			}
		})
	}
}

func TestParseOutput_StructuredFields(t *testing.T) {
	out := ParseOutput(testutil.AnswerWithCitation)
	require.True(t, out.Structured)

	result, ok := out.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Speaker describes returning to country.", result["summary"])

	require.Len(t, out.Citations, 1)
	c := out.Citations[0]
	assert.Equal(t, "transcript:123", c.TranscriptID)
	assert.Equal(t, 4, c.SegmentIndex)
	assert.Equal(t, "I came home to the river", c.Text)
	assert.InDelta(t, 0.92, c.Confidence, 1e-9)
}

func TestParseOutput_SanitizesCitations(t *testing.T) {
	out := ParseOutput(`{"result": "r", "citations": [
		{"transcript_id": "t1", "text": "<script>alert(1)</script>Aunty's <b>story</b>", "confidence": 1.7},
		{"transcript_id": "", "text": "<img src=x>", "confidence": 0.5}
	]}`)
	require.Len(t, out.Citations, 1)
	assert.Equal(t, "Aunty's story", out.Citations[0].Text)
	assert.Equal(t, 1.0, out.Citations[0].Confidence)
}
