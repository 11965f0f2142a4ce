// Package classifier detects personal information in model output using
// regex pattern classes with context-word scoring.
package classifier

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	stewardotel "github.com/dativo-io/steward/internal/otel"
)

var tracer = stewardotel.Tracer("github.com/dativo-io/steward/internal/classifier")

const (
	// DefaultMinScore is the minimum confidence a match needs to be reported.
	DefaultMinScore = 0.5

	// ContextBoost is added to a match's score when a context word is nearby.
	ContextBoost = 0.35

	// ContextWindowChars is how far around a match context words are searched.
	ContextWindowChars = 100
)

// PIIEntity represents a detected PII instance.
type PIIEntity struct {
	Type        string  `json:"type"`
	Value       string  `json:"value"`
	Position    int     `json:"position"`
	Confidence  float64 `json:"confidence"`
	Sensitivity int     `json:"sensitivity"`
}

// Classification holds the result of PII scanning.
type Classification struct {
	HasPII   bool        `json:"has_pii"`
	Entities []PIIEntity `json:"entities"`
	Tier     int         `json:"tier"` // 0-2
}

// Types returns the distinct entity types found, sorted.
func (c *Classification) Types() []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range c.Entities {
		if !seen[e.Type] {
			seen[e.Type] = true
			out = append(out, e.Type)
		}
	}
	sort.Strings(out)
	return out
}

// Scanner detects PII in text.
type Scanner struct {
	patterns []PIIPattern
	minScore float64
}

// ScannerOption configures a Scanner.
type ScannerOption func(*scannerConfig)

type scannerConfig struct {
	extra    []PIIPattern
	enabled  []string
	disabled []string
	minScore float64
}

// WithMinScore overrides DefaultMinScore.
func WithMinScore(score float64) ScannerOption {
	return func(c *scannerConfig) { c.minScore = score }
}

// WithPatterns adds patterns on top of the defaults.
func WithPatterns(p []PIIPattern) ScannerOption {
	return func(c *scannerConfig) { c.extra = append(c.extra, p...) }
}

// WithEnabledTypes restricts scanning to the given types.
func WithEnabledTypes(types []string) ScannerOption {
	return func(c *scannerConfig) { c.enabled = types }
}

// WithDisabledTypes excludes the given types.
func WithDisabledTypes(types []string) ScannerOption {
	return func(c *scannerConfig) { c.disabled = types }
}

// NewScanner creates a scanner over DefaultPatterns plus any options.
func NewScanner(opts ...ScannerOption) (*Scanner, error) {
	var cfg scannerConfig
	for _, o := range opts {
		o(&cfg)
	}
	all := append(DefaultPatterns(), cfg.extra...)
	for _, p := range all {
		if p.Pattern == nil {
			return nil, fmt.Errorf("pattern %s has no regex", p.Name)
		}
	}
	minScore := DefaultMinScore
	if cfg.minScore > 0 {
		minScore = cfg.minScore
	}
	return &Scanner{
		patterns: filterByTypes(all, cfg.enabled, cfg.disabled),
		minScore: minScore,
	}, nil
}

// MustNewScanner is like NewScanner but panics on error.
func MustNewScanner(opts ...ScannerOption) *Scanner {
	s, err := NewScanner(opts...)
	if err != nil {
		panic(fmt.Sprintf("classifier.NewScanner: %v", err))
	}
	return s
}

// Scan analyzes text for PII.
func (s *Scanner) Scan(ctx context.Context, text string) *Classification {
	_, span := tracer.Start(ctx, "classifier.scan")
	defer span.End()

	result := &Classification{Entities: []PIIEntity{}}

	for _, pattern := range s.patterns {
		for _, match := range pattern.Pattern.FindAllStringIndex(text, -1) {
			value := text[match[0]:match[1]]
			if pattern.ValidateLuhn && !luhnValid(stripNonDigits(value)) {
				continue
			}
			confidence := enhanceScoreWithContext(text, match[0], pattern.Score, pattern.ContextWords)
			if confidence < s.minScore {
				continue
			}
			result.Entities = append(result.Entities, PIIEntity{
				Type:        pattern.Type,
				Value:       value,
				Position:    match[0],
				Confidence:  confidence,
				Sensitivity: pattern.Sensitivity,
			})
			result.HasPII = true
		}
	}
	result.Tier = determineTier(result.Entities)

	span.SetAttributes(
		attribute.Bool("pii.detected", result.HasPII),
		attribute.Int("pii.entity_count", len(result.Entities)),
		attribute.Int("pii.tier", result.Tier),
	)
	return result
}

// Redact replaces PII with type placeholders such as "[EMAIL]". Overlapping
// matches are merged, keeping the more sensitive type.
func (s *Scanner) Redact(ctx context.Context, text string) string {
	ctx, span := tracer.Start(ctx, "classifier.redact")
	defer span.End()

	classification := s.Scan(ctx, text)
	if !classification.HasPII {
		return text
	}

	type match struct {
		start, end  int
		ptype       string
		sensitivity int
	}
	matches := make([]match, len(classification.Entities))
	for i, e := range classification.Entities {
		matches[i] = match{start: e.Position, end: e.Position + len(e.Value), ptype: e.Type, sensitivity: e.Sensitivity}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].start != matches[j].start {
			return matches[i].start < matches[j].start
		}
		return matches[i].end-matches[i].start > matches[j].end-matches[j].start
	})

	var merged []match
	for _, m := range matches {
		if n := len(merged); n > 0 && m.start < merged[n-1].end {
			last := &merged[n-1]
			if m.sensitivity > last.sensitivity {
				last.ptype, last.sensitivity = m.ptype, m.sensitivity
			}
			if m.end > last.end {
				last.end = m.end
			}
			continue
		}
		merged = append(merged, m)
	}

	var b strings.Builder
	prev := 0
	for _, m := range merged {
		b.WriteString(text[prev:m.start])
		b.WriteString("[" + strings.ToUpper(m.ptype) + "]")
		prev = m.end
	}
	b.WriteString(text[prev:])
	return b.String()
}

// determineTier: 0 = no PII, 1 = low-sensitivity PII, 2 = any entity with
// sensitivity >= 2.
func determineTier(entities []PIIEntity) int {
	if len(entities) == 0 {
		return 0
	}
	for _, e := range entities {
		if e.Sensitivity >= 2 {
			return 2
		}
	}
	return 1
}

// luhnValid checks a digit string with the Luhn algorithm (ISO/IEC 7812).
func luhnValid(number string) bool {
	n := len(number)
	if n < 2 {
		return false
	}
	sum := 0
	alt := false
	for i := n - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if alt {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		alt = !alt
	}
	return sum%10 == 0
}

func enhanceScoreWithContext(text string, position int, baseScore float64, contextWords []string) float64 {
	if len(contextWords) == 0 {
		return baseScore
	}
	start := position - ContextWindowChars
	if start < 0 {
		start = 0
	}
	end := position + ContextWindowChars
	if end > len(text) {
		end = len(text)
	}
	window := strings.ToLower(text[start:end])
	for _, cw := range contextWords {
		if strings.Contains(window, strings.ToLower(cw)) {
			return baseScore + ContextBoost
		}
	}
	return baseScore
}

func stripNonDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		if ch >= '0' && ch <= '9' {
			b.WriteRune(ch)
		}
	}
	return b.String()
}
