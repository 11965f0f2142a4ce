package classifier

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Pattern classes reported by the scanner.
const (
	TypeEmail      = "email"
	TypePhone      = "phone"
	TypeIdentifier = "identifier"
	TypeCreditCard = "credit_card"
)

// PIIPattern is a compiled detection pattern.
type PIIPattern struct {
	Name         string
	Type         string
	Pattern      *regexp.Regexp
	Score        float64
	ContextWords []string
	Sensitivity  int // 1-3, higher = more sensitive
	ValidateLuhn bool
}

// PatternConfig is the YAML form of an additional recognizer.
type PatternConfig struct {
	Name         string   `yaml:"name"`
	Type         string   `yaml:"type"`
	Regex        string   `yaml:"regex"`
	Score        float64  `yaml:"score"`
	ContextWords []string `yaml:"context,omitempty"`
	Sensitivity  int      `yaml:"sensitivity,omitempty"`
}

// DefaultPatterns returns the built-in phone, email and identifier classes.
func DefaultPatterns() []PIIPattern {
	return []PIIPattern{
		{
			Name:        "email_address",
			Type:        TypeEmail,
			Pattern:     regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
			Score:       0.9,
			Sensitivity: 1,
		},
		{
			Name:         "phone_international",
			Type:         TypePhone,
			Pattern:      regexp.MustCompile(`\+\d{1,3}[\s.\-]?\(?\d{1,4}\)?(?:[\s.\-]?\d{2,4}){2,4}\b`),
			Score:        0.7,
			ContextWords: []string{"phone", "mobile", "call", "tel", "contact"},
			Sensitivity:  1,
		},
		{
			Name:         "phone_national",
			Type:         TypePhone,
			Pattern:      regexp.MustCompile(`\(?\b0\d{1,3}\)?[\s.\-]?\d{3,4}[\s.\-]?\d{3,4}\b`),
			Score:        0.5,
			ContextWords: []string{"phone", "mobile", "call", "tel", "contact"},
			Sensitivity:  1,
		},
		{
			Name:         "us_ssn",
			Type:         TypeIdentifier,
			Pattern:      regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			Score:        0.6,
			ContextWords: []string{"ssn", "social security"},
			Sensitivity:  3,
		},
		{
			Name:         "tax_file_number",
			Type:         TypeIdentifier,
			Pattern:      regexp.MustCompile(`\b\d{3}\s\d{3}\s\d{3}\b`),
			Score:        0.4,
			ContextWords: []string{"tfn", "tax file", "tax number"},
			Sensitivity:  3,
		},
		{
			Name:         "passport_or_licence",
			Type:         TypeIdentifier,
			Pattern:      regexp.MustCompile(`\b[A-Z]{1,2}\d{6,8}\b`),
			Score:        0.4,
			ContextWords: []string{"passport", "licence", "license", "id number"},
			Sensitivity:  2,
		},
		{
			Name:         "credit_card",
			Type:         TypeCreditCard,
			Pattern:      regexp.MustCompile(`\b(?:\d[ \-]?){12,18}\d\b`),
			Score:        0.6,
			ContextWords: []string{"card", "visa", "mastercard", "amex"},
			Sensitivity:  3,
			ValidateLuhn: true,
		},
	}
}

// LoadPatternFile reads additional patterns from a YAML file of the form
//
//	patterns:
//	  - name: medicare_number
//	    type: identifier
//	    regex: '\b\d{4} \d{5} \d\b'
//	    score: 0.6
func LoadPatternFile(path string) ([]PIIPattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pattern file: %w", err)
	}
	var doc struct {
		Patterns []PatternConfig `yaml:"patterns"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing pattern file: %w", err)
	}
	return CompilePatterns(doc.Patterns)
}

// CompilePatterns compiles YAML pattern configs.
func CompilePatterns(configs []PatternConfig) ([]PIIPattern, error) {
	out := make([]PIIPattern, 0, len(configs))
	for _, c := range configs {
		if c.Name == "" || c.Type == "" {
			return nil, fmt.Errorf("pattern requires name and type")
		}
		re, err := regexp.Compile(c.Regex)
		if err != nil {
			return nil, fmt.Errorf("compiling pattern %s: %w", c.Name, err)
		}
		score := c.Score
		if score == 0 {
			score = DefaultMinScore
		}
		out = append(out, PIIPattern{
			Name:         c.Name,
			Type:         c.Type,
			Pattern:      re,
			Score:        score,
			ContextWords: c.ContextWords,
			Sensitivity:  c.Sensitivity,
		})
	}
	return out, nil
}
