package safety

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/dativo-io/steward/internal/agentapi"
)

// Default vocabularies for the keyword classifier.
var (
	DefaultSacredTerms = []string{
		"sacred site", "sacred", "secret business", "men's business", "women's business",
		"sorry business", "initiation", "songline",
	}
	DefaultCeremonialTerms = []string{
		"ceremony", "ceremonial", "smoking ceremony", "corroboree", "burial", "funeral rites",
	}
	DefaultAbusiveTerms = []string{
		"idiot", "stupid", "moron", "worthless", "shut up", "hate you", "pathetic",
	}
	DefaultThreatTerms = []string{
		"kill you", "hurt you", "burn your", "you will pay",
	}
)

// KeywordClassifier is a local classifier used when no classifier service is
// configured. It matches whole words and phrases case-insensitively.
type KeywordClassifier struct {
	sacred     *termSet
	ceremonial *termSet
	abusive    *termSet
	threats    *termSet
}

// NewKeywordClassifier builds a classifier from the default vocabularies.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		sacred:     newTermSet(DefaultSacredTerms),
		ceremonial: newTermSet(DefaultCeremonialTerms),
		abusive:    newTermSet(DefaultAbusiveTerms),
		threats:    newTermSet(DefaultThreatTerms),
	}
}

// Classify scans req.Content for cultural and abusive vocabulary.
func (k *KeywordClassifier) Classify(ctx context.Context, req Request) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}

	sacred := k.sacred.find(req.Content)
	ceremonial := k.ceremonial.find(req.Content)
	abusive := k.abusive.find(req.Content)
	threats := k.threats.find(req.Content)

	v := Verdict{
		Approved: true,
		Level:    LevelSafe,
		Cultural: CulturalContext{
			Sensitivity: req.Sensitivity,
			Sacred:      len(sacred) > 0,
			Ceremonial:  len(ceremonial) > 0,
		},
	}

	for _, t := range threats {
		v.Concerns = append(v.Concerns, "toxicity: threat '"+t+"'")
	}
	for _, t := range abusive {
		v.Concerns = append(v.Concerns, "toxicity: abusive term '"+t+"'")
	}
	for _, t := range sacred {
		v.Concerns = append(v.Concerns, "sacred_content: '"+t+"'")
	}

	switch {
	case len(threats) > 0:
		v.Approved = false
		v.Level = LevelBlocked
		v.Recommendations = append(v.Recommendations, "do not process threatening content automatically")
	case len(abusive) > 0:
		v.Level = LevelReviewRequired
		v.Recommendations = append(v.Recommendations, "respond with de-escalation")
	}

	if v.Cultural.Sacred || req.RequiresElderReview {
		v.ElderReviewRequired = true
		if v.Level == LevelSafe {
			v.Level = LevelReviewRequired
		}
		v.Cultural.RequiredProtocols = append(v.Cultural.RequiredProtocols, "elder_consultation")
	}
	if v.Cultural.Ceremonial {
		v.Cultural.RequiredProtocols = append(v.Cultural.RequiredProtocols, "ceremonial_protocol")
	}
	if v.Cultural.Sacred && !v.Cultural.Sensitivity.AtLeast(agentapi.SensitivityHigh) {
		v.Cultural.Sensitivity = agentapi.SensitivityHigh
	}
	return v, nil
}

type termSet struct {
	re *regexp.Regexp
}

func newTermSet(terms []string) *termSet {
	sorted := append([]string(nil), terms...)
	// Longest first so phrases win over their single-word prefixes.
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	quoted := make([]string, len(sorted))
	for i, t := range sorted {
		quoted[i] = regexp.QuoteMeta(strings.ToLower(t))
	}
	return &termSet{re: regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)}
}

func (s *termSet) find(text string) []string {
	matches := s.re.FindAllString(strings.ToLower(text), -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}
