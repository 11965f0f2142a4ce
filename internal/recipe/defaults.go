package recipe

func threshold(v float64) *float64 { return &v }

// Defaults returns the built-in agent recipes.
func Defaults() []Recipe {
	return []Recipe{
		{
			ID:   "interview-analyzer",
			Name: "Interview Analyzer",
			Role: "You analyse interview transcripts and extract themes, quotes and insights. " +
				"Every insight must be grounded in a quoted transcript segment.",
			DefaultModel:       "claude-3-5-sonnet-20241022",
			FallbackModel:      "claude-3-5-haiku-20241022",
			MaxInputTokens:     16000,
			MaxOutputTokens:    4000,
			DefaultTemperature: 0.3,
			Guardrails: []GuardrailConfig{
				{Kind: GuardrailConsent, Blocking: true, Action: ActionBlock},
				{Kind: GuardrailCultural, Blocking: false, Action: ActionElderReview},
				{Kind: GuardrailPII, Blocking: false, Action: ActionFlag},
				{Kind: GuardrailJurisdiction, Blocking: true, Action: ActionBlock},
				{Kind: GuardrailBudget, Blocking: false, Action: ActionFlag},
			},
			RequiresCitations: true,
			KPIs:              []string{"citation_coverage", "empathy_score", "latency_ms"},
		},
		{
			ID:   "de-escalator",
			Name: "De-escalation Drafter",
			Role: "You draft calm, respectful replies that de-escalate tense conversations " +
				"while honouring the storyteller's voice.",
			DefaultModel:       "gpt-4o",
			FallbackModel:      "gpt-4o-mini",
			MaxInputTokens:     4000,
			MaxOutputTokens:    1000,
			DefaultTemperature: 0.5,
			Guardrails: []GuardrailConfig{
				{Kind: GuardrailConsent, Blocking: true, Action: ActionBlock},
				{Kind: GuardrailCultural, Blocking: false, Action: ActionElderReview},
				{Kind: GuardrailToxicity, Blocking: true, Threshold: threshold(0), Action: ActionBlock},
				{Kind: GuardrailPII, Blocking: false, Action: ActionRedact},
			},
			KPIs: []string{"empathy_score", "refusal_accuracy"},
		},
		{
			ID:   "content-intake",
			Name: "Content Intake",
			Role: "You classify incoming stories, tag themes and flag culturally sensitive " +
				"material for elder review.",
			DefaultModel:       "gpt-4o-mini",
			FallbackModel:      "llama3.1:8b",
			MaxInputTokens:     8000,
			MaxOutputTokens:    800,
			DefaultTemperature: 0.1,
			Guardrails: []GuardrailConfig{
				{Kind: GuardrailConsent, Blocking: true, Action: ActionBlock},
				{Kind: GuardrailCultural, Blocking: false, Action: ActionElderReview},
				{Kind: GuardrailToxicity, Blocking: false, Threshold: threshold(1), Action: ActionElderReview},
				{Kind: GuardrailPII, Blocking: false, Action: ActionFlag},
				{Kind: GuardrailBudget, Blocking: false, Action: ActionFlag},
			},
			KPIs: []string{"sacred_detection_rate", "latency_ms"},
		},
		{
			ID:   "story-summarizer",
			Name: "Story Summarizer",
			Role: "You write short, faithful summaries of personal stories in the storyteller's " +
				"own framing, citing the passages you rely on.",
			DefaultModel:       "claude-3-5-haiku-20241022",
			FallbackModel:      "llama3.1:8b",
			MaxInputTokens:     12000,
			MaxOutputTokens:    1200,
			DefaultTemperature: 0.4,
			Guardrails: []GuardrailConfig{
				{Kind: GuardrailConsent, Blocking: true, Action: ActionBlock},
				{Kind: GuardrailCultural, Blocking: true, Action: ActionElderReview},
				{Kind: GuardrailPII, Blocking: false, Action: ActionRedact},
				{Kind: GuardrailJurisdiction, Blocking: false, Action: ActionFlag},
			},
			HumanInLoopRequired: true,
			RequiresCitations:   true,
			KPIs:                []string{"citation_coverage", "hallucination_rate"},
		},
		{
			ID:   "theme-extractor",
			Name: "Theme Extractor",
			Role: "You identify recurring themes across a collection of transcripts and " +
				"support each with citations.",
			DefaultModel:       "gpt-4o",
			FallbackModel:      "gpt-4o-mini",
			MaxInputTokens:     32000,
			MaxOutputTokens:    2000,
			DefaultTemperature: 0.2,
			Guardrails: []GuardrailConfig{
				{Kind: GuardrailConsent, Blocking: true, Action: ActionBlock},
				{Kind: GuardrailCultural, Blocking: false, Action: ActionElderReview},
				{Kind: GuardrailPII, Blocking: false, Action: ActionFlag},
				{Kind: GuardrailBudget, Blocking: true, Action: ActionBlock},
			},
			RequiresCitations: true,
			KPIs:              []string{"citation_coverage", "quality_score"},
		},
	}
}
