package otel

import (
	"go.opentelemetry.io/otel/attribute"
)

// GenAI semantic convention keys, plus the gateway's own pipeline keys.
const (
	GenAISystem       = attribute.Key("gen_ai.system")
	GenAIRequestModel = attribute.Key("gen_ai.request.model")

	GenAIRequestTemperature = attribute.Key("gen_ai.request.temperature")
	GenAIRequestMaxTokens   = attribute.Key("gen_ai.request.max_tokens")

	GenAIUsageInputTokens  = attribute.Key("gen_ai.usage.input_tokens")
	GenAIUsageOutputTokens = attribute.Key("gen_ai.usage.output_tokens")

	GenAIResponseFinishReason = attribute.Key("gen_ai.response.finish_reason")

	AgentType     = attribute.Key("steward.agent_type")
	TenantID      = attribute.Key("steward.tenant_id")
	CorrelationID = attribute.Key("steward.correlation_id")
	Sensitivity   = attribute.Key("steward.sensitivity")
	SafetyStatus  = attribute.Key("steward.safety_status")
)

// LLMRequestAttributes creates standard attributes for LLM requests
func LLMRequestAttributes(system, model string, temperature float64, maxTokens int) []attribute.KeyValue {
	return []attribute.KeyValue{
		GenAISystem.String(system),
		GenAIRequestModel.String(model),
		GenAIRequestTemperature.Float64(temperature),
		GenAIRequestMaxTokens.Int(maxTokens),
	}
}

// LLMUsageAttributes creates attributes for token usage
func LLMUsageAttributes(inputTokens, outputTokens int) []attribute.KeyValue {
	return []attribute.KeyValue{
		GenAIUsageInputTokens.Int(inputTokens),
		GenAIUsageOutputTokens.Int(outputTokens),
	}
}

// RunAttributes identifies one pipeline run.
func RunAttributes(correlationID, tenantID, agentType, sensitivity string) []attribute.KeyValue {
	return []attribute.KeyValue{
		CorrelationID.String(correlationID),
		TenantID.String(tenantID),
		AgentType.String(agentType),
		Sensitivity.String(sensitivity),
	}
}
