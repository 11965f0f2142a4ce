package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	stewardotel "github.com/dativo-io/steward/internal/otel"
)

// bedrockInvoker is the subset of the Bedrock runtime client the provider uses.
type bedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockProvider implements Provider for AWS Bedrock. Authentication uses the
// default AWS credential chain.
type BedrockProvider struct {
	client bedrockInvoker
	region string
}

// NewBedrockProvider loads AWS configuration for region and creates a runtime
// client.
func NewBedrockProvider(ctx context.Context, region string) (*BedrockProvider, error) {
	if region == "" {
		region = "ap-southeast-2"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for bedrock (region %s): %w", region, err)
	}
	return &BedrockProvider{client: bedrockruntime.NewFromConfig(awsCfg), region: region}, nil
}

func newBedrockProviderWithClient(client bedrockInvoker, region string) *BedrockProvider {
	return &BedrockProvider{client: client, region: region}
}

// Name returns the provider identifier.
func (p *BedrockProvider) Name() string {
	return ProviderBedrock
}

// Region returns the AWS region calls are made in.
func (p *BedrockProvider) Region() string {
	return p.region
}

// Generate invokes a Bedrock model. The request body is built for the model
// family encoded in the model id.
func (p *BedrockProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := tracer.Start(ctx, "gen_ai.generate",
		trace.WithAttributes(stewardotel.LLMRequestAttributes(ProviderBedrock, req.Model, req.Temperature, req.MaxTokens)...),
		trace.WithAttributes(attribute.String("aws.region", p.region)))
	defer span.End()

	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	family := bedrockModelFamily(req.Model)
	body, err := buildBedrockBody(family, req)
	if err != nil {
		return nil, err
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(req.Model),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("bedrock api call: %w", err)
	}

	resp, err := parseBedrockBody(family, out.Body)
	if err != nil {
		return nil, err
	}
	if resp.Content == "" {
		return nil, fmt.Errorf("bedrock api call: %w", ErrEmptyResponse)
	}
	resp.Model = req.Model
	span.SetAttributes(stewardotel.LLMUsageAttributes(resp.InputTokens, resp.OutputTokens)...)
	return resp, nil
}

// bedrockModelFamily returns the vendor segment of a Bedrock model id,
// skipping a regional inference-profile prefix.
func bedrockModelFamily(modelID string) string {
	segments := strings.Split(modelID, ".")
	if len(segments) < 2 {
		return ""
	}
	switch segments[0] {
	case "eu", "us", "apac", "global":
		return segments[1]
	}
	return segments[0]
}

func buildBedrockBody(family string, req *Request) ([]byte, error) {
	var system []string
	var prompt strings.Builder
	var messages []map[string]string
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		messages = append(messages, map[string]string{"role": m.Role, "content": m.Content})
		prompt.WriteString(m.Content)
		prompt.WriteString("\n")
	}
	flat := strings.TrimSpace(strings.Join(append(system, prompt.String()), "\n\n"))

	var body map[string]interface{}
	switch family {
	case "anthropic":
		body = map[string]interface{}{
			"anthropic_version": "bedrock-2023-05-31",
			"max_tokens":        req.MaxTokens,
			"temperature":       req.Temperature,
			"messages":          messages,
		}
		if len(system) > 0 {
			body["system"] = strings.Join(system, "\n\n")
		}
	case "amazon":
		body = map[string]interface{}{
			"inputText": flat,
			"textGenerationConfig": map[string]interface{}{
				"maxTokenCount": req.MaxTokens,
				"temperature":   req.Temperature,
			},
		}
	case "meta":
		body = map[string]interface{}{
			"prompt":      flat,
			"max_gen_len": req.MaxTokens,
			"temperature": req.Temperature,
		}
	case "mistral":
		body = map[string]interface{}{
			"prompt":      flat,
			"max_tokens":  req.MaxTokens,
			"temperature": req.Temperature,
		}
	default:
		return nil, fmt.Errorf("%w: unsupported bedrock model family %q", ErrUnknownModel, family)
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshalling bedrock request: %w", err)
	}
	return b, nil
}

func parseBedrockBody(family string, body []byte) (*Response, error) {
	switch family {
	case "anthropic":
		var r struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			StopReason string `json:"stop_reason"`
			Usage      struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, fmt.Errorf("decoding bedrock response: %w", err)
		}
		var text strings.Builder
		for _, c := range r.Content {
			text.WriteString(c.Text)
		}
		return &Response{
			Content:      text.String(),
			FinishReason: r.StopReason,
			InputTokens:  r.Usage.InputTokens,
			OutputTokens: r.Usage.OutputTokens,
		}, nil
	case "amazon":
		var r struct {
			InputTextTokenCount int `json:"inputTextTokenCount"`
			Results             []struct {
				OutputText       string `json:"outputText"`
				TokenCount       int    `json:"tokenCount"`
				CompletionReason string `json:"completionReason"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, fmt.Errorf("decoding bedrock response: %w", err)
		}
		if len(r.Results) == 0 {
			return &Response{}, nil
		}
		return &Response{
			Content:      r.Results[0].OutputText,
			FinishReason: r.Results[0].CompletionReason,
			InputTokens:  r.InputTextTokenCount,
			OutputTokens: r.Results[0].TokenCount,
		}, nil
	case "meta":
		var r struct {
			Generation       string `json:"generation"`
			PromptTokenCount int    `json:"prompt_token_count"`
			GenTokenCount    int    `json:"generation_token_count"`
			StopReason       string `json:"stop_reason"`
		}
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, fmt.Errorf("decoding bedrock response: %w", err)
		}
		return &Response{
			Content:      r.Generation,
			FinishReason: r.StopReason,
			InputTokens:  r.PromptTokenCount,
			OutputTokens: r.GenTokenCount,
		}, nil
	case "mistral":
		var r struct {
			Outputs []struct {
				Text       string `json:"text"`
				StopReason string `json:"stop_reason"`
			} `json:"outputs"`
		}
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, fmt.Errorf("decoding bedrock response: %w", err)
		}
		if len(r.Outputs) == 0 {
			return &Response{}, nil
		}
		// Mistral reports no usage.
		return &Response{
			Content:      r.Outputs[0].Text,
			FinishReason: r.Outputs[0].StopReason,
			TotalTokens:  len(r.Outputs[0].Text) / 4,
		}, nil
	}
	return nil, fmt.Errorf("%w: unsupported bedrock model family %q", ErrUnknownModel, family)
}
