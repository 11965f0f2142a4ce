package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBedrock struct {
	input *bedrockruntime.InvokeModelInput
	body  string
	err   error
}

func (f *fakeBedrock) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.body)}, nil
}

func TestBedrockModelFamily(t *testing.T) {
	tests := map[string]string{
		"anthropic.claude-3-haiku-20240307-v1:0":       "anthropic",
		"eu.anthropic.claude-sonnet-4-5-20250929-v1:0": "anthropic",
		"amazon.titan-text-premier-v1:0":               "amazon",
		"meta.llama3-70b-instruct-v1:0":                "meta",
		"mistral.mistral-large-2402-v1:0":              "mistral",
		"gpt-4o":                                       "",
	}
	for model, want := range tests {
		assert.Equal(t, want, bedrockModelFamily(model), model)
	}
}

func TestBedrockGenerate_Anthropic(t *testing.T) {
	fake := &fakeBedrock{body: `{"content":[{"type":"text","text":"kia ora"}],"stop_reason":"end_turn","usage":{"input_tokens":20,"output_tokens":3}}`}
	p := newBedrockProviderWithClient(fake, "ap-southeast-2")

	resp, err := p.Generate(context.Background(), &Request{
		Model:     "anthropic.claude-3-haiku-20240307-v1:0",
		Messages:  []Message{{Role: "system", Content: "sys"}, {Role: "user", Content: "hello"}},
		MaxTokens: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, "kia ora", resp.Content)
	assert.Equal(t, 20, resp.InputTokens)
	assert.Equal(t, 3, resp.OutputTokens)
	assert.Equal(t, "anthropic.claude-3-haiku-20240307-v1:0", resp.Model)

	require.NotNil(t, fake.input)
	assert.Equal(t, "anthropic.claude-3-haiku-20240307-v1:0", aws.ToString(fake.input.ModelId))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(fake.input.Body, &body))
	assert.Equal(t, "bedrock-2023-05-31", body["anthropic_version"])
	assert.Equal(t, "sys", body["system"])
}

func TestBedrockGenerate_Titan(t *testing.T) {
	fake := &fakeBedrock{body: `{"inputTextTokenCount":7,"results":[{"outputText":"done","tokenCount":2,"completionReason":"FINISH"}]}`}
	resp, err := newBedrockProviderWithClient(fake, "us-east-1").Generate(context.Background(), &Request{
		Model:    "amazon.titan-text-premier-v1:0",
		Messages: []Message{{Role: "user", Content: "go"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content)
	assert.Equal(t, 9, resp.Total())
}

func TestBedrockGenerate_MistralReportsTotalOnly(t *testing.T) {
	fake := &fakeBedrock{body: `{"outputs":[{"text":"12345678","stop_reason":"stop"}]}`}
	resp, err := newBedrockProviderWithClient(fake, "us-east-1").Generate(context.Background(), &Request{
		Model:    "mistral.mistral-large-2402-v1:0",
		Messages: []Message{{Role: "user", Content: "go"}},
	})
	require.NoError(t, err)
	assert.Zero(t, resp.InputTokens)
	assert.Equal(t, 2, resp.TotalTokens)
}

func TestBedrockGenerate_Errors(t *testing.T) {
	_, err := newBedrockProviderWithClient(&fakeBedrock{err: errors.New("throttled")}, "r").Generate(context.Background(), &Request{Model: "meta.llama3-70b-instruct-v1:0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")

	_, err = newBedrockProviderWithClient(&fakeBedrock{}, "r").Generate(context.Background(), &Request{Model: "cohere.command-r-v1:0"})
	assert.ErrorIs(t, err, ErrUnknownModel)

	_, err = newBedrockProviderWithClient(&fakeBedrock{body: `{"generation":""}`}, "r").Generate(context.Background(), &Request{Model: "meta.llama3-70b-instruct-v1:0"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}
