package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

const defaultMaxTokens = 4096

// ClientConfig contains configuration for creating an AnthropicClient.
type ClientConfig struct {
	// Model is the default model identifier.
	Model string
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY.
	APIKey string
	// UseBedrock routes calls through AWS Bedrock instead of the direct API.
	UseBedrock bool
	// AWSRegion is the AWS region for Bedrock.
	AWSRegion string
	// AWSProfile is the optional AWS shared-config profile for Bedrock.
	AWSProfile string
}

// AnthropicClient implements Generator against the Anthropic Messages API,
// either directly or through AWS Bedrock.
type AnthropicClient struct {
	inner anthropic.Client
	model string
}

// NewAnthropicClient creates a generation client.
func NewAnthropicClient(ctx context.Context, cfg ClientConfig) (*AnthropicClient, error) {
	var opts []option.RequestOption

	if cfg.UseBedrock {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	model := cfg.Model
	if model == "" {
		model = "claude-3-5-haiku-20241022"
	}

	return &AnthropicClient{
		inner: anthropic.NewClient(opts...),
		model: model,
	}, nil
}

// Generate performs one Messages API call and reports the tokens and cost it
// consumed alongside the text.
func (c *AnthropicClient) Generate(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature >= 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	resp, err := c.inner.Messages.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("generation call failed: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return Response{
		Text:             text,
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		CostUSD:          CostFor(model, resp.Usage.InputTokens, resp.Usage.OutputTokens),
	}, nil
}

// Verify AnthropicClient implements Generator at compile time.
var _ Generator = (*AnthropicClient)(nil)
