// Package bedrock provides a model.Client backed by the AWS Bedrock Converse
// API. It splits system and conversational messages, encodes tool schemas into
// a ToolConfiguration and translates Converse output (text and tool_use
// blocks) back into model.Response.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/royalbadminton/streakbot/runtime/agent/model"
	"github.com/royalbadminton/streakbot/runtime/agent/telemetry"
)

const providerName = "bedrock"

type (
	// RuntimeClient mirrors the subset of the Bedrock runtime client required
	// by the adapter. It is satisfied by *bedrockruntime.Client.
	RuntimeClient interface {
		Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	}

	// Options configures the Bedrock adapter.
	Options struct {
		// Runtime provides access to the Bedrock runtime. Required.
		Runtime RuntimeClient
		// DefaultModel is the model or inference profile identifier used when
		// the request does not name one.
		DefaultModel string
		// MaxTokens is used when the request does not set MaxTokens. Zero lets
		// Bedrock apply its default.
		MaxTokens int
		// Temperature is used when the request does not set Temperature.
		Temperature float32
		// Logger receives non-fatal diagnostics.
		Logger telemetry.Logger
	}

	// StaticCredentials authenticates the runtime client built by
	// NewFromCredentials.
	StaticCredentials struct {
		Region          string
		AccessKeyID     string
		SecretAccessKey string
		SessionToken    string
	}

	// Client implements model.Client on top of Bedrock Converse.
	Client struct {
		runtime      RuntimeClient
		defaultModel string
		maxTok       int
		temp         float32
		logger       telemetry.Logger
	}
)

var _ model.Client = (*Client)(nil)

// New builds a Bedrock-backed model client.
func New(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Client{
		runtime:      opts.Runtime,
		defaultModel: opts.DefaultModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
		logger:       logger,
	}, nil
}

// NewFromCredentials builds a runtime client from static credentials and wraps
// it with New. opts.Runtime is ignored.
func NewFromCredentials(creds StaticCredentials, opts Options) (*Client, error) {
	if creds.Region == "" {
		return nil, errors.New("aws region is required")
	}
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return nil, errors.New("aws credentials are required")
	}
	provider := aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     creds.AccessKeyID,
			SecretAccessKey: creds.SecretAccessKey,
			SessionToken:    creds.SessionToken,
			Source:          "streakbot",
		}, nil
	})
	opts.Runtime = bedrockruntime.New(bedrockruntime.Options{
		Region:      creds.Region,
		Credentials: aws.NewCredentialsCache(provider),
	})
	return New(opts)
}

// Complete issues a Converse request.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	msgs, system, err := c.encodeMessages(ctx, req.Messages)
	if err != nil {
		return model.Response{}, err
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		Messages: msgs,
	}
	if len(system) > 0 {
		input.System = system
	}
	if cfg := encodeTools(req.Tools); cfg != nil {
		input.ToolConfig = cfg
	}
	if cfg := c.inferenceConfig(req.MaxTokens, req.Temperature); cfg != nil {
		input.InferenceConfig = cfg
	}
	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return model.Response{}, wrapError("converse", err)
	}
	return translateResponse(out)
}

func (c *Client) inferenceConfig(maxTokens int, temp float32) *brtypes.InferenceConfiguration {
	var cfg brtypes.InferenceConfiguration
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	if maxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(maxTokens)) //nolint:gosec // AWS SDK requires int32
	}
	if temp <= 0 {
		temp = c.temp
	}
	if temp > 0 {
		cfg.Temperature = aws.Float32(temp)
	}
	if cfg.MaxTokens == nil && cfg.Temperature == nil {
		return nil
	}
	return &cfg
}

func (c *Client) encodeMessages(ctx context.Context, msgs []*model.Message) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	var (
		conversation []brtypes.Message
		system       []brtypes.SystemContentBlock
	)
	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.Role == model.RoleSystem {
			for _, p := range m.Parts {
				if v, ok := p.(model.TextPart); ok && v.Text != "" {
					system = append(system, &brtypes.SystemContentBlockMemberText{Value: v.Text})
				}
			}
			continue
		}
		blocks := make([]brtypes.ContentBlock, 0, len(m.Parts))
		for _, p := range m.Parts {
			switch v := p.(type) {
			case model.TextPart:
				if v.Text != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: v.Text})
				}
			case model.ToolUsePart:
				tb := brtypes.ToolUseBlock{
					Name:  aws.String(v.Name),
					Input: c.toDocument(ctx, v.Input),
				}
				if v.ID != "" {
					tb.ToolUseId = aws.String(v.ID)
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: tb})
			case model.ToolResultPart:
				tr := brtypes.ToolResultBlock{
					ToolUseId: aws.String(v.ToolUseID),
					Content: []brtypes.ToolResultContentBlock{
						&brtypes.ToolResultContentBlockMemberText{Value: v.Content},
					},
				}
				if v.IsError {
					tr.Status = brtypes.ToolResultStatusError
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{Value: tr})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		var role brtypes.ConversationRole
		switch m.Role {
		case model.RoleUser:
			role = brtypes.ConversationRoleUser
		case model.RoleAssistant:
			role = brtypes.ConversationRoleAssistant
		default:
			return nil, nil, fmt.Errorf("bedrock: unsupported message role %q", m.Role)
		}
		conversation = append(conversation, brtypes.Message{Role: role, Content: blocks})
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func (c *Client) toDocument(ctx context.Context, raw json.RawMessage) document.Interface {
	decoded := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			c.logger.Warn(ctx, "tool input is not a JSON object", "err", err)
			decoded = map[string]any{}
		}
	}
	return lazyDocument(decoded)
}

func encodeTools(defs []*model.ToolDefinition) *brtypes.ToolConfiguration {
	tools := make([]brtypes.Tool, 0, len(defs))
	for _, def := range defs {
		if def == nil || def.Name == "" {
			continue
		}
		schema := any(def.InputSchema)
		if def.InputSchema == nil {
			schema = map[string]any{"type": "object"}
		}
		tools = append(tools, &brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpecification{
			Name:        aws.String(def.Name),
			Description: aws.String(def.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: lazyDocument(schema)},
		}})
	}
	if len(tools) == 0 {
		return nil
	}
	return &brtypes.ToolConfiguration{Tools: tools}
}

func translateResponse(output *bedrockruntime.ConverseOutput) (model.Response, error) {
	if output == nil {
		return model.Response{}, errors.New("bedrock: response is nil")
	}
	var resp model.Response
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				if v.Value == "" {
					continue
				}
				resp.Content = append(resp.Content, model.Message{
					Role:  model.RoleAssistant,
					Parts: []model.Part{model.TextPart{Text: v.Value}},
				})
			case *brtypes.ContentBlockMemberToolUse:
				resp.ToolCalls = append(resp.ToolCalls, model.ToolCall{
					ID:      aws.ToString(v.Value.ToolUseId),
					Name:    aws.ToString(v.Value.Name),
					Payload: decodeDocument(v.Value.Input),
				})
			}
		}
	}
	if u := output.Usage; u != nil {
		resp.Usage = model.TokenUsage{
			InputTokens:  int(aws.ToInt32(u.InputTokens)),
			OutputTokens: int(aws.ToInt32(u.OutputTokens)),
		}
	}
	resp.StopReason = string(output.StopReason)
	return resp, nil
}

func decodeDocument(doc document.Interface) json.RawMessage {
	if doc == nil {
		return nil
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil || len(data) == 0 {
		return nil
	}
	return json.RawMessage(data)
}

func lazyDocument(v any) document.Interface {
	return document.NewLazyDocument(&v)
}

// wrapError maps SDK failures to model.ProviderError. Throttling codes are
// classified as rate limiting even when no HTTP status is available.
func wrapError(operation string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var (
		status int
		code   string
		msg    string
	)
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
		msg = apiErr.ErrorMessage()
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}
	kind := model.KindForStatus(status)
	switch code {
	case "ThrottlingException", "TooManyRequestsException", "ServiceQuotaExceededException":
		kind = model.ProviderErrorKindRateLimited
		if status == 0 {
			status = http.StatusTooManyRequests
		}
	case "AccessDeniedException", "UnrecognizedClientException":
		kind = model.ProviderErrorKindAuth
	case "ValidationException":
		kind = model.ProviderErrorKindInvalidRequest
	case "ServiceUnavailableException", "InternalServerException", "ModelNotReadyException":
		kind = model.ProviderErrorKindUnavailable
	}
	if status == 0 && code == "" {
		kind = model.ProviderErrorKindUnavailable
	}
	return model.NewProviderError(providerName, operation, status, kind, code, msg, err)
}
