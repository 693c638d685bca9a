// Package claude provides an executor that hands a task to a Claude agent
// equipped with the task tools.
package claude

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/fentz26/hive/internal/models"
	"github.com/fentz26/hive/internal/tools"
	"github.com/sirupsen/logrus"
)

const systemPrompt = `You are %s, an autonomous worker agent. You receive one task at a time.
Work on the task using the tools available. When you are done, call change_task_state
to set the task to COMPLETE, or to ERROR if it cannot be done, or to ON_HOLD if it must wait.
You may create follow-up tasks with create_task.`

// Config defines the Anthropic executor configuration.
type Config struct {
	Model     string `yaml:"model" toml:"model"`
	MaxTokens int    `yaml:"max_tokens" toml:"max_tokens"`
	// MaxTurns bounds the tool-use round trips per task.
	MaxTurns  int    `yaml:"max_turns" toml:"max_turns"`
	BaseURL   string `yaml:"base_url" toml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env" toml:"api_key_env"`
	AgentName string `yaml:"agent_name" toml:"agent_name"`
}

// DefaultConfig returns the default Anthropic executor configuration.
func DefaultConfig() Config {
	return Config{
		Model:     "claude-sonnet-4-5",
		MaxTokens: 2048,
		MaxTurns:  6,
		APIKeyEnv: "ANTHROPIC_API_KEY",
		AgentName: "hive-agent",
	}
}

// MessageClient is the part of the SDK the executor calls.
type MessageClient interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Executor runs tasks through a tool-using conversation.
type Executor struct {
	cfg    Config
	client MessageClient
	tools  *tools.Registry
	params []anthropic.ToolUnionParam
	log    logrus.FieldLogger
}

// New creates an executor backed by the Anthropic API.
func New(cfg Config, registry *tools.Registry, log logrus.FieldLogger) (*Executor, error) {
	cfg = withDefaults(cfg)
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("%s is required for the anthropic executor", cfg.APIKeyEnv)
	}

	opts := []option.RequestOption{option.WithAPIKey(key)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)
	return NewWithClient(cfg, &client.Messages, registry, log), nil
}

// NewWithClient creates an executor with an explicit message client.
func NewWithClient(cfg Config, client MessageClient, registry *tools.Registry, log logrus.FieldLogger) *Executor {
	cfg = withDefaults(cfg)
	e := &Executor{
		cfg:    cfg,
		client: client,
		tools:  registry,
		log:    log.WithField("executor", "anthropic"),
	}
	for _, t := range registry.List() {
		e.params = append(e.params, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: t.Schema.Properties,
					Required:   t.Schema.Required,
				},
			},
		})
	}
	return e
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = def.MaxTurns
	}
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = def.APIKeyEnv
	}
	if cfg.AgentName == "" {
		cfg.AgentName = def.AgentName
	}
	return cfg
}

// Name returns the executor identifier.
func (e *Executor) Name() string { return "anthropic" }

// Execute converses with the model until it stops calling tools or the turn
// budget runs out. Tool calls run with ctx, so they see the bound task store.
func (e *Executor) Execute(ctx context.Context, task models.Task) (string, error) {
	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(task.FormatForAI())),
	}

	var text string
	for turn := 0; turn < e.cfg.MaxTurns; turn++ {
		resp, err := e.client.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(e.cfg.Model),
			MaxTokens: int64(e.cfg.MaxTokens),
			Messages:  messages,
			System:    []anthropic.TextBlockParam{{Text: fmt.Sprintf(systemPrompt, e.cfg.AgentName)}},
			Tools:     e.params,
		})
		if err != nil {
			return text, fmt.Errorf("anthropic request failed: %w", err)
		}

		var (
			sb        strings.Builder
			assistant []anthropic.ContentBlockParamUnion
			results   []anthropic.ContentBlockParamUnion
		)
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				sb.WriteString(block.Text)
				assistant = append(assistant, anthropic.NewTextBlock(block.Text))
			case "tool_use":
				assistant = append(assistant, anthropic.NewToolUseBlock(block.ID, block.Input, block.Name))
				out, err := e.tools.Call(ctx, block.Name, block.Input)
				if err != nil {
					out = err.Error()
				}
				e.log.WithFields(logrus.Fields{
					"task_id": task.ID,
					"tool":    block.Name,
					"failed":  err != nil,
				}).Debug("tool call")
				results = append(results, anthropic.NewToolResultBlock(block.ID, out, err != nil))
			}
		}
		if sb.Len() > 0 {
			text = sb.String()
		}
		if len(results) == 0 {
			return text, nil
		}
		messages = append(messages,
			anthropic.NewAssistantMessage(assistant...),
			anthropic.NewUserMessage(results...),
		)
	}
	return text, fmt.Errorf("agent did not finish within %d turns", e.cfg.MaxTurns)
}
