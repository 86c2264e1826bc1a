package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"

	"agentkit/pkg/agent/llm"
	"agentkit/pkg/config"
	"agentkit/pkg/history"
	"agentkit/pkg/logx"
	"agentkit/pkg/prompt"
	"agentkit/pkg/schema"
	"agentkit/pkg/structured"
	"agentkit/pkg/utils"
)

const logDomain = "agent"

// Config configures an Agent. It is read by New and not retained.
type Config struct {
	Client          llm.LLMClient
	Model           string
	History         *history.History  // defaults to an empty history
	PromptGenerator *prompt.Generator // defaults to an empty generator

	// ModelAPIParameters are passed to the client as request parameters.
	// They take precedence over Temperature and MaxTokens.
	ModelAPIParameters map[string]any
	Temperature        *float64
	MaxTokens          *int

	SystemRole        string // role label of the system entry, defaults to "system"
	DisableSystemRole bool   // omit the system entry entirely

	Logger    *logx.Logger     // defaults to a logger named "agent"
	PromptLog *PromptLogConfig // defaults to DefaultPromptLogConfig
}

// NewConfig builds an agent Config from a loaded configuration file.
func NewConfig(cfg *config.Config, client llm.LLMClient) Config {
	return Config{
		Client: client,
		Model:  cfg.Agent.Model,
		PromptGenerator: prompt.New(
			cfg.Prompt.Background,
			cfg.Prompt.Steps,
			cfg.Prompt.OutputInstructions,
		),
		ModelAPIParameters: maps.Clone(cfg.Agent.ModelAPIParameters),
		Temperature:        cfg.Agent.Temperature,
		MaxTokens:          cfg.Agent.MaxTokens,
		SystemRole:         cfg.Agent.SystemRole,
		DisableSystemRole:  cfg.Agent.DisableSystemRole,
	}
}

// Result carries the outcome of an asynchronous run.
type Result[T any] struct {
	Output T
	Err    error
}

// Agent orchestrates structured chat completions between an input schema
// and an output schema. It is not safe for concurrent use.
type Agent[In, Out schema.IOSchema] struct {
	client            llm.LLMClient
	model             string
	history           *history.History
	initialHistory    *history.History
	promptGenerator   *prompt.Generator
	params            map[string]any
	systemRole        string
	disableSystemRole bool
	logger            *logx.Logger
	hooks             *hookRegistry

	inputSchema  *schema.Definition
	outputSchema *schema.Definition

	messages         []llm.CompletionMessage
	currentUserInput *In
}

// BasicAgent chats with the default chat schemas.
type BasicAgent = Agent[schema.BasicChatInput, schema.BasicChatOutput]

// New creates an agent for the given input and output schemas.
func New[In, Out schema.IOSchema](cfg Config) (*Agent[In, Out], error) {
	inputSchema, err := schema.Define[In]()
	if err != nil {
		return nil, fmt.Errorf("input schema: %w", err)
	}
	outputSchema, err := schema.Define[Out]()
	if err != nil {
		return nil, fmt.Errorf("output schema: %w", err)
	}
	if cfg.Client == nil {
		return nil, ErrMissingClient
	}
	if cfg.Model == "" {
		return nil, ErrMissingModel
	}

	hist := cfg.History
	if hist == nil {
		hist = history.New()
	}
	generator := cfg.PromptGenerator
	if generator == nil {
		generator = prompt.New(nil, nil, nil)
	}
	systemRole := cfg.SystemRole
	if systemRole == "" {
		systemRole = config.DefaultSystemRole
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logx.NewLogger("agent")
	}
	promptLog := DefaultPromptLogConfig
	if cfg.PromptLog != nil {
		promptLog = *cfg.PromptLog
	}

	hooks := newHookRegistry(logger)
	if promptLog.Mode != PromptLogOff {
		pl := NewPromptLogger(promptLog, logger)
		hooks.register(HookCompletionError, pl.Hook)
		hooks.register(HookParseError, pl.Hook)
		hooks.register(HookCompletionResponse, pl.Hook)
	}

	return &Agent[In, Out]{
		client:            llm.Chain(cfg.Client, hooks.middleware()),
		model:             cfg.Model,
		history:           hist,
		initialHistory:    hist.Copy(),
		promptGenerator:   generator,
		params:            effectiveParams(&cfg),
		systemRole:        systemRole,
		disableSystemRole: cfg.DisableSystemRole,
		logger:            logger,
		hooks:             hooks,
		inputSchema:       inputSchema,
		outputSchema:      outputSchema,
	}, nil
}

// NewBasic creates an agent for the default chat schemas.
func NewBasic(cfg Config) (*BasicAgent, error) {
	return New[schema.BasicChatInput, schema.BasicChatOutput](cfg)
}

// effectiveParams applies the convenience fields first so that explicit
// ModelAPIParameters always win. max_tokens is only present when supplied.
func effectiveParams(cfg *Config) map[string]any {
	params := make(map[string]any, len(cfg.ModelAPIParameters)+2)
	if cfg.Temperature != nil {
		params[llm.ParamTemperature] = *cfg.Temperature
	}
	if cfg.MaxTokens != nil {
		params[llm.ParamMaxTokens] = *cfg.MaxTokens
	}
	maps.Copy(params, cfg.ModelAPIParameters)
	return params
}

// Run records in as a new user turn, requests a completion and records the
// output as the assistant turn. Client errors are returned unchanged.
func (a *Agent[In, Out]) Run(ctx context.Context, in In) (Out, error) {
	var zero Out
	if err := a.recordInput(in); err != nil {
		return zero, err
	}
	return a.complete(ctx)
}

// Continue requests a completion from the current history without adding
// user input. When the history ends on an assistant turn, the Anthropic
// adapter sends a short "Continue." user message, since that API requires
// the conversation to end with the user.
func (a *Agent[In, Out]) Continue(ctx context.Context) (Out, error) {
	return a.complete(ctx)
}

func (a *Agent[In, Out]) complete(ctx context.Context) (Out, error) {
	var zero Out
	req, err := a.prepareRequest()
	if err != nil {
		return zero, err
	}

	logx.Debug(ctx, logDomain, "run: model=%s messages=%d", a.model, len(req.Messages))

	out, err := structured.Create[Out](ctx, a.client, req)
	if err != nil {
		a.onError(ctx, req, err)
		return zero, err //nolint:wrapcheck // upstream errors pass through unchanged
	}
	if err := a.history.AddMessage(llm.RoleAssistant, out); err != nil {
		return zero, err //nolint:wrapcheck // history already describes the failure
	}
	return out, nil
}

// RunStream records in as a new user turn and streams the output. Each
// yielded value is a progressively filled output; the last one is the
// complete, validated output, after which the assistant turn is recorded.
// Stopping the iteration early cancels the request and records nothing.
func (a *Agent[In, Out]) RunStream(ctx context.Context, in In) iter.Seq2[Out, error] {
	return func(yield func(Out, error) bool) {
		var zero Out
		if err := a.recordInput(in); err != nil {
			yield(zero, err)
			return
		}
		req, err := a.prepareRequest()
		if err != nil {
			yield(zero, err)
			return
		}

		logx.Debug(ctx, logDomain, "run stream: model=%s messages=%d", a.model, len(req.Messages))

		var (
			last Out
			have bool
		)
		for out, err := range structured.CreatePartial[Out](ctx, a.client, req) {
			if err != nil {
				a.onError(ctx, req, err)
				yield(zero, err)
				return
			}
			last, have = out, true
			if !yield(out, nil) {
				return
			}
		}
		if !have {
			return
		}
		if err := a.history.AddMessage(llm.RoleAssistant, last); err != nil {
			yield(zero, err)
		}
	}
}

// RunAsync runs Run on a new goroutine. The channel receives exactly one result.
func (a *Agent[In, Out]) RunAsync(ctx context.Context, in In) <-chan Result[Out] {
	ch := make(chan Result[Out], 1)
	go func() {
		defer close(ch)
		out, err := a.Run(ctx, in)
		ch <- Result[Out]{Output: out, Err: err}
	}()
	return ch
}

// RunAsyncStream runs RunStream on a new goroutine and forwards every value.
// Forwarding stops when ctx is done or after an error.
func (a *Agent[In, Out]) RunAsyncStream(ctx context.Context, in In) <-chan Result[Out] {
	ch := make(chan Result[Out])
	go func() {
		defer close(ch)
		for out, err := range a.RunStream(ctx, in) {
			select {
			case ch <- Result[Out]{Output: out, Err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return ch
}

func (a *Agent[In, Out]) recordInput(in In) error {
	if err := a.inputSchema.Validate(in); err != nil {
		return err //nolint:wrapcheck // already wraps schema.ErrValidation
	}
	a.history.InitializeTurn()
	a.currentUserInput = &in
	return a.history.AddMessage(llm.RoleUser, in) //nolint:wrapcheck // history already describes the failure
}

// prepareMessages rebuilds the message list: the generated system prompt
// under the configured role label, unless disabled, followed by the history.
func (a *Agent[In, Out]) prepareMessages() error {
	messages := make([]llm.CompletionMessage, 0, a.history.MessageCount()+1)
	if !a.disableSystemRole {
		systemPrompt, err := a.promptGenerator.Generate()
		if err != nil {
			return fmt.Errorf("failed to generate system prompt: %w", err)
		}
		messages = append(messages, llm.CompletionMessage{
			Role:    llm.CompletionRole(a.systemRole),
			Content: systemPrompt,
		})
	}
	a.messages = append(messages, a.history.CompletionMessages()...)
	return nil
}

func (a *Agent[In, Out]) prepareRequest() (llm.CompletionRequest, error) {
	if err := a.prepareMessages(); err != nil {
		return llm.CompletionRequest{}, err
	}
	req := llm.NewCompletionRequest(a.model, slices.Clone(a.messages), a.params)
	if _, err := structured.Attach[Out](&req); err != nil {
		return llm.CompletionRequest{}, err //nolint:wrapcheck // already wraps schema.ErrValidation
	}
	return req, nil
}

func (a *Agent[In, Out]) onError(ctx context.Context, req llm.CompletionRequest, err error) {
	if errors.Is(err, structured.ErrDecode) || errors.Is(err, structured.ErrIncomplete) ||
		errors.Is(err, schema.ErrValidation) {
		a.logger.Warn("failed to parse %s response: %v", a.outputSchema.Name, err)
		a.hooks.dispatch(ctx, HookData{Event: HookParseError, Request: req, Err: err})
	}
}

// ResetHistory restores the history to its state at construction.
func (a *Agent[In, Out]) ResetHistory() {
	a.history = a.initialHistory.Copy()
	a.messages = nil
}

// Messages returns the message list built for the most recent call.
func (a *Agent[In, Out]) Messages() []llm.CompletionMessage {
	return slices.Clone(a.messages)
}

// ContextTokenCount returns the token count of the message list the next
// call would send.
func (a *Agent[In, Out]) ContextTokenCount() (int, error) {
	if err := a.prepareMessages(); err != nil {
		return 0, err
	}
	counter, err := utils.NewTokenCounter(a.model)
	if err != nil {
		return 0, fmt.Errorf("failed to create token counter: %w", err)
	}
	return counter.CountMessages(a.messages), nil
}

// ContextProvider returns the context provider registered under name.
func (a *Agent[In, Out]) ContextProvider(name string) (prompt.ContextProvider, error) {
	return a.promptGenerator.Provider(name) //nolint:wrapcheck // sentinel from prompt package
}

// RegisterContextProvider adds or replaces the context provider under name.
func (a *Agent[In, Out]) RegisterContextProvider(name string, p prompt.ContextProvider) {
	a.promptGenerator.RegisterProvider(name, p)
}

// UnregisterContextProvider removes the context provider under name.
func (a *Agent[In, Out]) UnregisterContextProvider(name string) error {
	return a.promptGenerator.UnregisterProvider(name) //nolint:wrapcheck // sentinel from prompt package
}

// RegisterHook adds fn for event and returns its id.
func (a *Agent[In, Out]) RegisterHook(event HookEvent, fn Hook) HookID {
	return a.hooks.register(event, fn)
}

// UnregisterHook removes the hook with id from event. It reports whether the hook was found.
func (a *Agent[In, Out]) UnregisterHook(event HookEvent, id HookID) bool {
	return a.hooks.unregister(event, id)
}

// ClearHooks removes the hooks of the given events, or of all events when none are given.
func (a *Agent[In, Out]) ClearHooks(events ...HookEvent) {
	a.hooks.clear(events...)
}

// EnableHooks resumes hook dispatch.
func (a *Agent[In, Out]) EnableHooks() { a.hooks.setEnabled(true) }

// DisableHooks suspends hook dispatch without removing hooks.
func (a *Agent[In, Out]) DisableHooks() { a.hooks.setEnabled(false) }

// HooksEnabled reports whether hooks are dispatched.
func (a *Agent[In, Out]) HooksEnabled() bool { return a.hooks.isEnabled() }

// CurrentUserInput returns the input of the most recent Run, if any.
func (a *Agent[In, Out]) CurrentUserInput() (In, bool) {
	if a.currentUserInput == nil {
		var zero In
		return zero, false
	}
	return *a.currentUserInput, true
}

// Model returns the model name sent with every request.
func (a *Agent[In, Out]) Model() string { return a.model }

// ModelAPIParameters returns a copy of the effective request parameters.
func (a *Agent[In, Out]) ModelAPIParameters() map[string]any { return maps.Clone(a.params) }

// History returns the live conversation history.
func (a *Agent[In, Out]) History() *history.History { return a.history }

// PromptGenerator returns the system prompt generator.
func (a *Agent[In, Out]) PromptGenerator() *prompt.Generator { return a.promptGenerator }

// InputSchema returns the definition of the input schema.
func (a *Agent[In, Out]) InputSchema() *schema.Definition { return a.inputSchema }

// OutputSchema returns the definition of the output schema.
func (a *Agent[In, Out]) OutputSchema() *schema.Definition { return a.outputSchema }
