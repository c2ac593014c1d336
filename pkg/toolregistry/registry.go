package toolregistry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/toolbox/internal/tracing"
	"github.com/harun/toolbox/pkg/argmap"
	"github.com/harun/toolbox/pkg/executor"
	"github.com/harun/toolbox/pkg/schema"
)

const tracerName = "toolbox/toolregistry"

// Definition is a registered tool
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Command     string         `json:"command"`
	Args        []string       `json:"args"`
	InputSchema map[string]any `json:"inputSchema"`
	ArgMapping  [][]string     `json:"argMapping,omitempty"`
	Timeout     time.Duration  `json:"timeout"`
}

// Listing is the public view of a tool
type Listing struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Handler invokes one bound tool
type Handler func(ctx context.Context, args map[string]any) ([]Content, error)

// Runner runs a single command. *executor.Executor implements it.
type Runner interface {
	Run(ctx context.Context, req executor.Request) (executor.Result, error)
}

// CallRecord describes a finished invocation
type CallRecord struct {
	CallID    string
	TraceID   string
	Tool      string
	Command   string
	Args      []string
	ExitCode  int
	Truncated bool
	Duration  time.Duration
	Err       error
	ErrorKind string
}

// Observer is notified after every invocation, successful or not
type Observer interface {
	ObserveCall(ctx context.Context, rec CallRecord)
}

// Observers fans a call record out to several observers in order
type Observers []Observer

// ObserveCall implements Observer
func (o Observers) ObserveCall(ctx context.Context, rec CallRecord) {
	for _, observer := range o {
		if observer != nil {
			observer.ObserveCall(ctx, rec)
		}
	}
}

// Options configures a Registry
type Options struct {
	// Runner defaults to an executor.Executor
	Runner Runner

	// Validator defaults to schema.NewJSONSchema()
	Validator schema.Validator

	// MaxOutputBytes defaults to executor.DefaultMaxOutputBytes
	MaxOutputBytes int

	Logger   zerolog.Logger
	Observer Observer
}

// Registry maps tool names to definitions and invokes them
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Definition
	order []string

	runner    Runner
	validator schema.Validator
	maxOutput int
	observer  Observer
	logger    zerolog.Logger
}

// New creates a new Registry
func New(opts Options) *Registry {
	logger := opts.Logger.With().Str("component", "toolregistry").Logger()

	r := &Registry{
		tools:     make(map[string]*Definition),
		runner:    opts.Runner,
		validator: opts.Validator,
		maxOutput: opts.MaxOutputBytes,
		observer:  opts.Observer,
		logger:    logger,
	}
	if r.runner == nil {
		r.runner = executor.New(opts.Logger)
	}
	if r.validator == nil {
		r.validator = schema.NewJSONSchema()
	}
	if r.maxOutput <= 0 {
		r.maxOutput = executor.DefaultMaxOutputBytes
	}

	return r
}

// Register adds def, or overwrites the tool of the same name in place
func (r *Registry) Register(def Definition) {
	stored := cloneDefinition(def)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[stored.Name]; !exists {
		r.order = append(r.order, stored.Name)
	} else {
		r.logger.Debug().Str("tool", stored.Name).Msg("Tool re-registered")
	}
	r.tools[stored.Name] = stored
}

// Replace swaps the whole tool set for defs. Calls already in flight keep
// the definition they started with.
func (r *Registry) Replace(defs []Definition) {
	tools := make(map[string]*Definition, len(defs))
	order := make([]string, 0, len(defs))
	for _, def := range defs {
		if _, exists := tools[def.Name]; !exists {
			order = append(order, def.Name)
		}
		tools[def.Name] = cloneDefinition(def)
	}

	r.mu.Lock()
	r.tools = tools
	r.order = order
	r.mu.Unlock()

	r.logger.Info().Int("tools", len(order)).Msg("Tool set replaced")
}

// ListDefinitions returns every tool in registration order
func (r *Registry) ListDefinitions() []Listing {
	r.mu.RLock()
	defer r.mu.RUnlock()

	listings := make([]Listing, 0, len(r.order))
	for _, name := range r.order {
		def := r.tools[name]
		listings = append(listings, Listing{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: cloneMap(def.InputSchema),
		})
	}
	return listings
}

// Definitions returns copies of every registered definition in order
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, *cloneDefinition(*r.tools[name]))
	}
	return defs
}

// Len returns the number of registered tools
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// GetHandler returns a handler bound to the named tool
func (r *Registry) GetHandler(name string) (Handler, error) {
	r.mu.RLock()
	def, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	return func(ctx context.Context, args map[string]any) ([]Content, error) {
		return r.invoke(ctx, def, args)
	}, nil
}

// Call looks up name and invokes it with args
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) ([]Content, error) {
	handler, err := r.GetHandler(name)
	if err != nil {
		r.logger.Warn().Str("tool", name).Msg("Unknown tool requested")
		if r.observer != nil {
			r.observer.ObserveCall(ctx, CallRecord{
				TraceID:   tracing.GetTraceID(ctx),
				Tool:      name,
				Err:       err,
				ErrorKind: KindToolNotFound,
			})
		}
		return nil, err
	}
	return handler(ctx, args)
}

func (r *Registry) invoke(ctx context.Context, def *Definition, args map[string]any) ([]Content, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx = tracing.NewCallContext(ctx, def.Name)
	ctx, span := tracing.StartSpan(ctx, tracerName, "tool.call",
		attribute.String("tool.command", def.Command),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, r.logger)

	rec := CallRecord{
		CallID:  tracing.GetCallID(ctx),
		TraceID: tracing.GetTraceID(ctx),
		Tool:    def.Name,
		Command: def.Command,
	}

	start := time.Now()
	content, err := r.execute(ctx, def, args, &rec)
	rec.Duration = time.Since(start)
	rec.Err = err
	rec.ErrorKind = ErrorKind(err)

	span.SetAttributes(
		attribute.Int("tool.exit_code", rec.ExitCode),
		attribute.Bool("tool.truncated", rec.Truncated),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn().
			Err(err).
			Str("kind", rec.ErrorKind).
			Dur("duration", rec.Duration).
			Msg("Tool call failed")
	} else {
		span.SetStatus(codes.Ok, "")
		logger.Info().
			Int("exit_code", rec.ExitCode).
			Bool("truncated", rec.Truncated).
			Dur("duration", rec.Duration).
			Msg("Tool call completed")
	}

	if r.observer != nil {
		r.observer.ObserveCall(ctx, rec)
	}

	return content, err
}

// execute runs the invoke pipeline: validate, build, run, classify, format.
func (r *Registry) execute(ctx context.Context, def *Definition, args map[string]any, rec *CallRecord) ([]Content, error) {
	if args == nil {
		args = map[string]any{}
	}

	violations, err := r.validator.Validate(def.InputSchema, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrToolExecution, err)
	}
	if len(violations) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidArguments, violations[0])
	}

	argv := argmap.Build(def.Args, args, def.ArgMapping)
	rec.Args = argv

	result, err := r.runner.Run(ctx, executor.Request{
		Command:        def.Command,
		Args:           argv,
		Timeout:        def.Timeout,
		MaxOutputBytes: r.maxOutput,
	})
	rec.ExitCode = result.ExitCode
	rec.Truncated = result.Truncated
	if err != nil {
		if isNamed(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrToolExecution, err)
	}

	if result.ExitCode != 0 {
		if result.Stderr != "" {
			return nil, fmt.Errorf("%w (exit code %d): %s", ErrCommandFailed, result.ExitCode, result.Stderr)
		}
		return nil, fmt.Errorf("%w (exit code %d)", ErrCommandFailed, result.ExitCode)
	}

	content := []Content{TextContent(result.Stdout)}
	if result.Truncated {
		content = append(content, TextContent(TruncationNotice))
	}
	return content, nil
}

func cloneDefinition(def Definition) *Definition {
	out := def
	out.Args = append([]string{}, def.Args...)
	out.InputSchema = cloneMap(def.InputSchema)
	if def.ArgMapping != nil {
		out.ArgMapping = make([][]string, len(def.ArgMapping))
		for i, slot := range def.ArgMapping {
			out.ArgMapping[i] = append([]string{}, slot...)
		}
	}
	return &out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string{}, val...)
	default:
		return v
	}
}
