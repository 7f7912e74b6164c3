package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
)

// Message outcomes reported to the Observer.
const (
	OutcomeForwarded = "forwarded"
	OutcomeCompleted = "completed"
	OutcomeInvalid   = "invalid"
	OutcomeFailed    = "failed"
	OutcomeDropped   = "dropped"
)

// Connector opens the broker connection a stage instance owns.
type Connector func(ctx context.Context) (ports.MessageBus, error)

// Observer receives per-message outcomes.
type Observer interface {
	MessageStarted(stage string)
	MessageFinished(stage, outcome string, duration time.Duration)
}

type noopObserver struct{}

func (noopObserver) MessageStarted(string)                         {}
func (noopObserver) MessageFinished(string, string, time.Duration) {}

// Stage binds a handler to its input and output subjects. A handler returning
// a nil message ends processing for that input.
type Stage[In domain.Message] struct {
	Name          string
	InputSubject  string
	InputKind     domain.MessageKind
	Group         string
	OutputSubject string
	Handle        func(ctx context.Context, msg In) (domain.Message, error)
}

type RunnerOptions struct {
	// Executor bounds connect and publish attempts. Its attempt budget is
	// the connect budget.
	Executor      *resilience.Executor
	Observer      Observer
	HandleTimeout time.Duration
}

// Runner drives stages: connect, consume sequentially, decode, handle, publish.
type Runner struct {
	connect       Connector
	executor      *resilience.Executor
	observer      Observer
	handleTimeout time.Duration
}

func NewRunner(connect Connector, opts RunnerOptions) *Runner {
	executor := opts.Executor
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	observer := opts.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	return &Runner{
		connect:       connect,
		executor:      executor,
		observer:      observer,
		handleTimeout: opts.HandleTimeout,
	}
}

// Run blocks until ctx is cancelled, which is a clean exit. A handler panic
// fails only the message that caused it. Exhausting the connect budget or
// losing the subscription is returned as an error.
func Run[In domain.Message](ctx context.Context, r *Runner, stage Stage[In]) error {
	if stage.Handle == nil {
		return fmt.Errorf("stage %s: handler is nil", stage.Name)
	}
	group := stage.Group
	if group == "" {
		group = stage.Name
	}

	bus, err := resilience.Run[ports.MessageBus](ctx, r.executor, "pipeline.connect."+stage.Name, r.connect, resilience.RetryAll)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("stage %s: connect broker: %w", stage.Name, err)
	}
	defer bus.Close()

	consumer, err := bus.Consume(ctx, stage.InputSubject, group)
	if err != nil {
		return fmt.Errorf("stage %s: subscribe %s: %w", stage.Name, stage.InputSubject, err)
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			slog.Warn("stage_consumer_close_failed", "stage", stage.Name, "error", err)
		}
	}()

	slog.Info("stage_started",
		"stage", stage.Name,
		"subject", stage.InputSubject,
		"group", group,
		"output_subject", stage.OutputSubject,
	)

	for {
		inbound, err := consumer.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("stage_stopped", "stage", stage.Name)
				return nil
			}
			if errors.Is(err, ports.ErrConsumerClosed) {
				return fmt.Errorf("stage %s: %w", stage.Name, err)
			}
			slog.Warn("stage_receive_failed", "stage", stage.Name, "error", err)
			continue
		}
		handleMessage(ctx, r, bus, stage, inbound)
	}
}

func handleMessage[In domain.Message](ctx context.Context, r *Runner, bus ports.MessageBus, stage Stage[In], inbound ports.InboundMessage) {
	start := time.Now()
	r.observer.MessageStarted(stage.Name)
	outcome := OutcomeFailed
	defer func() {
		if rec := recover(); rec != nil {
			outcome = OutcomeFailed
			slog.Error("stage_message_panicked",
				"stage", stage.Name,
				"subject", inbound.Subject,
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()),
			)
		}
		r.observer.MessageFinished(stage.Name, outcome, time.Since(start))
	}()

	msg, err := domain.DecodeMessage[In](inbound.Data, stage.InputKind)
	if err != nil {
		outcome = OutcomeInvalid
		slog.Warn("stage_message_invalid",
			"stage", stage.Name,
			"subject", inbound.Subject,
			"error", err,
		)
		return
	}

	handleCtx := ctx
	if r.handleTimeout > 0 {
		var cancel context.CancelFunc
		handleCtx, cancel = context.WithTimeout(ctx, r.handleTimeout)
		defer cancel()
	}

	out, err := stage.Handle(handleCtx, msg)
	if err != nil {
		slog.Error("stage_message_failed",
			"stage", stage.Name,
			"subject", inbound.Subject,
			"error", err,
		)
		return
	}
	if out == nil || stage.OutputSubject == "" {
		outcome = OutcomeCompleted
		return
	}

	err = r.executor.Execute(ctx, "pipeline.publish."+stage.Name, func(callCtx context.Context) error {
		return bus.Publish(callCtx, stage.OutputSubject, out)
	}, classifyPublishError)
	if err != nil {
		outcome = OutcomeDropped
		slog.Error("stage_publish_dropped",
			"stage", stage.Name,
			"subject", stage.OutputSubject,
			"kind", string(out.Kind()),
			"exhausted", resilience.IsFatal(err),
			"error", err,
		)
		return
	}
	outcome = OutcomeForwarded
}

// classifyPublishError retries broker failures but not unencodable messages.
func classifyPublishError(err error) resilience.ErrorClassification {
	if domain.IsKind(err, domain.ErrInvalidInput) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return resilience.RetryAll(err)
}
