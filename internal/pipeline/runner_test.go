package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
)

type fakeConsumer struct {
	mu       sync.Mutex
	messages []ports.InboundMessage
	// blockWhenEmpty waits for cancellation instead of reporting a closed subscription.
	blockWhenEmpty bool
	closed         bool
}

func (c *fakeConsumer) Next(ctx context.Context) (ports.InboundMessage, error) {
	c.mu.Lock()
	if len(c.messages) > 0 {
		msg := c.messages[0]
		c.messages = c.messages[1:]
		c.mu.Unlock()
		return msg, nil
	}
	c.mu.Unlock()
	if c.blockWhenEmpty {
		<-ctx.Done()
		return ports.InboundMessage{}, ctx.Err()
	}
	return ports.InboundMessage{}, ports.ErrConsumerClosed
}

func (c *fakeConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeBus struct {
	mu         sync.Mutex
	consumer   *fakeConsumer
	published  []domain.Message
	publishErr error
	closed     bool
}

func (b *fakeBus) Publish(_ context.Context, _ string, msg domain.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, msg)
	return nil
}

func (b *fakeBus) Consume(context.Context, string, string) (ports.MessageConsumer, error) {
	return b.consumer, nil
}

func (b *fakeBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) MessageStarted(string) {}

func (o *recordingObserver) MessageFinished(_ string, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func testExecutor(attempts int) *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    attempts,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})
}

func encoded(t *testing.T, msg domain.Message) ports.InboundMessage {
	t.Helper()
	raw, err := domain.EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage() error = %v", err)
	}
	return ports.InboundMessage{Subject: "in", Data: raw}
}

func classifyStage(handle func(context.Context, domain.DocumentExtracted) (domain.Message, error)) Stage[domain.DocumentExtracted] {
	return Stage[domain.DocumentExtracted]{
		Name:          "classify",
		InputSubject:  "documents.extracted",
		InputKind:     domain.KindDocumentExtracted,
		OutputSubject: "documents.classified",
		Handle:        handle,
	}
}

func extracted(id string) domain.DocumentExtracted {
	return domain.DocumentExtracted{DocumentID: id, DocumentName: id + ".txt", ExtractedText: "text"}
}

func TestRunContinuesAfterHandlerFailure(t *testing.T) {
	consumer := &fakeConsumer{messages: []ports.InboundMessage{
		encoded(t, extracted("doc-1")),
		encoded(t, extracted("doc-2")),
	}}
	bus := &fakeBus{consumer: consumer}
	observer := &recordingObserver{}
	runner := NewRunner(func(context.Context) (ports.MessageBus, error) { return bus, nil },
		RunnerOptions{Executor: testExecutor(2), Observer: observer})

	err := Run(context.Background(), runner, classifyStage(func(_ context.Context, msg domain.DocumentExtracted) (domain.Message, error) {
		if msg.DocumentID == "doc-1" {
			return nil, errors.New("classifier exploded")
		}
		return domain.DocumentClassified{DocumentID: msg.DocumentID, DocType: "Finance"}, nil
	}))
	if !errors.Is(err, ports.ErrConsumerClosed) {
		t.Fatalf("expected consumer closed error, got %v", err)
	}
	if len(bus.published) != 1 || bus.published[0].(domain.DocumentClassified).DocumentID != "doc-2" {
		t.Fatalf("expected doc-2 to be forwarded, got %+v", bus.published)
	}
	if len(observer.outcomes) != 2 || observer.outcomes[0] != OutcomeFailed || observer.outcomes[1] != OutcomeForwarded {
		t.Fatalf("unexpected outcomes %v", observer.outcomes)
	}
	if !consumer.closed || !bus.closed {
		t.Fatalf("expected consumer and bus to be released")
	}
}

func TestRunDropsInvalidMessages(t *testing.T) {
	consumer := &fakeConsumer{messages: []ports.InboundMessage{
		{Subject: "in", Data: []byte("{not json")},
		encoded(t, domain.DocumentExtracted{DocumentID: "doc-1"}),
		encoded(t, extracted("doc-2")),
	}}
	bus := &fakeBus{consumer: consumer}
	handled := 0
	runner := NewRunner(func(context.Context) (ports.MessageBus, error) { return bus, nil },
		RunnerOptions{Executor: testExecutor(2)})

	_ = Run(context.Background(), runner, classifyStage(func(context.Context, domain.DocumentExtracted) (domain.Message, error) {
		handled++
		return nil, nil
	}))
	if handled != 1 {
		t.Fatalf("expected only the valid message to be handled, got %d", handled)
	}
	if len(bus.published) != 0 {
		t.Fatalf("expected nil handler output not to be published")
	}
}

func TestRunDropsMessageWhenPublishIsExhausted(t *testing.T) {
	consumer := &fakeConsumer{messages: []ports.InboundMessage{
		encoded(t, extracted("doc-1")),
		encoded(t, extracted("doc-2")),
	}}
	bus := &fakeBus{consumer: consumer, publishErr: errors.New("broker unavailable")}
	observer := &recordingObserver{}
	runner := NewRunner(func(context.Context) (ports.MessageBus, error) { return bus, nil },
		RunnerOptions{Executor: testExecutor(2), Observer: observer})

	_ = Run(context.Background(), runner, classifyStage(func(_ context.Context, msg domain.DocumentExtracted) (domain.Message, error) {
		return domain.DocumentClassified{DocumentID: msg.DocumentID}, nil
	}))
	if len(observer.outcomes) != 2 || observer.outcomes[0] != OutcomeDropped || observer.outcomes[1] != OutcomeDropped {
		t.Fatalf("expected both messages dropped, got %v", observer.outcomes)
	}
}

func TestRunFailsWhenConnectBudgetIsExhausted(t *testing.T) {
	attempts := 0
	runner := NewRunner(func(context.Context) (ports.MessageBus, error) {
		attempts++
		return nil, errors.New("connection refused")
	}, RunnerOptions{Executor: testExecutor(3)})

	err := Run(context.Background(), runner, classifyStage(func(context.Context, domain.DocumentExtracted) (domain.Message, error) {
		return nil, nil
	}))
	if !resilience.IsFatal(err) {
		t.Fatalf("expected fatal retry exhaustion, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 connect attempts, got %d", attempts)
	}
}

func TestRunStopsCleanlyOnCancellation(t *testing.T) {
	consumer := &fakeConsumer{blockWhenEmpty: true, messages: []ports.InboundMessage{encoded(t, extracted("doc-1"))}}
	bus := &fakeBus{consumer: consumer}
	runner := NewRunner(func(context.Context) (ports.MessageBus, error) { return bus, nil },
		RunnerOptions{Executor: testExecutor(2)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, runner, classifyStage(func(context.Context, domain.DocumentExtracted) (domain.Message, error) {
			cancel()
			return nil, nil
		}))
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean exit, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stage did not stop after cancellation")
	}
	if !consumer.closed || !bus.closed {
		t.Fatalf("expected consumer and bus to be released")
	}
}

func TestRunRecoversFromHandlerPanic(t *testing.T) {
	consumer := &fakeConsumer{messages: []ports.InboundMessage{
		encoded(t, extracted("doc-1")),
		encoded(t, extracted("doc-2")),
	}}
	bus := &fakeBus{consumer: consumer}
	observer := &recordingObserver{}
	runner := NewRunner(func(context.Context) (ports.MessageBus, error) { return bus, nil },
		RunnerOptions{Executor: testExecutor(2), Observer: observer})

	var handled []string
	err := Run(context.Background(), runner, classifyStage(func(_ context.Context, msg domain.DocumentExtracted) (domain.Message, error) {
		handled = append(handled, msg.DocumentID)
		if msg.DocumentID == "doc-1" {
			var labels map[string]int
			labels["broken"]++
		}
		return domain.DocumentClassified{DocumentID: msg.DocumentID, DocType: "Finance"}, nil
	}))
	if !errors.Is(err, ports.ErrConsumerClosed) {
		t.Fatalf("expected consumer closed error, got %v", err)
	}
	if len(handled) != 2 || handled[1] != "doc-2" {
		t.Fatalf("expected doc-2 to be handled after the panic, got %v", handled)
	}
	if len(bus.published) != 1 || bus.published[0].(domain.DocumentClassified).DocumentID != "doc-2" {
		t.Fatalf("expected doc-2 to be forwarded, got %+v", bus.published)
	}
	if len(observer.outcomes) != 2 || observer.outcomes[0] != OutcomeFailed || observer.outcomes[1] != OutcomeForwarded {
		t.Fatalf("unexpected outcomes %v", observer.outcomes)
	}
}
