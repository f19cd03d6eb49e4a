package service

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hive-corporation/guardybot/internal/core/domain"
)

const samplePath = "../domain/testdata/k8s_privileged_container.json"

func loadSample(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile(samplePath)
	if err != nil {
		t.Fatalf("failed to read sample finding: %v", err)
	}
	return data
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []domain.OutboundMessage
	err  error
}

func (n *fakeNotifier) Notify(ctx context.Context, msg domain.OutboundMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *fakeNotifier) Name() string { return "fake" }

type fakeGuard struct {
	mu       sync.Mutex
	claimed  map[string]bool
	released []string
	err      error
}

func newFakeGuard() *fakeGuard { return &fakeGuard{claimed: map[string]bool{}} }

func (g *fakeGuard) Claim(ctx context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false, g.err
	}
	if g.claimed[key] {
		return false, nil
	}
	g.claimed[key] = true
	return true, nil
}

func (g *fakeGuard) Release(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claimed, key)
	g.released = append(g.released, key)
	return nil
}

type fakeRepo struct {
	mu         sync.Mutex
	deliveries []domain.Delivery
	err        error
}

func (r *fakeRepo) Save(ctx context.Context, d domain.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.deliveries = append(r.deliveries, d)
	return nil
}

func (r *fakeRepo) FindSince(ctx context.Context, since time.Time, limit int) ([]domain.Delivery, error) {
	return r.deliveries, nil
}

func (r *fakeRepo) FindByFindingID(ctx context.Context, id string) ([]domain.Delivery, error) {
	return nil, nil
}

type muteAccount string

func (m muteAccount) Match(f domain.Finding) (string, bool) {
	if f.AccountID == string(m) {
		return "sandbox", true
	}
	return "", false
}

func TestProcess_EndToEnd(t *testing.T) {
	notifier := &fakeNotifier{}
	repo := &fakeRepo{}
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	fixed := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	p := NewFindingProcessor(notifier,
		WithDeliveryRepository(repo),
		WithDuplicateGuard(newFakeGuard()),
		WithTracer(tp.Tracer("test")),
		withClock(func() time.Time { return fixed }),
	)

	out, err := p.Process(context.Background(), loadSample(t))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if out.Status != domain.DeliverySent {
		t.Errorf("status = %s, want sent", out.Status)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.sent))
	}
	msg := notifier.sent[0]
	if msg.Tier != domain.TierHigh || !strings.Contains(msg.Title, "PrivilegeEscalation") {
		t.Errorf("unexpected message: %+v", msg)
	}

	if len(repo.deliveries) != 1 {
		t.Fatalf("expected one audit record, got %d", len(repo.deliveries))
	}
	d := repo.deliveries[0]
	if d.ID != out.DeliveryID || d.Status != domain.DeliverySent || d.Notifier != "fake" || d.Count != 3 {
		t.Errorf("unexpected delivery: %+v", d)
	}
	if !d.ProcessedAt.Equal(fixed) {
		t.Errorf("processed at = %v", d.ProcessedAt)
	}

	spans := recorder.Ended()
	names := map[string]bool{}
	for _, s := range spans {
		names[s.Name()] = true
	}
	if !names["guardybot.process"] || !names["guardybot.notify"] {
		t.Errorf("expected process and notify spans, got %v", names)
	}
}

func TestProcess_Duplicate(t *testing.T) {
	notifier := &fakeNotifier{}
	repo := &fakeRepo{}
	p := NewFindingProcessor(notifier, WithDuplicateGuard(newFakeGuard()), WithDeliveryRepository(repo))

	payload := loadSample(t)
	if _, err := p.Process(context.Background(), payload); err != nil {
		t.Fatalf("first Process failed: %v", err)
	}
	out, err := p.Process(context.Background(), payload)
	if err != nil {
		t.Fatalf("second Process failed: %v", err)
	}

	if out.Status != domain.DeliveryDuplicate {
		t.Errorf("status = %s, want duplicate", out.Status)
	}
	if len(notifier.sent) != 1 {
		t.Errorf("duplicate was re-posted: %d notifications", len(notifier.sent))
	}
	if len(repo.deliveries) != 2 || repo.deliveries[1].Status != domain.DeliveryDuplicate {
		t.Errorf("unexpected audit trail: %+v", repo.deliveries)
	}
}

func TestProcess_GuardFailureFailsOpen(t *testing.T) {
	notifier := &fakeNotifier{}
	guard := newFakeGuard()
	guard.err = errors.New("redis down")
	p := NewFindingProcessor(notifier, WithDuplicateGuard(guard))

	out, err := p.Process(context.Background(), loadSample(t))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if out.Status != domain.DeliverySent || len(notifier.sent) != 1 {
		t.Errorf("finding should still be sent, status=%s sent=%d", out.Status, len(notifier.sent))
	}
}

func TestProcess_AuditFailureDoesNotBlock(t *testing.T) {
	notifier := &fakeNotifier{}
	p := NewFindingProcessor(notifier, WithDeliveryRepository(&fakeRepo{err: errors.New("db down")}))

	out, err := p.Process(context.Background(), loadSample(t))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if out.DeliveryID != "" {
		t.Errorf("delivery id should be empty when the audit write fails")
	}
	if len(notifier.sent) != 1 {
		t.Error("finding should still be sent")
	}
}

func TestProcess_Muted(t *testing.T) {
	notifier := &fakeNotifier{}
	repo := &fakeRepo{}
	p := NewFindingProcessor(notifier,
		WithDeliveryRepository(repo),
		WithPresentation(Presentation{Filter: muteAccount("123456789012")}),
	)

	out, err := p.Process(context.Background(), loadSample(t))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if out.Status != domain.DeliveryMuted || out.Rule != "sandbox" {
		t.Errorf("outcome = %+v", out)
	}
	if len(notifier.sent) != 0 {
		t.Error("muted finding must not be sent")
	}
	if len(repo.deliveries) != 1 || repo.deliveries[0].Detail != "rule=sandbox" {
		t.Errorf("unexpected audit trail: %+v", repo.deliveries)
	}
}

func TestProcess_DispatchFailureReleasesClaim(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("slack down")}
	guard := newFakeGuard()
	repo := &fakeRepo{}
	p := NewFindingProcessor(notifier, WithDuplicateGuard(guard), WithDeliveryRepository(repo))

	out, err := p.Process(context.Background(), loadSample(t))
	if !errors.Is(err, ErrDispatch) {
		t.Fatalf("expected ErrDispatch, got %v", err)
	}
	if !strings.Contains(err.Error(), "slack down") {
		t.Errorf("error should carry the cause: %v", err)
	}
	if out.Status != domain.DeliveryFailed {
		t.Errorf("status = %s", out.Status)
	}
	if len(guard.released) != 1 || len(guard.claimed) != 0 {
		t.Errorf("claim should be released after a failed send: %+v", guard)
	}
	if len(repo.deliveries) != 1 || repo.deliveries[0].Status != domain.DeliveryFailed {
		t.Errorf("unexpected audit trail: %+v", repo.deliveries)
	}
}

func TestProcess_RejectsBadPayload(t *testing.T) {
	notifier := &fakeNotifier{}
	p := NewFindingProcessor(notifier)

	for _, payload := range []string{``, `{}`, `not json`, `{"id":"x"}`} {
		_, err := p.Process(context.Background(), []byte(payload))
		if !errors.Is(err, domain.ErrDeserialization) {
			t.Errorf("payload %q: expected ErrDeserialization, got %v", payload, err)
		}
	}
	if len(notifier.sent) != 0 {
		t.Error("nothing should be sent for bad payloads")
	}
}

func TestProcess_NoNotifier(t *testing.T) {
	p := NewFindingProcessor(nil)
	_, err := p.Process(context.Background(), loadSample(t))
	if !errors.Is(err, ErrDispatch) {
		t.Fatalf("expected ErrDispatch, got %v", err)
	}
}

func TestPreview_HasNoSideEffects(t *testing.T) {
	notifier := &fakeNotifier{}
	guard := newFakeGuard()
	repo := &fakeRepo{}
	p := NewFindingProcessor(notifier, WithDuplicateGuard(guard), WithDeliveryRepository(repo))

	out, err := p.Preview(context.Background(), loadSample(t))
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if out.Message.Title == "" || out.Status != "" {
		t.Errorf("unexpected preview: %+v", out)
	}
	if len(notifier.sent) != 0 || len(guard.claimed) != 0 || len(repo.deliveries) != 0 {
		t.Error("preview must not send, claim or audit")
	}
}

func TestSetPresentation_Reclassifies(t *testing.T) {
	p := NewFindingProcessor(&fakeNotifier{})

	typ := "Execution:Lambda/NewThing"
	if p.Classify(typ).Recognized {
		t.Fatal("type should start unrecognized")
	}

	bands := domain.SeverityBands{Low: 1, Medium: 2, High: 3, Critical: 4}
	p.SetPresentation(Presentation{
		Catalog:   domain.DefaultCatalog().With(domain.PurposeExecution, domain.NamespaceLambda),
		Presenter: domain.Presenter{Bands: bands},
	})

	if !p.Classify(typ).Recognized {
		t.Error("extended catalog should recognize the new pair")
	}

	out, err := p.Preview(context.Background(), loadSample(t))
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if out.Message.Tier != domain.TierCritical {
		t.Errorf("custom bands should make severity 8 critical, got %s", out.Message.Tier)
	}
	if strings.Contains(out.Message.Pretext, "@") {
		t.Errorf("presenter without mentions should not mention anyone: %q", out.Message.Pretext)
	}
}

func TestSetPresentation_NilFieldsFallBack(t *testing.T) {
	p := NewFindingProcessor(nil)
	p.SetPresentation(Presentation{})

	current := p.CurrentPresentation()
	if current.Catalog == nil {
		t.Fatal("catalog should default")
	}
	if current.Presenter.Bands != domain.DefaultSeverityBands() {
		t.Errorf("bands should default, got %+v", current.Presenter.Bands)
	}
}

func TestProcess_Concurrent(t *testing.T) {
	notifier := &fakeNotifier{}
	p := NewFindingProcessor(notifier, WithDuplicateGuard(newFakeGuard()))
	payload := loadSample(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Process(context.Background(), payload); err != nil {
				t.Errorf("Process failed: %v", err)
			}
		}()
		if i == 8 {
			p.SetPresentation(DefaultPresentation())
		}
	}
	wg.Wait()

	if len(notifier.sent) != 1 {
		t.Errorf("same publication should be sent exactly once, got %d", len(notifier.sent))
	}
}
