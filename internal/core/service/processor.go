package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hive-corporation/guardybot/internal/adapter/metrics"
	"github.com/hive-corporation/guardybot/internal/core/domain"
	"github.com/hive-corporation/guardybot/internal/core/ports"
)

const tracerName = "github.com/hive-corporation/guardybot/internal/core/service"

// ErrDispatch wraps notifier failures so callers can tell them apart from
// bad payloads.
var ErrDispatch = errors.New("dispatch failed")

// Presentation is the reloadable part of the pipeline.
type Presentation struct {
	Catalog   *domain.Catalog
	Presenter domain.Presenter
	Filter    ports.MuteFilter
}

// DefaultPresentation uses the built-in catalog, bands and mentions, and mutes nothing.
func DefaultPresentation() Presentation {
	return Presentation{
		Catalog:   domain.DefaultCatalog(),
		Presenter: domain.DefaultPresenter(),
	}
}

// Outcome reports what happened to one finding.
type Outcome struct {
	FindingID  string                 `json:"findingId"`
	Status     domain.DeliveryStatus  `json:"status,omitempty"`
	Rule       string                 `json:"rule,omitempty"`
	DeliveryID string                 `json:"deliveryId,omitempty"`
	Taxonomy   domain.TypeTaxonomy    `json:"taxonomy"`
	Message    domain.OutboundMessage `json:"message"`
	Finding    domain.Finding         `json:"-"`
}

// FindingProcessor runs a payload through decode, classify, present, render
// and dispatch. It is safe for concurrent use; presentation settings can be
// swapped while findings are in flight.
type FindingProcessor struct {
	presentation atomic.Pointer[Presentation]
	notifier     ports.Notifier
	guard        ports.DuplicateGuard
	repo         ports.DeliveryRepository
	logger       *slog.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

type Option func(*FindingProcessor)

func WithDuplicateGuard(g ports.DuplicateGuard) Option {
	return func(p *FindingProcessor) { p.guard = g }
}

func WithDeliveryRepository(r ports.DeliveryRepository) Option {
	return func(p *FindingProcessor) { p.repo = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *FindingProcessor) { p.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(p *FindingProcessor) { p.tracer = t }
}

func WithPresentation(pr Presentation) Option {
	return func(p *FindingProcessor) { p.SetPresentation(pr) }
}

func withClock(now func() time.Time) Option {
	return func(p *FindingProcessor) { p.now = now }
}

// NewFindingProcessor builds a processor. notifier may be nil for
// render-only use (Preview, Classify).
func NewFindingProcessor(notifier ports.Notifier, opts ...Option) *FindingProcessor {
	p := &FindingProcessor{
		notifier: notifier,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
	p.SetPresentation(DefaultPresentation())
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetPresentation atomically replaces catalog, presenter and filter.
// Nil fields fall back to the defaults.
func (p *FindingProcessor) SetPresentation(pr Presentation) {
	if pr.Catalog == nil {
		pr.Catalog = domain.DefaultCatalog()
	}
	if pr.Presenter.Mentions == nil && pr.Presenter.Bands == (domain.SeverityBands{}) {
		pr.Presenter = domain.DefaultPresenter()
	}
	p.presentation.Store(&pr)
}

// CurrentPresentation returns the settings in use.
func (p *FindingProcessor) CurrentPresentation() Presentation {
	return *p.presentation.Load()
}

// Classify runs a type string through the current catalog.
func (p *FindingProcessor) Classify(typeString string) domain.TypeTaxonomy {
	return p.presentation.Load().Catalog.Classify(typeString)
}

// Preview decodes and renders a finding without muting, deduplicating or sending it.
func (p *FindingProcessor) Preview(ctx context.Context, payload []byte) (Outcome, error) {
	_, span := p.tracer.Start(ctx, "guardybot.preview")
	defer span.End()

	pr := p.presentation.Load()
	out, err := p.render(pr, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "deserialization failed")
		metrics.RecordFinding("rejected")
		return Outcome{}, err
	}

	span.SetAttributes(findingAttributes(out)...)
	metrics.RecordFinding("preview")
	return out, nil
}

// Process runs the full pipeline for one payload. Deserialization failures
// and dispatch failures are returned; muted and duplicate findings are not
// errors. Duplicate-guard and audit failures are logged and never block a
// notification.
func (p *FindingProcessor) Process(ctx context.Context, payload []byte) (Outcome, error) {
	ctx, span := p.tracer.Start(ctx, "guardybot.process")
	defer span.End()

	pr := p.presentation.Load()
	out, err := p.render(pr, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "deserialization failed")
		metrics.RecordFinding("rejected")
		p.logger.Warn("⚠️ rejected finding payload", "error", err)
		return Outcome{}, err
	}
	span.SetAttributes(findingAttributes(out)...)

	metrics.RecordClassification(out.Taxonomy.ThreatPurpose, pr.Catalog.KnownPurpose(out.Taxonomy.ThreatPurpose), out.Taxonomy.Recognized)
	metrics.RecordTier(string(out.Message.Tier))

	log := p.logger.With("finding_id", out.FindingID, "type", out.Finding.Type, "tier", out.Message.Tier)

	if pr.Filter != nil {
		if rule, muted := pr.Filter.Match(out.Finding); muted {
			out.Status = domain.DeliveryMuted
			out.Rule = rule
			log.Info("🔇 finding muted", "rule", rule)
			p.audit(ctx, &out, "", "rule="+rule)
			return p.finish(span, out), nil
		}
	}

	key := domain.DuplicateKey(out.Finding)
	if p.guard != nil {
		claimed, err := p.guard.Claim(ctx, key)
		switch {
		case err != nil:
			log.Warn("⚠️ duplicate guard unavailable, sending anyway", "error", err)
		case !claimed:
			out.Status = domain.DeliveryDuplicate
			log.Info("♻️ finding already announced", "key", key)
			p.audit(ctx, &out, "", "key="+key)
			return p.finish(span, out), nil
		}
	}

	if p.notifier == nil {
		return Outcome{}, fmt.Errorf("%w: no notifier configured", ErrDispatch)
	}

	if err := p.notify(ctx, out.Message); err != nil {
		out.Status = domain.DeliveryFailed
		if p.guard != nil {
			if rerr := p.guard.Release(ctx, key); rerr != nil {
				log.Warn("⚠️ failed to release duplicate claim", "error", rerr)
			}
		}
		log.Error("❌ failed to deliver finding", "notifier", p.notifier.Name(), "error", err)
		p.audit(ctx, &out, p.notifier.Name(), err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")
		metrics.RecordFinding(string(out.Status))
		return out, fmt.Errorf("%w: %w", ErrDispatch, err)
	}

	out.Status = domain.DeliverySent
	log.Info("📣 finding delivered", "notifier", p.notifier.Name())
	p.audit(ctx, &out, p.notifier.Name(), "")
	return p.finish(span, out), nil
}

func (p *FindingProcessor) render(pr *Presentation, payload []byte) (Outcome, error) {
	f, err := domain.DecodeFinding(payload)
	if err != nil {
		return Outcome{}, err
	}
	f = f.WithCatalog(pr.Catalog)

	attrs := pr.Presenter.Present(f.Severity, f.Taxonomy)
	return Outcome{
		FindingID: f.ID,
		Taxonomy:  f.Taxonomy,
		Message:   domain.Render(f, attrs),
		Finding:   f,
	}, nil
}

func (p *FindingProcessor) notify(ctx context.Context, msg domain.OutboundMessage) error {
	ctx, span := p.tracer.Start(ctx, "guardybot.notify",
		trace.WithAttributes(attribute.String("notifier", p.notifier.Name())))
	defer span.End()

	if err := p.notifier.Notify(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (p *FindingProcessor) audit(ctx context.Context, out *Outcome, notifier, detail string) {
	if p.repo == nil {
		return
	}

	f := out.Finding
	d := domain.Delivery{
		ID:          uuid.NewString(),
		FindingID:   f.ID,
		FindingType: f.Type,
		Severity:    f.Severity,
		Tier:        out.Message.Tier,
		Recognized:  f.Taxonomy.Recognized,
		AccountID:   f.AccountID,
		Region:      f.Region,
		Count:       f.Count,
		Notifier:    notifier,
		Status:      out.Status,
		Detail:      detail,
		ProcessedAt: p.now().UTC(),
	}

	if err := p.repo.Save(ctx, d); err != nil {
		p.logger.Warn("⚠️ failed to record delivery", "finding_id", f.ID, "error", err)
		return
	}
	out.DeliveryID = d.ID
}

func (p *FindingProcessor) finish(span trace.Span, out Outcome) Outcome {
	span.SetAttributes(attribute.String("guardybot.status", string(out.Status)))
	metrics.RecordFinding(string(out.Status))
	return out
}

func findingAttributes(out Outcome) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("guardduty.finding_id", out.FindingID),
		attribute.String("guardduty.type", out.Finding.Type),
		attribute.String("guardduty.account", out.Finding.AccountID),
		attribute.String("guardduty.region", out.Finding.Region),
		attribute.Float64("guardduty.severity", out.Finding.Severity),
		attribute.Bool("guardybot.recognized", out.Taxonomy.Recognized),
		attribute.String("guardybot.tier", string(out.Message.Tier)),
	}
}
