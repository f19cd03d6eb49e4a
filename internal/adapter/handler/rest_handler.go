package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/hive-corporation/guardybot/internal/adapter/exporter"
	"github.com/hive-corporation/guardybot/internal/adapter/trigger"
	"github.com/hive-corporation/guardybot/internal/core/domain"
	"github.com/hive-corporation/guardybot/internal/core/ports"
	"github.com/hive-corporation/guardybot/internal/core/service"
)

const maxBodyBytes = 1 << 20

// FindingService is the pipeline as seen by the HTTP API.
type FindingService interface {
	Process(ctx context.Context, payload []byte) (service.Outcome, error)
	Preview(ctx context.Context, payload []byte) (service.Outcome, error)
	Classify(typeString string) domain.TypeTaxonomy
}

type RestHandler struct {
	processor   FindingService
	repo        ports.DeliveryRepository
	cefExporter *exporter.CEFExporter
	httpClient  *http.Client
	logger      *slog.Logger

	validSubscribeURL func(string) bool
}

// NewRestHandler wires the API. repo may be nil when no audit database is
// configured; the delivery endpoints then answer 503.
func NewRestHandler(processor FindingService, repo ports.DeliveryRepository, logger *slog.Logger) *RestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &RestHandler{
		processor:         processor,
		repo:              repo,
		httpClient:        &http.Client{Timeout: 10 * time.Second},
		logger:            logger,
		validSubscribeURL: trigger.ValidSubscribeURL,
	}
	if repo != nil {
		h.cefExporter = exporter.NewCEFExporter(repo)
	}
	return h
}

// Register mounts every route on the router.
func (h *RestHandler) Register(router *mux.Router) {
	router.HandleFunc("/api/v1/health", h.Health).Methods("GET")

	router.HandleFunc("/api/v1/sns", h.SNSWebhook).Methods("POST")
	router.HandleFunc("/api/v1/findings", h.ProcessFinding).Methods("POST")
	router.HandleFunc("/api/v1/findings/preview", h.PreviewFinding).Methods("POST")
	router.HandleFunc("/api/v1/classify", h.Classify).Methods("GET")

	router.HandleFunc("/api/v1/deliveries/feed", h.GetDeliveryFeed).Methods("GET")
	router.HandleFunc("/api/v1/deliveries/{findingId}", h.GetFindingDeliveries).Methods("GET")
}

// Health check endpoint
func (h *RestHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "guardybot-api",
	}
	writeJSON(w, http.StatusOK, response)
}

// SNSWebhook receives deliveries from an SNS HTTPS subscription.
func (h *RestHandler) SNSWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := trigger.ParseSNSHTTP(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch msg.Type {
	case trigger.SNSSubscriptionConfirmation:
		h.confirmSubscription(w, r, msg)

	case trigger.SNSNotification:
		payload, err := trigger.ExtractFinding([]byte(msg.Message))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.process(w, r, payload)

	case trigger.SNSUnsubscribeConfirmation:
		h.logger.Warn("⚠️ SNS subscription removed", "topic", msg.TopicArn)
		writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})

	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported SNS message type %q", msg.Type))
	}
}

func (h *RestHandler) confirmSubscription(w http.ResponseWriter, r *http.Request, msg trigger.SNSHTTPMessage) {
	if !h.validSubscribeURL(msg.SubscribeURL) {
		h.logger.Warn("⚠️ refusing SNS subscription with untrusted SubscribeURL", "url", msg.SubscribeURL)
		writeError(w, http.StatusBadRequest, "untrusted SubscribeURL")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", msg.SubscribeURL, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid SubscribeURL")
		return
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		h.logger.Error("❌ SNS subscription confirmation failed", "topic", msg.TopicArn, "error", err)
		writeError(w, http.StatusBadGateway, "subscription confirmation failed")
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("subscription confirmation returned status %d", resp.StatusCode))
		return
	}

	h.logger.Info("✅ SNS subscription confirmed", "topic", msg.TopicArn)
	writeJSON(w, http.StatusOK, map[string]string{"status": "subscribed", "topic": msg.TopicArn})
}

// ProcessFinding accepts an EventBridge event or a bare finding.
func (h *RestHandler) ProcessFinding(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.findingPayload(w, r)
	if !ok {
		return
	}
	h.process(w, r, payload)
}

// PreviewFinding renders a finding without sending it.
func (h *RestHandler) PreviewFinding(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.findingPayload(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	out, err := h.processor.Preview(ctx, payload)
	if err != nil {
		writeProcessError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Classify returns the taxonomy of a finding type string.
func (h *RestHandler) Classify(w http.ResponseWriter, r *http.Request) {
	typeString := r.URL.Query().Get("type")
	if typeString == "" {
		writeError(w, http.StatusBadRequest, "missing 'type' parameter")
		return
	}

	taxonomy := h.processor.Classify(typeString)
	response := map[string]interface{}{
		"taxonomy":   taxonomy,
		"wellFormed": taxonomy.WellFormed(),
		"docsLink":   domain.DocsLink(taxonomy),
	}
	writeJSON(w, http.StatusOK, response)
}

// GetDeliveryFeed exports the audit log for SIEM ingestion
func (h *RestHandler) GetDeliveryFeed(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "delivery audit log is not configured")
		return
	}

	format := r.URL.Query().Get("format")
	since := r.URL.Query().Get("since") // e.g., "24h", "90m"

	// Parse time duration
	var sinceTime time.Time
	if since != "" {
		duration, err := time.ParseDuration(since)
		if err != nil || duration <= 0 {
			writeError(w, http.StatusBadRequest, "invalid 'since' parameter (use format like '24h', '90m')")
			return
		}
		sinceTime = time.Now().Add(-duration)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	switch format {
	case "cef", "":
		data, err := h.cefExporter.Export(ctx, sinceTime)
		if err != nil {
			h.logger.Error("❌ failed to export CEF feed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to export CEF feed")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(data)); err != nil {
			h.logger.Warn("error writing CEF feed response", "error", err)
		}

	case "json":
		if sinceTime.IsZero() {
			sinceTime = time.Now().Add(-24 * time.Hour)
		}
		deliveries, err := h.repo.FindSince(ctx, sinceTime, 10000)
		if err != nil {
			h.logger.Error("❌ failed to query deliveries", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to query deliveries")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"count":      len(deliveries),
			"deliveries": deliveriesJSON(deliveries),
		})

	default:
		writeError(w, http.StatusBadRequest, "unsupported format (use 'cef' or 'json')")
	}
}

// GetFindingDeliveries lists what happened to every publication of one finding.
func (h *RestHandler) GetFindingDeliveries(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "delivery audit log is not configured")
		return
	}

	findingID := mux.Vars(r)["findingId"]

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	deliveries, err := h.repo.FindByFindingID(ctx, findingID)
	if err != nil {
		h.logger.Error("❌ failed to query deliveries", "finding_id", findingID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to query deliveries")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"findingId":  findingID,
		"count":      len(deliveries),
		"deliveries": deliveriesJSON(deliveries),
	})
}

func (h *RestHandler) findingPayload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	payload, err := trigger.ExtractFinding(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return payload, true
}

func (h *RestHandler) process(w http.ResponseWriter, r *http.Request, payload []byte) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	out, err := h.processor.Process(ctx, payload)
	if err != nil {
		if errors.Is(err, service.ErrDispatch) {
			writeJSON(w, http.StatusBadGateway, map[string]interface{}{
				"error":   err.Error(),
				"outcome": out,
			})
			return
		}
		writeProcessError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Helper functions

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, errors.New("request body too large")
	}
	return body, nil
}

func writeProcessError(w http.ResponseWriter, err error) {
	var derr *domain.DeserializationError
	switch {
	case errors.As(err, &derr):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
			"field": derr.Field,
		})
	case errors.Is(err, domain.ErrDeserialization):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "failed to process finding")
	}
}

func deliveriesJSON(deliveries []domain.Delivery) []map[string]interface{} {
	out := make([]map[string]interface{}, len(deliveries))
	for i, d := range deliveries {
		out[i] = map[string]interface{}{
			"id":           d.ID,
			"finding_id":   d.FindingID,
			"finding_type": d.FindingType,
			"severity":     d.Severity,
			"tier":         d.Tier,
			"recognized":   d.Recognized,
			"account_id":   d.AccountID,
			"region":       d.Region,
			"count":        d.Count,
			"notifier":     d.Notifier,
			"status":       d.Status,
			"detail":       d.Detail,
			"processed_at": d.ProcessedAt.Format(time.RFC3339),
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("error encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
