package httpadapter

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/observability/metrics"
)

const serviceName = "api"

type Options struct {
	MaxUploadBytes int64
	AdminAPIKey    string
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	QueueWait      time.Duration
}

type Router struct {
	submitter ports.DocumentSubmitter
	history   ports.DocumentHistory
	admin     ports.RuleAdmin
	metrics   *metrics.HTTPServerMetrics
	opts      Options
}

func NewRouter(
	submitter ports.DocumentSubmitter,
	history ports.DocumentHistory,
	admin ports.RuleAdmin,
	httpMetrics *metrics.HTTPServerMetrics,
	opts Options,
) *Router {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 50 << 20
	}
	return &Router{
		submitter: submitter,
		history:   history,
		admin:     admin,
		metrics:   httpMetrics,
		opts:      opts,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	mux.HandleFunc("POST /v1/documents", rt.uploadDocument)
	mux.HandleFunc("GET /v1/documents/{id}", rt.getDocument)
	mux.HandleFunc("GET /v1/documents/{id}/classifications", rt.listClassifications)
	mux.HandleFunc("GET /v1/documents/{id}/routing-logs", rt.listRoutingLogs)
	mux.HandleFunc("GET /v1/documents/{id}/audit", rt.listAudit)

	mux.Handle("GET /v1/rules", rt.requireAdmin(rt.listRules))
	mux.Handle("POST /v1/rules", rt.requireAdmin(rt.addRule))
	mux.Handle("DELETE /v1/rules/{keyword}", rt.requireAdmin(rt.removeRule))

	mux.Handle("GET /v1/routing-rules", rt.requireAdmin(rt.listRoutingRules))
	mux.Handle("POST /v1/routing-rules", rt.requireAdmin(rt.addRoutingRule))
	mux.Handle("POST /v1/routing-rules/{id}/enable", rt.requireAdmin(rt.setRoutingRuleEnabled(true)))
	mux.Handle("POST /v1/routing-rules/{id}/disable", rt.requireAdmin(rt.setRoutingRuleEnabled(false)))
	mux.Handle("DELETE /v1/routing-rules/{id}", rt.requireAdmin(rt.removeRoutingRule))

	var handler http.Handler = mux
	if rt.opts.MaxInFlight > 0 {
		handler = backpressureMiddleware(handler, rt.opts.MaxInFlight, rt.opts.QueueWait)
	}
	if rt.opts.RateLimitRPS > 0 {
		handler = rateLimitMiddleware(handler, rt.opts.RateLimitRPS, rt.opts.RateLimitBurst)
	}
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.opts.MaxUploadBytes)
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			rt.recordUpload(0, err)
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		rt.recordUpload(0, err)
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	uploadedBy := strings.TrimSpace(r.FormValue("uploaded_by"))
	req, err := rt.submitter.Submit(r.Context(), fileHeader.Filename, uploadedBy, file)
	rt.recordUpload(fileHeader.Size, err)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":      "queued",
		"file_path":   req.FilePath,
		"source":      req.Source,
		"uploaded_by": req.UploadedBy,
	})
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.history.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) listClassifications(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !rt.documentExists(w, r, id) {
		return
	}
	items, err := rt.history.ListClassifications(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (rt *Router) listRoutingLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !rt.documentExists(w, r, id) {
		return
	}
	items, err := rt.history.ListRoutingLogs(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (rt *Router) listAudit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !rt.documentExists(w, r, id) {
		return
	}
	items, err := rt.history.ListAudit(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (rt *Router) documentExists(w http.ResponseWriter, r *http.Request, id string) bool {
	if _, err := rt.history.GetByID(r.Context(), id); err != nil {
		writeDomainError(w, r, err)
		return false
	}
	return true
}

type addRuleRequest struct {
	Keyword   string `json:"keyword"`
	Category  string `json:"category"`
	CreatedBy string `json:"created_by"`
}

func (rt *Router) listRules(w http.ResponseWriter, r *http.Request) {
	rules, err := rt.admin.ListRules(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rules})
}

func (rt *Router) addRule(w http.ResponseWriter, r *http.Request) {
	var req addRuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rule, err := rt.admin.AddRule(r.Context(), req.Keyword, req.Category, req.CreatedBy)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	rt.recordRuleChange("classification", "upsert")
	writeJSON(w, http.StatusCreated, rule)
}

func (rt *Router) removeRule(w http.ResponseWriter, r *http.Request) {
	if err := rt.admin.RemoveRule(r.Context(), r.PathValue("keyword")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	rt.recordRuleChange("classification", "delete")
	w.WriteHeader(http.StatusNoContent)
}

type addRoutingRuleRequest struct {
	DocType          string                `json:"doc_type"`
	DestinationKind  string                `json:"destination_kind"`
	DestinationValue string                `json:"destination_value"`
	Conditions       domain.RuleConditions `json:"conditions"`
	Enabled          *bool                 `json:"enabled"`
}

func (rt *Router) listRoutingRules(w http.ResponseWriter, r *http.Request) {
	rules, err := rt.admin.ListRoutingRules(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rules})
}

func (rt *Router) addRoutingRule(w http.ResponseWriter, r *http.Request) {
	var req addRoutingRuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	rule, err := rt.admin.AddRoutingRule(r.Context(), domain.RoutingRule{
		DocType:          req.DocType,
		DestinationKind:  domain.DestinationKind(req.DestinationKind),
		DestinationValue: req.DestinationValue,
		Conditions:       req.Conditions,
		Enabled:          enabled,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	rt.recordRuleChange("routing", "create")
	writeJSON(w, http.StatusCreated, rule)
}

func (rt *Router) setRoutingRuleEnabled(enabled bool) http.HandlerFunc {
	action := "disable"
	if enabled {
		action = "enable"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if err := rt.admin.SetRoutingRuleEnabled(r.Context(), r.PathValue("id"), enabled); err != nil {
			writeDomainError(w, r, err)
			return
		}
		rt.recordRuleChange("routing", action)
		writeJSON(w, http.StatusOK, map[string]any{"id": r.PathValue("id"), "enabled": enabled})
	}
}

func (rt *Router) removeRoutingRule(w http.ResponseWriter, r *http.Request) {
	if err := rt.admin.RemoveRoutingRule(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	rt.recordRuleChange("routing", "delete")
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) recordUpload(size int64, err error) {
	if rt.metrics != nil {
		rt.metrics.RecordUpload(serviceName, size, err)
	}
}

func (rt *Router) recordRuleChange(kind, action string) {
	if rt.metrics != nil {
		rt.metrics.RecordRuleChange(serviceName, kind, action)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return false
	}
	return true
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("http_handler_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
