package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Hmmir/VTB-API-HACK-sub000/internal/consent"
	"github.com/Hmmir/VTB-API-HACK-sub000/internal/domain"
	"github.com/Hmmir/VTB-API-HACK-sub000/internal/family"
	"github.com/Hmmir/VTB-API-HACK-sub000/internal/interbank"
	"github.com/Hmmir/VTB-API-HACK-sub000/internal/ledger"
	"github.com/Hmmir/VTB-API-HACK-sub000/internal/store"
)

// Metrics
var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// Handler is the thin HTTP adapter over the core engines. It parses input,
// resolves the principal header, dispatches, and maps typed error kinds to
// status codes; no business rules live here.
type Handler struct {
	store     store.Store
	engine    *ledger.Engine
	authority *consent.Authority
	gateway   *interbank.Gateway
	guard     *family.LimitGuard
	workflow  *family.Workflow
	log       *zap.Logger
}

func NewHandler(st store.Store, engine *ledger.Engine, authority *consent.Authority, gateway *interbank.Gateway, guard *family.LimitGuard, workflow *family.Workflow, log *zap.Logger) *Handler {
	return &Handler{
		store:     st,
		engine:    engine,
		authority: authority,
		gateway:   gateway,
		guard:     guard,
		workflow:  workflow,
		log:       log,
	}
}

// Router wires every endpoint under /api/v1 plus the operational routes.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/accounts", h.CreateAccount).Methods("POST")
	v1.HandleFunc("/accounts", h.ListAccounts).Methods("GET")
	v1.HandleFunc("/accounts/{id}", h.GetAccount).Methods("GET")
	v1.HandleFunc("/accounts/{id}/entries", h.ListAccountEntries).Methods("GET")
	v1.HandleFunc("/transfers", h.CreateTransfer).Methods("POST")

	v1.HandleFunc("/consents/requests", h.RequestConsent).Methods("POST")
	v1.HandleFunc("/consents/requests", h.ListConsentRequests).Methods("GET")
	v1.HandleFunc("/consents/requests/{id}/approve", h.ApproveConsentRequest).Methods("POST")
	v1.HandleFunc("/consents/requests/{id}/reject", h.RejectConsentRequest).Methods("POST")
	v1.HandleFunc("/consents", h.ListConsents).Methods("GET")
	v1.HandleFunc("/consents/{id}", h.RevokeConsent).Methods("DELETE")
	v1.HandleFunc("/consents/{id}/events", h.ListConsentEvents).Methods("GET")

	v1.HandleFunc("/interbank/transfers", h.InitiateInterbank).Methods("POST")
	v1.HandleFunc("/interbank/transfers", h.ListInterbank).Methods("GET")
	v1.HandleFunc("/interbank/transfers/{id}", h.GetInterbank).Methods("GET")
	v1.HandleFunc("/interbank/transfers/{id}/status", h.UpdateInterbankStatus).Methods("POST")
	v1.HandleFunc("/payments", h.ListPayments).Methods("GET")

	v1.HandleFunc("/family/groups/{gid}/transfers", h.CreateFamilyTransfer).Methods("POST")
	v1.HandleFunc("/family/groups/{gid}/transfers", h.ListFamilyTransfers).Methods("GET")
	v1.HandleFunc("/family/transfers/{id}/decision", h.DecideFamilyTransfer).Methods("POST")
	v1.HandleFunc("/family/transfers/{id}/cancel", h.CancelFamilyTransfer).Methods("POST")
	v1.HandleFunc("/family/members/{id}/limits/check", h.CheckMemberLimit).Methods("POST")

	v1.HandleFunc("/notifications", h.ListNotifications).Methods("GET")
	v1.HandleFunc("/notifications/{id}/read", h.MarkNotificationRead).Methods("POST")

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", "/health")
}

// principal resolves the authenticated user id threaded through by the
// upstream auth layer.
func principal(r *http.Request) (int64, error) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		return 0, domain.E(domain.KindAuthorization, "missing X-User-ID header")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.E(domain.KindAuthorization, "invalid X-User-ID header")
	}
	return id, nil
}

func pathID(r *http.Request, key string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[key], 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.E(domain.KindValidation, "invalid %s in path", key)
	}
	return id, nil
}

func listFilter(r *http.Request) store.ListFilter {
	q := r.URL.Query()
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	return store.ListFilter{Status: q.Get("status"), Offset: offset, Limit: limit}.Normalize()
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.E(domain.KindValidation, "malformed JSON body")
	}
	return nil
}

// statusFor maps a typed error kind onto an HTTP status.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation, domain.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error, method, endpoint string) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("endpoint", endpoint), zap.Error(err))
		msg = "internal server error"
	}
	h.respondJSON(w, code, map[string]string{
		"error": msg,
		"kind":  domain.KindOf(err).String(),
	}, method, endpoint)
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload any, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
