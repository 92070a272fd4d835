package httpapi

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hingelabs/hinge/server/internal/hinge/service"
	"github.com/hingelabs/hinge/server/internal/hinge/types"
)

// maxRequestBody caps the request body size. The largest device payload
// (a state report with a security payload blob) stays well under 16 KiB.
const maxRequestBody = 16 * 1024

const (
	deviceHeader    = "X-Hinge-Device"
	signatureHeader = "X-Hinge-Signature"
	actorHeader     = "X-Hinge-Actor"
)

type Dependencies struct {
	Logger     *log.Logger
	Addr       string
	Enrollment *service.EnrollmentService
	Dispatcher *service.Dispatcher
	Presence   *service.StateService
	Ingest     *service.Ingest
	Audit      *service.AuditLog
	Registry   *prometheus.Registry
}

type Server struct {
	httpServer *http.Server
	logger     *log.Logger
	mux        *http.ServeMux
	enrollment *service.EnrollmentService
	dispatcher *service.Dispatcher
	presence   *service.StateService
	ingest     *service.Ingest
	audit      *service.AuditLog
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:     d.Logger,
		mux:        mux,
		enrollment: d.Enrollment,
		dispatcher: d.Dispatcher,
		presence:   d.Presence,
		ingest:     d.Ingest,
		audit:      d.Audit,
	}

	mux.HandleFunc("POST /v1/enrollment/codes", s.handleIssueCode)
	mux.HandleFunc("POST /v1/enrollment/redeem", s.handleRedeemCode)
	mux.HandleFunc("POST /v1/enrollment/revoke", s.handleRevokeCode)
	mux.HandleFunc("POST /v1/commands", s.handleSubmitCommand)
	mux.HandleFunc("POST /v1/commands/{ticket_id}/cancel", s.handleCancelCommand)
	mux.HandleFunc("GET /v1/tickets/{ticket_id}", s.handleGetTicket)
	mux.HandleFunc("GET /v1/devices/{device_id}/state", s.handleGetState)
	mux.HandleFunc("GET /v1/devices/{device_id}/events", s.handleListEvents)
	mux.HandleFunc("GET /v1/audit", s.handleListAudit)
	mux.HandleFunc("POST /v1/audit/verify", s.handleVerifyAudit)
	mux.HandleFunc("POST /v1/telemetry", s.handleTelemetry)

	if d.Registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))
	}

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func actor(r *http.Request) string {
	if a := r.Header.Get(actorHeader); a != "" {
		return a
	}
	return "api"
}

// ── Enrollment ───────────────────────────────────────────────────────────────

func (s *Server) handleIssueCode(w http.ResponseWriter, r *http.Request) {
	code, err := s.enrollment.IssueCode(r.Context(), actor(r))
	if err != nil {
		s.writeServiceError(w, "issue_code", err)
		return
	}
	writeJSON(w, http.StatusCreated, code)
}

type redeemRequest struct {
	Code string           `json:"code"`
	Meta types.DeviceMeta `json:"device_meta"`
}

type redeemResponse struct {
	DeviceID string `json:"device_id"`
	// Secret is hex; revealed here and never again.
	Secret     string    `json:"secret"`
	EnrolledAt time.Time `json:"enrolled_at"`
}

func (s *Server) handleRedeemCode(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	dev, err := s.enrollment.RedeemCode(r.Context(), req.Code, req.Meta)
	if err != nil {
		s.writeServiceError(w, "redeem_code", err)
		return
	}
	writeJSON(w, http.StatusCreated, redeemResponse{
		DeviceID:   dev.DeviceID,
		Secret:     hex.EncodeToString(dev.Secret),
		EnrolledAt: dev.EnrolledAt,
	})
}

type revokeRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleRevokeCode(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.enrollment.RevokeCode(r.Context(), actor(r), req.Code); err != nil {
		s.writeServiceError(w, "revoke_code", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ── Commands ─────────────────────────────────────────────────────────────────

type submitRequest struct {
	TicketID    string            `json:"ticket_id"`
	DeviceID    string            `json:"device_id"`
	CommandType types.CommandType `json:"command_type"`
	Args        json.RawMessage   `json:"args,omitempty"`
}

type ticketResponse struct {
	Ticket types.CommandTicket `json:"ticket"`
	Error  string              `json:"error,omitempty"`
}

func (s *Server) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	t, err := s.dispatcher.Submit(r.Context(), req.TicketID, req.DeviceID, req.CommandType, req.Args)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, ticketResponse{Ticket: t})
	case errors.Is(err, service.ErrDeviceOffline):
		// The ticket exists in TIMED_OUT; the caller gets both the
		// outcome and the reason.
		writeJSON(w, http.StatusConflict, ticketResponse{Ticket: t, Error: "device_offline"})
	default:
		s.writeServiceError(w, "submit_command", err)
	}
}

func (s *Server) handleCancelCommand(w http.ResponseWriter, r *http.Request) {
	ticketID := r.PathValue("ticket_id")
	t, err := s.dispatcher.Cancel(r.Context(), actor(r), ticketID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, ticketResponse{Ticket: t})
	case errors.Is(err, service.ErrCancelRaced):
		writeJSON(w, http.StatusConflict, ticketResponse{Ticket: t, Error: "cancel_raced"})
	default:
		s.writeServiceError(w, "cancel_command", err)
	}
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	t, err := s.dispatcher.GetTicket(r.Context(), r.PathValue("ticket_id"))
	if err != nil {
		s.writeServiceError(w, "get_ticket", err)
		return
	}
	writeJSON(w, http.StatusOK, ticketResponse{Ticket: t})
}

// ── Device reads ─────────────────────────────────────────────────────────────

type stateResponse struct {
	State  types.DeviceState `json:"state"`
	Online bool              `json:"online"`
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")
	st, err := s.presence.GetState(r.Context(), deviceID)
	if err != nil {
		s.writeServiceError(w, "get_state", err)
		return
	}
	online, err := s.presence.IsOnline(r.Context(), deviceID)
	if err != nil {
		s.writeServiceError(w, "get_state", err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: st, Online: online})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")

	var before time.Time
	if v := r.URL.Query().Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_before", "before must be RFC3339")
			return
		}
		before = t
	}
	limit := queryInt(r, "limit", 50)

	events, err := s.ingest.ListEvents(r.Context(), deviceID, before, limit)
	if err != nil {
		s.writeServiceError(w, "list_events", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	afterID := int64(queryInt(r, "after", 0))
	limit := queryInt(r, "limit", 50)

	entries, err := s.audit.List(r.Context(), afterID, limit)
	if err != nil {
		s.writeServiceError(w, "list_audit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type verifyAuditResponse struct {
	OK         bool  `json:"ok"`
	FirstBadID int64 `json:"first_bad_id,omitempty"`
}

// handleVerifyAudit recomputes the full hash chain on demand. A failed
// verification also halts privileged writes until the operator intervenes.
func (s *Server) handleVerifyAudit(w http.ResponseWriter, r *http.Request) {
	ok, badID, err := s.audit.Verify(r.Context())
	if err != nil {
		s.writeServiceError(w, "verify_audit", err)
		return
	}
	writeJSON(w, http.StatusOK, verifyAuditResponse{OK: ok, FirstBadID: badID})
}

// ── Telemetry webhook ────────────────────────────────────────────────────────

// handleTelemetry accepts a signed raw payload. The HMAC is computed over
// the body exactly as transmitted, so the body is read before any parsing.
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	deviceID := r.Header.Get(deviceHeader)
	signature := r.Header.Get(signatureHeader)
	if deviceID == "" || signature == "" {
		writeError(w, http.StatusBadRequest, "missing_headers",
			deviceHeader+" and "+signatureHeader+" are required")
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_body", "could not read request body")
		return
	}

	if err := s.ingest.Ingest(r.Context(), deviceID, raw, signature); err != nil {
		s.writeServiceError(w, "telemetry", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func (s *Server) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrCodeNotFound):
		writeError(w, http.StatusNotFound, "code_not_found", err.Error())
	case errors.Is(err, service.ErrCodeExpired):
		writeError(w, http.StatusGone, "code_expired", err.Error())
	case errors.Is(err, service.ErrCodeAlreadyUsed):
		writeError(w, http.StatusConflict, "code_already_used", err.Error())
	case errors.Is(err, service.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, service.ErrDeviceUnknown):
		writeError(w, http.StatusNotFound, "device_unknown", err.Error())
	case errors.Is(err, service.ErrDeviceBusy):
		writeError(w, http.StatusConflict, "device_busy", err.Error())
	case errors.Is(err, service.ErrTicketNotFound):
		writeError(w, http.StatusNotFound, "ticket_not_found", err.Error())
	case errors.Is(err, service.ErrInvalidCommand):
		writeError(w, http.StatusBadRequest, "invalid_command", err.Error())
	case errors.Is(err, service.ErrBadSignature):
		writeError(w, http.StatusUnauthorized, "bad_signature", err.Error())
	case errors.Is(err, service.ErrMalformedPayload):
		writeError(w, http.StatusBadRequest, "malformed_payload", err.Error())
	case errors.Is(err, service.ErrChainCorrupt):
		writeError(w, http.StatusServiceUnavailable, "audit_halted", err.Error())
	default:
		s.logger.Printf("%s error: %v", op, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}
