package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/pesio-ai/be-ar-carf/internal/client"
	"github.com/pesio-ai/be-ar-carf/internal/platform/errors"
	"github.com/pesio-ai/be-ar-carf/internal/platform/logger"
	"github.com/pesio-ai/be-ar-carf/internal/repository"
	"github.com/pesio-ai/be-ar-carf/internal/service"
	"github.com/pesio-ai/be-ar-carf/internal/workflow"
)

// ActorHeader carries the authenticated caller's identity, set by the
// gateway in front of this service.
const ActorHeader = "X-Actor-Id"

// ApprovalActions is the write side consumed by the transports.
type ApprovalActions interface {
	Approve(ctx context.Context, rowRef int64, actor workflow.Actor, expectedVersion int64) (*service.ActionResult, error)
	Cancel(ctx context.Context, rowRef int64, actor workflow.Actor, expectedVersion int64) (*service.ActionResult, error)
	Return(ctx context.Context, rowRef int64, actor workflow.Actor, remarks string, expectedVersion int64) (*service.ActionResult, error)
	ReturnToMaker(ctx context.Context, rowRef int64, actor workflow.Actor, remarks string, expectedVersion int64) (*service.ActionResult, error)
	ResubmitDownstream(ctx context.Context, rowRef int64, actor workflow.Actor) (*service.ActionResult, error)
}

// RequestQueries is the create and read side consumed by the transports.
type RequestQueries interface {
	CreateRequest(ctx context.Context, maker workflow.Actor, in *service.CreateRequestInput) (*service.ActionResult, error)
	GetRequest(ctx context.Context, rowRef int64) (*repository.CustomerRequest, error)
	Timeline(ctx context.Context, rowRef int64) (workflow.Timeline, error)
	Inbox(ctx context.Context, identity string, limit int) ([]*repository.CustomerRequest, error)
	MyRequests(ctx context.Context, maker string, limit int) ([]*repository.CustomerRequest, error)
	History(ctx context.Context, rowRef int64) ([]*repository.AuditEntry, error)
	Submissions(ctx context.Context, rowRef int64) ([]*repository.Submission, error)
	LookupMatrix(ctx context.Context, requestType, company string) (*workflow.MatrixEntry, error)
	ListMatrix(ctx context.Context, requestType string) ([]*workflow.MatrixEntry, error)
}

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	approvals ApprovalActions
	requests  RequestQueries
	directory client.DirectoryClientInterface
	validate  *validator.Validate
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(approvals ApprovalActions, requests RequestQueries, directory client.DirectoryClientInterface, log *logger.Logger) *HTTPHandler {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	return &HTTPHandler{
		approvals: approvals,
		requests:  requests,
		directory: directory,
		validate:  validate,
		log:       log.Component("http"),
	}
}

// Register mounts the API routes on r.
func (h *HTTPHandler) Register(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/requests", h.CreateRequest).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id:[0-9]+}", h.GetRequest).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id:[0-9]+}/timeline", h.GetTimeline).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id:[0-9]+}/history", h.GetHistory).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id:[0-9]+}/submissions", h.GetSubmissions).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id:[0-9]+}/approve", h.Approve).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id:[0-9]+}/cancel", h.Cancel).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id:[0-9]+}/return", h.Return).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id:[0-9]+}/return-to-maker", h.ReturnToMaker).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id:[0-9]+}/resubmit", h.Resubmit).Methods(http.MethodPost)
	api.HandleFunc("/inbox", h.Inbox).Methods(http.MethodGet)
	api.HandleFunc("/my-requests", h.MyRequests).Methods(http.MethodGet)
	api.HandleFunc("/matrix", h.LookupMatrix).Methods(http.MethodGet)
	api.HandleFunc("/matrix/entries", h.ListMatrix).Methods(http.MethodGet)
}

// ── DTOs ──────────────────────────────────────────────────────────────────────

type createRequestDTO struct {
	RequestType            string `json:"request_type"`
	Company                string `json:"company"`
	HasRequiredAttachments bool   `json:"has_required_attachments"`
	CustomerName           string `json:"customer_name"`
	TradeName              string `json:"trade_name"`
	TIN                    string `json:"tin"`
	BillingAddress         string `json:"billing_address"`
	ShippingAddress        string `json:"shipping_address"`
	City                   string `json:"city"`
	PostalCode             string `json:"postal_code"`
	Country                string `json:"country"`
	ContactPerson          string `json:"contact_person"`
	ContactNumber          string `json:"contact_number"`
	Email                  string `json:"email"`
	CreditLimit            string `json:"credit_limit"`
	CreditTerm             string `json:"credit_term"`
	PaymentTerms           string `json:"payment_terms"`
	SalesOrg               string `json:"sales_org"`
	DistributionChannel    string `json:"distribution_channel"`
	Division               string `json:"division"`
	SalesOffice            string `json:"sales_office"`
	SalesGroup             string `json:"sales_group"`
}

type actionDTO struct {
	ExpectedVersion int64  `json:"expected_version" validate:"gte=0"`
	Remarks         string `json:"remarks" validate:"max=2000"`
}

// ── Handlers ──────────────────────────────────────────────────────────────────

// CreateRequest handles maker submissions.
func (h *HTTPHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var dto createRequestDTO
	if err := h.decode(r, &dto); err != nil {
		h.writeError(w, r, err)
		return
	}

	in := service.CreateRequestInput(dto)
	res, err := h.requests.CreateRequest(r.Context(), actor, &in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toActionView(res))
}

// GetRequest returns one request.
func (h *HTTPHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := h.rowRef(w, r)
	if !ok {
		return
	}
	req, err := h.requests.GetRequest(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestView(req))
}

// GetTimeline returns the four-step display timeline.
func (h *HTTPHandler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	id, ok := h.rowRef(w, r)
	if !ok {
		return
	}
	tl, err := h.requests.Timeline(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tl)
}

// GetHistory returns the audit trail.
func (h *HTTPHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.rowRef(w, r)
	if !ok {
		return
	}
	entries, err := h.requests.History(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": toAuditViews(entries)})
}

// GetSubmissions returns the downstream submission attempts.
func (h *HTTPHandler) GetSubmissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.rowRef(w, r)
	if !ok {
		return
	}
	subs, err := h.requests.Submissions(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"submissions": toSubmissionViews(subs)})
}

// Approve records the caller's approval.
func (h *HTTPHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(ctx context.Context, id int64, actor workflow.Actor, dto actionDTO) (*service.ActionResult, error) {
		return h.approvals.Approve(ctx, id, actor, dto.ExpectedVersion)
	})
}

// Cancel cancels a pending request.
func (h *HTTPHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(ctx context.Context, id int64, actor workflow.Actor, dto actionDTO) (*service.ActionResult, error) {
		return h.approvals.Cancel(ctx, id, actor, dto.ExpectedVersion)
	})
}

// Return sends a request back to its maker.
func (h *HTTPHandler) Return(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(ctx context.Context, id int64, actor workflow.Actor, dto actionDTO) (*service.ActionResult, error) {
		return h.approvals.Return(ctx, id, actor, dto.Remarks, dto.ExpectedVersion)
	})
}

// ReturnToMaker sends a request back to its maker for final approval.
func (h *HTTPHandler) ReturnToMaker(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(ctx context.Context, id int64, actor workflow.Actor, dto actionDTO) (*service.ActionResult, error) {
		return h.approvals.ReturnToMaker(ctx, id, actor, dto.Remarks, dto.ExpectedVersion)
	})
}

// Resubmit retries the downstream submission of an approved request.
func (h *HTTPHandler) Resubmit(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(ctx context.Context, id int64, actor workflow.Actor, _ actionDTO) (*service.ActionResult, error) {
		return h.approvals.ResubmitDownstream(ctx, id, actor)
	})
}

// Inbox lists the pending requests waiting on the caller.
func (h *HTTPHandler) Inbox(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	reqs, err := h.requests.Inbox(r.Context(), actor.Identity, limitParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"requests": toRequestViews(reqs)})
}

// MyRequests lists the requests raised by the caller.
func (h *HTTPHandler) MyRequests(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	reqs, err := h.requests.MyRequests(r.Context(), actor.Identity, limitParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"requests": toRequestViews(reqs)})
}

// LookupMatrix returns the approval chain for ?request_type=&company=.
func (h *HTTPHandler) LookupMatrix(w http.ResponseWriter, r *http.Request) {
	requestType := r.URL.Query().Get("request_type")
	company := r.URL.Query().Get("company")
	if requestType == "" || company == "" {
		h.writeError(w, r, errors.InvalidInput("request_type", "request_type and company are required"))
		return
	}
	m, err := h.requests.LookupMatrix(r.Context(), requestType, company)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMatrixView(m))
}

// ListMatrix lists the configured chains, optionally filtered by ?request_type=.
func (h *HTTPHandler) ListMatrix(w http.ResponseWriter, r *http.Request) {
	entries, err := h.requests.ListMatrix(r.Context(), r.URL.Query().Get("request_type"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]matrixView, 0, len(entries))
	for _, m := range entries {
		out = append(out, toMatrixView(m))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": out})
}

// ── helpers ───────────────────────────────────────────────────────────────────

type actionFunc func(ctx context.Context, id int64, actor workflow.Actor, dto actionDTO) (*service.ActionResult, error)

func (h *HTTPHandler) action(w http.ResponseWriter, r *http.Request, fn actionFunc) {
	id, ok := h.rowRef(w, r)
	if !ok {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var dto actionDTO
	if err := h.decode(r, &dto); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := fn(r.Context(), id, actor, dto)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toActionView(res))
}

// actor resolves the caller through the directory. Engine entry points
// never read identity from anywhere else.
func (h *HTTPHandler) actor(w http.ResponseWriter, r *http.Request) (workflow.Actor, bool) {
	identity := strings.TrimSpace(r.Header.Get(ActorHeader))
	if identity == "" {
		h.writeError(w, r, errors.New(errors.ErrCodeUnauthorized, "missing "+ActorHeader+" header"))
		return workflow.Actor{}, false
	}
	actor, err := h.directory.GetActor(r.Context(), identity)
	if err != nil {
		h.writeError(w, r, err)
		return workflow.Actor{}, false
	}
	return actor, true
}

func (h *HTTPHandler) rowRef(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, r, errors.InvalidInput("id", "must be a positive integer"))
		return 0, false
	}
	return id, true
}

// decode reads an optional JSON body into dst and validates it.
func (h *HTTPHandler) decode(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !stderrors.Is(err, io.EOF) {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid request body")
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) && len(verrs) > 0 {
			return errors.InvalidInput(verrs[0].Field(), "failed "+verrs[0].Tag()+" validation")
		}
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid request body")
	}
	return nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	body := errorBody{Code: string(errors.CodeOf(err)), Message: err.Error()}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		body.Message = appErr.Message
		body.Field = appErr.Field
	}

	ev := h.log.Warn()
	if status >= http.StatusInternalServerError {
		ev = h.log.Error()
	}
	ev.Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Msg("Request failed")

	writeJSON(w, status, map[string]interface{}{"error": body})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func limitParam(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return limit
}

func toRequestViews(reqs []*repository.CustomerRequest) []requestView {
	out := make([]requestView, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, toRequestView(req))
	}
	return out
}
