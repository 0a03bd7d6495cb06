package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pesio-ai/be-ar-carf/internal/client"
	"github.com/pesio-ai/be-ar-carf/internal/platform/errors"
	"github.com/pesio-ai/be-ar-carf/internal/platform/logger"
	"github.com/pesio-ai/be-ar-carf/internal/platform/metrics"
	"github.com/pesio-ai/be-ar-carf/internal/repository"
	"github.com/pesio-ai/be-ar-carf/internal/workflow"
)

// ── persistence fakes ─────────────────────────────────────────────────────────

type fakeRequests struct {
	mu      sync.Mutex
	rows    map[int64]*repository.CustomerRequest
	nextID  int64
	patches int
}

func newFakeRequests() *fakeRequests {
	return &fakeRequests{rows: map[int64]*repository.CustomerRequest{}, nextID: 1}
}

func (f *fakeRequests) Create(_ context.Context, req *repository.CustomerRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	req.ID = f.nextID
	f.nextID++
	req.Version = 1
	req.CreatedAt = time.Now().UTC()
	req.UpdatedAt = req.CreatedAt
	cp := *req
	f.rows[req.ID] = &cp
	return nil
}

func (f *fakeRequests) GetByID(_ context.Context, id int64) (*repository.CustomerRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, errors.NotFound("customer_request", fmt.Sprint(id))
	}
	cp := *row
	return &cp, nil
}

func (f *fakeRequests) ApplyPatch(_ context.Context, id, expectedVersion int64, p repository.RequestPatch) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return 0, errors.NotFound("customer_request", fmt.Sprint(id))
	}
	if row.Version != expectedVersion {
		return 0, errors.New(errors.ErrCodeStaleState, "stale state, retry")
	}
	row.Status = p.Status
	row.NextApprover = p.NextApprover
	row.FinalApprover = p.FinalApprover
	if p.StampedTier != workflow.TierNone {
		row.Tiers[p.StampedTier-1] = p.Stamp
	}
	if p.Remarks != nil {
		row.Remarks = *p.Remarks
	}
	row.Version++
	f.patches++
	return row.Version, nil
}

func (f *fakeRequests) get(id int64) repository.CustomerRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.rows[id]
}

type fakeMatrix struct {
	entries map[string]*workflow.MatrixEntry
}

func (f *fakeMatrix) Lookup(_ context.Context, requestType, company string) (*workflow.MatrixEntry, error) {
	e, ok := f.entries[requestType+"/"+company]
	if !ok {
		return nil, errors.NotFound("approval_matrix", requestType+"/"+company)
	}
	cp := *e
	return &cp, nil
}

func (f *fakeMatrix) List(_ context.Context, requestType string) ([]*workflow.MatrixEntry, error) {
	var out []*workflow.MatrixEntry
	for _, e := range f.entries {
		if requestType == "" || e.RequestType == requestType {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []*repository.AuditEntry
	failing bool
}

func (f *fakeAudit) Append(_ context.Context, e *repository.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return fmt.Errorf("audit store down")
	}
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeAudit) GetByRequestID(_ context.Context, id int64) ([]*repository.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.AuditEntry
	for _, e := range f.entries {
		if e.RequestID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeAudit) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}

type fakeInbox struct {
	requests *fakeRequests
}

func (f *fakeInbox) GetPendingForApprover(_ context.Context, identity string, _ int) ([]*repository.CustomerRequest, error) {
	f.requests.mu.Lock()
	defer f.requests.mu.Unlock()
	var out []*repository.CustomerRequest
	for _, r := range f.requests.rows {
		if r.Status == workflow.StatusPending && (r.NextApprover.Contains(identity) || r.FinalApprover.Contains(identity)) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeInbox) GetByMaker(_ context.Context, maker string, _ int) ([]*repository.CustomerRequest, error) {
	f.requests.mu.Lock()
	defer f.requests.mu.Unlock()
	var out []*repository.CustomerRequest
	for _, r := range f.requests.rows {
		if strings.EqualFold(r.Maker, maker) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeExecutives struct {
	execs []*repository.ExecutiveObserver
}

func (f *fakeExecutives) ListActive(context.Context) ([]*repository.ExecutiveObserver, error) {
	return f.execs, nil
}

type fakeCodes struct {
	codes map[string]*repository.ClassificationCodes
}

func (f *fakeCodes) GetByRequestType(_ context.Context, rt string) (*repository.ClassificationCodes, error) {
	c, ok := f.codes[rt]
	if !ok {
		return nil, errors.NotFound("classification_codes", rt)
	}
	return c, nil
}

type fakeLedger struct {
	mu   sync.Mutex
	subs []*repository.Submission
}

func (f *fakeLedger) Begin(_ context.Context, sub *repository.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if s.RequestID == sub.RequestID && s.Status != repository.SubmissionFailed {
			return errors.New(errors.ErrCodeConflict, "a downstream submission is already in progress or done")
		}
	}
	sub.ID = uuid.New().String()
	sub.Status = repository.SubmissionPending
	sub.IdempotencyKey = repository.IdempotencyKey(sub.RequestID)
	sub.AttemptedAt = time.Now().UTC()
	f.subs = append(f.subs, sub)
	return nil
}

func (f *fakeLedger) Complete(_ context.Context, id string, ok bool, ref, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if s.ID == id {
			s.Status = repository.SubmissionFailed
			if ok {
				s.Status = repository.SubmissionSucceeded
				s.DownstreamRef = &ref
			} else {
				s.ErrorMessage = &msg
			}
			return nil
		}
	}
	return errors.NotFound("downstream_submission", id)
}

func (f *fakeLedger) HasSucceeded(_ context.Context, requestID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if s.RequestID == requestID && s.Status == repository.SubmissionSucceeded {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeLedger) ListByRequestID(_ context.Context, requestID int64) ([]*repository.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Submission
	for _, s := range f.subs {
		if s.RequestID == requestID {
			out = append(out, s)
		}
	}
	return out, nil
}

// ── client fakes ──────────────────────────────────────────────────────────────

type sentMessage struct {
	Recipient    string
	Notification client.Notification
}

type fakeMessenger struct {
	mu      sync.Mutex
	sent    []sentMessage
	failFor map[string]bool
}

func (f *fakeMessenger) Send(_ context.Context, recipient string, n *client.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[recipient] {
		return fmt.Errorf("mailbox %s unreachable", recipient)
	}
	f.sent = append(f.sent, sentMessage{Recipient: recipient, Notification: *n})
	return nil
}

// recipients returns the sorted recipients of every message with eventType.
func (f *fakeMessenger) recipients(eventType string) workflow.ApproverSet {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		if m.Notification.EventType == eventType {
			out = append(out, m.Recipient)
		}
	}
	set := workflow.NewApproverSet(out...)
	sort.Strings(set)
	return set
}

func (f *fakeMessenger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeMessenger) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

type fakeMasterData struct {
	mu      sync.Mutex
	records []*client.MasterDataRecord
	keys    []string
	err     error
}

func (f *fakeMasterData) SubmitRecord(_ context.Context, rec *client.MasterDataRecord, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.records = append(f.records, rec)
	f.keys = append(f.keys, key)
	return fmt.Sprintf("CUST-%05d", rec.RowRef), nil
}

func (f *fakeMasterData) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// ── harness ───────────────────────────────────────────────────────────────────

type harness struct {
	requests   *fakeRequests
	matrix     *fakeMatrix
	audit      *fakeAudit
	ledger     *fakeLedger
	executives *fakeExecutives
	codes      *fakeCodes
	messenger  *fakeMessenger
	masterData *fakeMasterData
	approvals  *ApprovalService
	reqs       *RequestService
}

func newHarness() *harness {
	h := &harness{
		requests: newFakeRequests(),
		matrix: &fakeMatrix{entries: map[string]*workflow.MatrixEntry{
			"REGULAR/ACME": {
				ID:          1,
				RequestType: "REGULAR",
				Company:     "ACME",
				Tier1:       workflow.NewApproverSet("A"),
				Tier2:       workflow.NewApproverSet("B"),
				Tier3:       workflow.NewApproverSet("C"),
			},
		}},
		audit:  &fakeAudit{},
		ledger: &fakeLedger{},
		executives: &fakeExecutives{execs: []*repository.ExecutiveObserver{
			{ID: 1, Identity: "ceo", Company: "ACME", IsActive: true},
			{ID: 2, Identity: "group-cfo", Company: workflow.AllCompanies, HomeCompany: "ACME", IsActive: true},
			{ID: 3, Identity: "other-ceo", Company: "GLOBEX", IsActive: true},
		}},
		codes: &fakeCodes{codes: map[string]*repository.ClassificationCodes{
			"REGULAR": {RequestType: "REGULAR", AccountGroup: "Z001", CustomerClass: "01", ReconciliationAccount: "140000"},
		}},
		messenger:  &fakeMessenger{failFor: map[string]bool{}},
		masterData: &fakeMasterData{},
	}

	log := logger.Nop()
	m := metrics.NewCollectors(prometheus.NewRegistry())
	dispatcher := NewNotificationDispatcher(h.messenger, h.executives, 4, m, log)
	gateway := NewSubmissionGateway(h.codes, h.ledger, h.masterData, m, log)
	h.approvals = NewApprovalService(h.requests, h.matrix, h.audit, h.ledger, dispatcher, gateway, m, log)
	h.reqs = NewRequestService(h.requests, h.matrix, h.audit, &fakeInbox{requests: h.requests}, h.ledger, dispatcher, log)
	return h
}

func validInput() *CreateRequestInput {
	return &CreateRequestInput{
		RequestType:            "REGULAR",
		Company:                "ACME",
		HasRequiredAttachments: true,
		CustomerName:           "Northwind Trading",
		TIN:                    "123-456-789",
		BillingAddress:         "1 Harbor Road",
		Country:                "PH",
		Email:                  "ap@northwind.example",
		CreditLimit:            "250000.50",
		CreditTerm:             "NET30",
	}
}

// seed creates a PENDING request by maker M through the request service.
func (h *harness) seed() int64 {
	res, err := h.reqs.CreateRequest(context.Background(), workflow.Actor{Identity: "M", DisplayName: "Maker"}, validInput())
	if err != nil {
		panic(err)
	}
	h.messenger.reset()
	return res.Request.ID
}

func designated(id string) workflow.Actor {
	return workflow.Actor{Identity: id, DisplayName: "User " + id, Company: "ACME", IsDesignatedApprover: true}
}
