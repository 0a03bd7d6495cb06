package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pesio-ai/be-ar-carf/internal/platform/errors"
	"github.com/pesio-ai/be-ar-carf/internal/platform/logger"
	"github.com/pesio-ai/be-ar-carf/internal/platform/metrics"
	"github.com/pesio-ai/be-ar-carf/internal/repository"
	"github.com/pesio-ai/be-ar-carf/internal/workflow"
)

var tracer = otel.Tracer("github.com/pesio-ai/be-ar-carf/internal/service")

// Warning texts surfaced with a partial success.
const (
	WarnSubmitManually = "request approved but downstream submission failed; submit manually"
	WarnNotification   = "request updated but some notifications were not delivered"
)

// ActionResult is the outcome of one workflow action. PartialSuccess means
// the state change is persisted but a later side effect failed.
type ActionResult struct {
	Request            *repository.CustomerRequest
	Transition         workflow.Transition
	Notified           DispatchResult
	Submitted          bool
	DownstreamRef      string
	ExecutivesNotified DispatchResult
	PartialSuccess     bool
	Warnings           []string
}

func (r *ActionResult) warn(msg string) {
	r.PartialSuccess = true
	r.Warnings = append(r.Warnings, msg)
}

// ApprovalService runs the approval pipeline: load, authorize and compute,
// persist, audit, notify, then submit and fan out on final approval.
// Each step starts only after the previous one succeeded.
type ApprovalService struct {
	requests   RequestStore
	matrix     MatrixStore
	audit      AuditStore
	ledger     SubmissionLedger
	dispatcher *NotificationDispatcher
	gateway    *SubmissionGateway
	metrics    *metrics.Collectors
	log        *logger.Logger
	now        func() time.Time
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(
	requests RequestStore,
	matrix MatrixStore,
	audit AuditStore,
	ledger SubmissionLedger,
	dispatcher *NotificationDispatcher,
	gateway *SubmissionGateway,
	m *metrics.Collectors,
	log *logger.Logger,
) *ApprovalService {
	return &ApprovalService{
		requests:   requests,
		matrix:     matrix,
		audit:      audit,
		ledger:     ledger,
		dispatcher: dispatcher,
		gateway:    gateway,
		metrics:    m,
		log:        log,
		now:        time.Now,
	}
}

// computeFunc derives a transition from the loaded state.
type computeFunc func(state workflow.RequestState, matrix workflow.MatrixEntry) (workflow.Transition, error)

// ── Actions ───────────────────────────────────────────────────────────────────

// Approve records actor's approval. expectedVersion 0 uses the version read
// at the start of the action.
func (s *ApprovalService) Approve(ctx context.Context, rowRef int64, actor workflow.Actor, expectedVersion int64) (*ActionResult, error) {
	return s.run(ctx, workflow.ActionApprove, rowRef, actor, expectedVersion,
		func(state workflow.RequestState, matrix workflow.MatrixEntry) (workflow.Transition, error) {
			return workflow.Approve(state, matrix, actor, s.now().UTC())
		})
}

// Cancel closes a pending request as CANCELLED.
func (s *ApprovalService) Cancel(ctx context.Context, rowRef int64, actor workflow.Actor, expectedVersion int64) (*ActionResult, error) {
	return s.run(ctx, workflow.ActionCancel, rowRef, actor, expectedVersion,
		func(state workflow.RequestState, matrix workflow.MatrixEntry) (workflow.Transition, error) {
			return workflow.Cancel(state, matrix, actor)
		})
}

// Return sends a pending request back to its maker with remarks.
func (s *ApprovalService) Return(ctx context.Context, rowRef int64, actor workflow.Actor, remarks string, expectedVersion int64) (*ActionResult, error) {
	return s.run(ctx, workflow.ActionReturn, rowRef, actor, expectedVersion,
		func(state workflow.RequestState, matrix workflow.MatrixEntry) (workflow.Transition, error) {
			return workflow.Return(state, matrix, actor, remarks, false)
		})
}

// ReturnToMaker is Return with the notification marked for final approval.
func (s *ApprovalService) ReturnToMaker(ctx context.Context, rowRef int64, actor workflow.Actor, remarks string, expectedVersion int64) (*ActionResult, error) {
	return s.run(ctx, workflow.ActionReturnToMaker, rowRef, actor, expectedVersion,
		func(state workflow.RequestState, matrix workflow.MatrixEntry) (workflow.Transition, error) {
			return workflow.Return(state, matrix, actor, remarks, true)
		})
}

// ResubmitDownstream is the manual path after a failed submission. It is
// refused unless the request is APPROVED with no successful attempt.
func (s *ApprovalService) ResubmitDownstream(ctx context.Context, rowRef int64, actor workflow.Actor) (*ActionResult, error) {
	ctx, span := tracer.Start(ctx, "carf.resubmit", trace.WithAttributes(attribute.Int64("carf.row_ref", rowRef)))
	defer span.End()

	req, err := s.requests.GetByID(ctx, rowRef)
	if err != nil {
		return nil, s.fail(span, "resubmit", err)
	}
	if req.Status != workflow.StatusApproved {
		return nil, s.fail(span, "resubmit", errors.New(errors.ErrCodeConflict,
			fmt.Sprintf("only APPROVED requests can be resubmitted (status: %s)", req.Status)))
	}
	if !actor.IsDesignatedApprover && !strings.EqualFold(actor.Identity, req.Maker) {
		return nil, s.fail(span, "resubmit", errors.New(errors.ErrCodeForbidden, "not authorized to resubmit this request"))
	}
	done, err := s.ledger.HasSucceeded(ctx, rowRef)
	if err != nil {
		return nil, s.fail(span, "resubmit", err)
	}
	if done {
		return nil, s.fail(span, "resubmit", errors.New(errors.ErrCodeConflict, "request already submitted downstream"))
	}

	result := &ActionResult{Request: req}
	ref, err := s.gateway.Submit(ctx, req, actor.Identity)
	if err != nil {
		return nil, s.fail(span, "resubmit", err)
	}
	result.Submitted = true
	result.DownstreamRef = ref
	s.appendAudit(ctx, &repository.AuditEntry{
		RequestID:   req.ID,
		Action:      "downstream_submitted",
		PerformedBy: actor.Identity,
		Metadata:    map[string]interface{}{"downstream_ref": ref, "manual": true},
	})

	result.ExecutivesNotified = s.dispatcher.NotifyExecutives(ctx, req, ref)
	if !result.ExecutivesNotified.OK() {
		result.warn(WarnNotification)
	}
	s.metrics.Transitions.WithLabelValues("resubmit", "ok").Inc()
	return result, nil
}

// ── Pipeline ──────────────────────────────────────────────────────────────────

func (s *ApprovalService) run(
	ctx context.Context,
	action workflow.Action,
	rowRef int64,
	actor workflow.Actor,
	expectedVersion int64,
	compute computeFunc,
) (*ActionResult, error) {
	ctx, span := tracer.Start(ctx, "carf."+string(action), trace.WithAttributes(
		attribute.Int64("carf.row_ref", rowRef),
		attribute.String("carf.actor", actor.Identity),
	))
	defer span.End()
	label := string(action)

	// 1. Load and resolve configuration. Nothing is written on failure.
	started := time.Now()
	req, err := s.requests.GetByID(ctx, rowRef)
	if err != nil {
		return nil, s.fail(span, label, err)
	}
	if expectedVersion != 0 && expectedVersion != req.Version {
		return nil, s.fail(span, label, errors.New(errors.ErrCodeStaleState,
			fmt.Sprintf("stale state, retry: request is at version %d, not %d", req.Version, expectedVersion)))
	}
	matrix, err := s.matrix.Lookup(ctx, req.RequestType, req.Company)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeNotFound) {
			err = errors.Wrap(err, errors.ErrCodeConfiguration,
				fmt.Sprintf("no approval matrix for request type %q and company %q", req.RequestType, req.Company))
		}
		return nil, s.fail(span, label, err)
	}
	s.observe("load", started)

	// 2. Authorize and compute.
	tr, err := compute(req.RequestState, *matrix)
	if err != nil {
		return nil, s.fail(span, label, engineError(err))
	}

	// 3. Persist. Side effects run only after this succeeds.
	started = time.Now()
	version, err := s.requests.ApplyPatch(ctx, req.ID, req.Version, repository.PatchFromTransition(tr))
	if err != nil {
		return nil, s.fail(span, label, err)
	}
	s.observe("persist", started)
	req.RequestState = tr.Apply(req.RequestState)
	req.Version = version
	span.SetAttributes(attribute.String("carf.status", string(req.Status)))

	s.log.Info().
		Int64("row_ref", req.ID).
		Str("action", label).
		Str("actor", actor.Identity).
		Str("status_before", string(tr.StatusBefore)).
		Str("status_after", string(tr.Status)).
		Str("stamped_tier", tr.StampedTier.String()).
		Bool("became_final", tr.BecameFinal).
		Msg("Workflow transition persisted")

	result := &ActionResult{Request: req, Transition: tr}

	// 4. Audit, never fatal.
	s.appendAudit(ctx, auditEntryFor(req.ID, actor.Identity, tr))

	// 5. Notify.
	started = time.Now()
	result.Notified = s.dispatcher.Notify(ctx, req, tr, actor.Identity)
	s.observe("notify", started)
	if !result.Notified.OK() {
		result.warn(WarnNotification)
	}

	// 6. Submit downstream, only on the transition that produced APPROVED.
	if tr.BecameFinal {
		started = time.Now()
		ref, err := s.gateway.Submit(ctx, req, actor.Identity)
		s.observe("submit", started)
		if err != nil {
			s.log.Error().Err(err).
				Int64("row_ref", req.ID).
				Msg("Downstream submission failed; request stays APPROVED")
			span.RecordError(err)
			result.warn(WarnSubmitManually)
			s.metrics.Transitions.WithLabelValues(label, "partial").Inc()
			return result, nil
		}
		result.Submitted = true
		result.DownstreamRef = ref

		// 7. Executive fan-out after a successful submission.
		started = time.Now()
		result.ExecutivesNotified = s.dispatcher.NotifyExecutives(ctx, req, ref)
		s.observe("fanout", started)
		if !result.ExecutivesNotified.OK() {
			result.warn(WarnNotification)
		}
	}

	outcome := "ok"
	if result.PartialSuccess {
		outcome = "partial"
	}
	s.metrics.Transitions.WithLabelValues(label, outcome).Inc()
	return result, nil
}

func (s *ApprovalService) fail(span trace.Span, action string, err error) error {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
	s.metrics.Transitions.WithLabelValues(action, string(errors.CodeOf(err))).Inc()
	return err
}

func (s *ApprovalService) observe(step string, started time.Time) {
	s.metrics.StepLatency.WithLabelValues(step).Observe(time.Since(started).Seconds())
}

// appendAudit writes an audit entry and logs a warning on failure (never returns error).
func (s *ApprovalService) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Int64("row_ref", entry.RequestID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}

func auditEntryFor(rowRef int64, actorID string, tr workflow.Transition) *repository.AuditEntry {
	before, after := string(tr.StatusBefore), string(tr.Status)
	entry := &repository.AuditEntry{
		RequestID:    rowRef,
		Action:       string(tr.Action),
		PerformedBy:  actorID,
		StatusBefore: &before,
		StatusAfter:  &after,
		Metadata: map[string]interface{}{
			"next_approver":  tr.NextApprover.String(),
			"final_approver": tr.FinalApprover.String(),
			"became_final":   tr.BecameFinal,
		},
	}
	if tr.StampedTier != workflow.TierNone {
		tier := int(tr.StampedTier)
		entry.StampedTier = &tier
	}
	if tr.Remarks != "" {
		entry.Metadata["remarks"] = tr.Remarks
	}
	return entry
}

// engineError maps state machine sentinels to coded errors.
func engineError(err error) error {
	switch {
	case stderrors.Is(err, workflow.ErrNotAuthorized):
		return errors.Wrap(err, errors.ErrCodeForbidden, "not authorized")
	case stderrors.Is(err, workflow.ErrRequestClosed):
		return errors.Wrap(err, errors.ErrCodeConflict, "request is no longer pending")
	case stderrors.Is(err, workflow.ErrAlreadySigned):
		return errors.Wrap(err, errors.ErrCodeConflict, "approver already signed this request")
	case stderrors.Is(err, workflow.ErrRemarksRequired):
		return &errors.AppError{Code: errors.ErrCodeInvalidInput, Field: "remarks", Message: "remarks are required", Err: err}
	default:
		return errors.Wrap(err, errors.ErrCodeInternal, "workflow transition failed")
	}
}
