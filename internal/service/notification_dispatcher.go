package service

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pesio-ai/be-ar-carf/internal/client"
	"github.com/pesio-ai/be-ar-carf/internal/platform/logger"
	"github.com/pesio-ai/be-ar-carf/internal/platform/metrics"
	"github.com/pesio-ai/be-ar-carf/internal/repository"
	"github.com/pesio-ai/be-ar-carf/internal/workflow"
)

// Notification event types.
const (
	EventApprovalRequired  = "approval_required"
	EventApproved          = "approved"
	EventCancelled         = "cancelled"
	EventReturned          = "returned"
	EventReturnedToMaker   = "returned_to_maker"
	EventCustomerActivated = "customer_activated"
)

// DispatchResult reports the outcome of one fan-out.
type DispatchResult struct {
	Recipients []string `json:"recipients"`
	Delivered  int      `json:"delivered"`
	Failed     []string `json:"failed,omitempty"`
}

// OK reports whether every recipient received the message.
func (r DispatchResult) OK() bool { return len(r.Failed) == 0 }

// NotificationDispatcher fans messages out to recipients. A failed
// delivery is logged and counted, never returned as an error.
type NotificationDispatcher struct {
	messenger   client.MessengerInterface
	executives  ExecutiveStore
	concurrency int
	metrics     *metrics.Collectors
	log         *logger.Logger
}

// NewNotificationDispatcher creates a new NotificationDispatcher.
func NewNotificationDispatcher(
	messenger client.MessengerInterface,
	executives ExecutiveStore,
	concurrency int,
	m *metrics.Collectors,
	log *logger.Logger,
) *NotificationDispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &NotificationDispatcher{
		messenger:   messenger,
		executives:  executives,
		concurrency: concurrency,
		metrics:     m,
		log:         log,
	}
}

// Notify sends the message that follows a transition: whoever must act
// next while the request is pending, otherwise the maker.
func (d *NotificationDispatcher) Notify(ctx context.Context, req *repository.CustomerRequest, tr workflow.Transition, actorID string) DispatchResult {
	n := &client.Notification{
		EventType:        eventFor(tr),
		RowRef:           req.ID,
		RequestType:      req.RequestType,
		Company:          req.Company,
		Status:           string(tr.Status),
		ActorID:          actorID,
		ForFinalApproval: tr.ForFinalApproval,
		ReturnFlag:       tr.ReturnFlag,
		Remarks:          tr.Remarks,
		Payload: map[string]interface{}{
			"customer_name": req.Customer.CustomerName,
			"maker":         req.Maker,
		},
	}
	return d.send(ctx, tr.ApprovalValueToSend, n)
}

// NotifyExecutives runs the executive fan-out for a request that reached
// the downstream system. No matching executive is a no-op.
func (d *NotificationDispatcher) NotifyExecutives(ctx context.Context, req *repository.CustomerRequest, downstreamRef string) DispatchResult {
	execs, err := d.executives.ListActive(ctx)
	if err != nil {
		d.log.Warn().Err(err).Int64("row_ref", req.ID).Msg("executive fan-out: failed to list executives (non-fatal)")
		return DispatchResult{}
	}

	recipients := MatchExecutives(execs, req.RequestType, req.Company)
	if recipients.IsEmpty() {
		d.log.Info().
			Int64("row_ref", req.ID).
			Str("request_type", req.RequestType).
			Str("company", req.Company).
			Msg("executive fan-out: no matching executives")
		return DispatchResult{}
	}

	n := &client.Notification{
		EventType:   EventCustomerActivated,
		RowRef:      req.ID,
		RequestType: req.RequestType,
		Company:     req.Company,
		Status:      string(req.Status),
		ActorID:     req.Maker,
		Payload: map[string]interface{}{
			"customer_name":  req.Customer.CustomerName,
			"downstream_ref": downstreamRef,
		},
	}
	return d.send(ctx, recipients, n)
}

func (d *NotificationDispatcher) send(ctx context.Context, recipients workflow.ApproverSet, n *client.Notification) DispatchResult {
	result := DispatchResult{Recipients: []string(recipients)}
	if recipients.IsEmpty() {
		return result
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(d.concurrency)
	for _, recipient := range recipients {
		recipient := recipient
		g.Go(func() error {
			err := d.messenger.Send(ctx, recipient, n)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, recipient)
				d.metrics.Notifications.WithLabelValues(n.EventType, "failed").Inc()
				d.log.Warn().Err(err).
					Str("recipient", recipient).
					Str("event_type", n.EventType).
					Int64("row_ref", n.RowRef).
					Msg("notification delivery failed (non-fatal)")
				return nil
			}
			result.Delivered++
			d.metrics.Notifications.WithLabelValues(n.EventType, "delivered").Inc()
			return nil
		})
	}
	_ = g.Wait()
	return result
}

func eventFor(tr workflow.Transition) string {
	switch tr.Action {
	case workflow.ActionApprove:
		if tr.BecameFinal {
			return EventApproved
		}
		return EventApprovalRequired
	case workflow.ActionSubmit:
		return EventApprovalRequired
	case workflow.ActionCancel:
		return EventCancelled
	case workflow.ActionReturnToMaker:
		return EventReturnedToMaker
	case workflow.ActionReturn:
		return EventReturned
	default:
		return string(tr.Action)
	}
}
