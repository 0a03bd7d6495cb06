package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NotificationPublisher publishes CARF workflow notifications to NATS for
// consumption by the notifications service.
//
// Subject convention: <prefix>.<event_type>
// Event types: approval_required, approved, returned, returned_to_maker,
//
//	cancelled, customer_activated
type NotificationPublisher struct {
	nc     *nats.Conn
	prefix string
	log    zerolog.Logger
}

// Notification is the payload handed to the messaging transport.
type Notification struct {
	EventType        string                 `json:"event_type"`
	RowRef           int64                  `json:"row_ref"`
	RequestType      string                 `json:"request_type"`
	Company          string                 `json:"company"`
	Status           string                 `json:"status"`
	ActorID          string                 `json:"actor_id"`
	ForFinalApproval bool                   `json:"for_final_approval"`
	ReturnFlag       bool                   `json:"return_flag"`
	Remarks          string                 `json:"remarks,omitempty"`
	Payload          map[string]interface{} `json:"payload,omitempty"`
}

// envelope is the JSON schema published to NATS.
type envelope struct {
	EventID    string        `json:"event_id"`
	Recipient  string        `json:"recipient"`
	OccurredAt time.Time     `json:"occurred_at"`
	Category   string        `json:"category"`
	Data       *Notification `json:"data"`
}

// NewNotificationPublisher creates a publisher on an open NATS connection.
// A nil connection turns every Send into a logged no-op.
func NewNotificationPublisher(nc *nats.Conn, prefix string, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{nc: nc, prefix: prefix, log: log}
}

// Send publishes one notification addressed to recipient.
func (p *NotificationPublisher) Send(ctx context.Context, recipient string, n *Notification) error {
	if p.nc == nil {
		p.log.Debug().Str("recipient", recipient).Str("event_type", n.EventType).
			Msg("notification: NATS disabled, dropping")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	env := &envelope{
		EventID:    uuid.New().String(),
		Recipient:  recipient,
		OccurredAt: time.Now().UTC(),
		Category:   "carf_approval",
		Data:       n,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	msg := nats.NewMsg(fmt.Sprintf("%s.%s", p.prefix, n.EventType))
	msg.Header.Set(nats.MsgIdHdr, env.EventID)
	msg.Data = data
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	p.log.Debug().
		Str("subject", msg.Subject).
		Int64("row_ref", n.RowRef).
		Str("recipient", recipient).
		Msg("notification: event published")
	return nil
}
