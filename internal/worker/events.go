package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lojinha/sms-dispatcher/internal/kafka"
	"github.com/lojinha/sms-dispatcher/internal/logger"
	"github.com/lojinha/sms-dispatcher/internal/metrics"
	"github.com/lojinha/sms-dispatcher/internal/model"
	"github.com/lojinha/sms-dispatcher/internal/queue"
	"github.com/lojinha/sms-dispatcher/internal/store"
	"github.com/lojinha/sms-dispatcher/internal/util"
)

// StorefrontEvent is the payload the store-front backend publishes for
// business events that should trigger an SMS.
type StorefrontEvent struct {
	Event      string `json:"event"` // order_placed | payment_confirmed | campaign_blast
	AccountID  int64  `json:"account_id"`
	Phone      string `json:"phone"`
	Message    string `json:"message"`
	CampaignID string `json:"campaign_id,omitempty"`
}

func (e StorefrontEvent) eventType() (model.EventType, bool) {
	switch e.Event {
	case "order_placed", "payment_confirmed":
		return model.EventWebhook, true
	case "campaign_blast":
		return model.EventCampaign, true
	default:
		return "", false
	}
}

// Events consumes store-front business events from Kafka, charges the
// account one credit and enqueues the send request. Commits happen after
// the enqueue, so event handling is at-least-once.
type Events struct {
	Consumer *kafka.Consumer
	Store    *store.Store
	Queue    *queue.Queue
}

func NewEvents(consumer *kafka.Consumer, s *store.Store, q *queue.Queue) *Events {
	return &Events{Consumer: consumer, Store: s, Queue: q}
}

// Run blocks until ctx is cancelled.
func (w *Events) Run(ctx context.Context) error {
	for {
		m, err := w.Consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Log.Warn("kafka fetch failed", zap.Error(err))
			time.Sleep(200 * time.Millisecond)
			continue
		}

		if err := w.HandleEvent(ctx, m.Value); err != nil {
			// transient: leave uncommitted, the event will be refetched
			logger.Log.Error("handle event", zap.Error(err))
			continue
		}

		if err := w.Consumer.Commit(ctx, m); err != nil {
			logger.Log.Warn("kafka commit failed", zap.Error(err))
		}
	}
}

// HandleEvent processes one event payload. A nil return means the event is
// done (dispatched or deliberately skipped) and may be committed; an error
// means transient trouble and the event must be redelivered.
func (w *Events) HandleEvent(ctx context.Context, value []byte) error {
	var ev StorefrontEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		// poison message: skip, never redeliver
		logger.Log.Warn("bad event payload", zap.Error(err))
		return nil
	}

	evType, ok := ev.eventType()
	if !ok {
		logger.Log.Warn("unknown event kind", zap.String("event", ev.Event))
		return nil
	}
	if ev.Phone == "" || ev.Message == "" || ev.AccountID <= 0 {
		logger.Log.Warn("incomplete event", zap.String("event", ev.Event), zap.Int64("account_id", ev.AccountID))
		return nil
	}

	if err := w.Store.AdjustCredits(ctx, ev.AccountID, -1); err != nil {
		if errors.Is(err, store.ErrInsufficientCredits) || errors.Is(err, store.ErrAccountNotFound) {
			metrics.DeliveriesTotal.WithLabelValues("skipped", evType.String()).Inc()
			logger.Log.Warn("event skipped",
				zap.Int64("account_id", ev.AccountID),
				zap.Error(err))
			return nil
		}
		return err
	}

	t := queue.Task{
		ID:        util.NewRef(),
		Attempt:   1,
		AccountID: ev.AccountID,
		Request: model.SendRequest{
			Phone:      ev.Phone,
			Message:    ev.Message,
			EventType:  evType,
			CampaignID: ev.CampaignID,
		},
	}
	if err := w.Queue.Enqueue(ctx, t); err != nil {
		// undo the charge; the event stays uncommitted and will retry
		if rerr := w.Store.AdjustCredits(ctx, ev.AccountID, 1); rerr != nil {
			logger.Log.Warn("charge rollback failed", zap.Int64("account_id", ev.AccountID), zap.Error(rerr))
		}
		return err
	}

	metrics.DeliveriesTotal.WithLabelValues("queued", evType.String()).Inc()
	return nil
}
