// Package worker runs the dispatch side of the pipeline: it drains the
// task queue, talks to the SMS gateway and records every attempt in the
// delivery log.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lojinha/sms-dispatcher/internal/gateway"
	"github.com/lojinha/sms-dispatcher/internal/logger"
	"github.com/lojinha/sms-dispatcher/internal/metrics"
	"github.com/lojinha/sms-dispatcher/internal/model"
	"github.com/lojinha/sms-dispatcher/internal/phone"
	"github.com/lojinha/sms-dispatcher/internal/queue"
	"github.com/lojinha/sms-dispatcher/internal/store"
)

// GatewaySender is the outbound call the dispatcher makes per attempt.
type GatewaySender interface {
	Send(ctx context.Context, number, msg, ref string) (gateway.Result, error)
}

// Dispatcher consumes send requests and drives each one to a terminal
// outcome: success, validation failure, or retry-cap exhaustion. Every
// attempt writes one delivery log row before the task is acknowledged, so
// no attempt is ever unlogged.
type Dispatcher struct {
	Queue   *queue.Queue
	Store   *store.Store
	Gateway GatewaySender

	Workers      int
	MaxRetries   int           // retries after the first attempt
	RetryBackoff time.Duration // base delay, doubled per attempt
	PollInterval time.Duration
}

func NewDispatcher(q *queue.Queue, s *store.Store, gw GatewaySender) *Dispatcher {
	return &Dispatcher{
		Queue:        q,
		Store:        s,
		Gateway:      gw,
		Workers:      8,
		MaxRetries:   3,
		RetryBackoff: 5 * time.Second,
		PollInterval: 200 * time.Millisecond,
	}
}

// Run blocks until ctx is cancelled. A fetch loop feeds N processor
// goroutines; each task is processed to completion before its ack, so a
// crash mid-flight leaves the task leased and it is redelivered.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.Workers <= 0 {
		d.Workers = 8
	}
	if d.PollInterval <= 0 {
		d.PollInterval = 200 * time.Millisecond
	}

	taskCh := make(chan queue.Task)

	go func() {
		defer close(taskCh)
		for {
			if ctx.Err() != nil {
				return
			}
			t, err := d.Queue.Dequeue(ctx)
			if errors.Is(err, queue.ErrEmpty) {
				select {
				case <-ctx.Done():
					return
				case <-time.After(d.PollInterval):
				}
				continue
			}
			if err != nil {
				logger.Log.Warn("dequeue failed", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(d.PollInterval):
				}
				continue
			}
			select {
			case <-ctx.Done():
				return
			case taskCh <- t:
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < d.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range taskCh {
				if err := d.Process(ctx, t); err != nil {
					logger.Log.Error("process task",
						zap.String("ref", t.ID),
						zap.Int("attempt", t.Attempt),
						zap.Error(err))
				}
			}
		}()
	}

	wg.Wait()
	return ctx.Err()
}

// Process drives one dequeued task through normalize -> gateway call ->
// log -> ack/retry. Returning an error without acking leaves the task
// leased; redelivery retries the whole attempt.
func (d *Dispatcher) Process(ctx context.Context, t queue.Task) error {
	if t.Attempt < 1 {
		t.Attempt = 1
	}
	req := t.Request

	canonical, err := phone.Normalize(req.Phone)
	if err != nil {
		// malformed input cannot be fixed by retrying
		entry := d.entryFor(t, req.Phone, model.DeliveryFailed, "invalid phone number: "+req.Phone)
		if err := d.Store.AppendDelivery(ctx, entry); err != nil {
			return err
		}
		metrics.DeliveriesTotal.WithLabelValues("invalid_phone", req.EventType.String()).Inc()
		d.refund(ctx, t)
		return d.Queue.Ack(ctx, t)
	}

	res, sendErr := d.Gateway.Send(ctx, canonical, req.Message, t.ID)

	if sendErr == nil && res.Success {
		entry := d.entryFor(t, canonical, model.DeliverySuccess, res.ProviderMessage)
		if err := d.Store.AppendDelivery(ctx, entry); err != nil {
			return err
		}
		metrics.DeliveriesTotal.WithLabelValues("sent", req.EventType.String()).Inc()
		return d.Queue.Ack(ctx, t)
	}

	// transport errors and provider business failures retry identically,
	// with distinct provider_response payloads
	response := res.ProviderMessage
	if sendErr != nil {
		response = sendErr.Error()
	}
	entry := d.entryFor(t, canonical, model.DeliveryFailed, response)
	if err := d.Store.AppendDelivery(ctx, entry); err != nil {
		return err
	}

	if t.Attempt <= d.MaxRetries {
		retry := t
		retry.Attempt = t.Attempt + 1
		delay := d.RetryBackoff << (t.Attempt - 1)
		if err := d.Queue.EnqueueDelayed(ctx, retry, delay); err != nil {
			return err
		}
		metrics.DeliveriesTotal.WithLabelValues("retried", req.EventType.String()).Inc()
		return d.Queue.Ack(ctx, t)
	}

	// retry budget exhausted; the last log row already reflects the final
	// failure
	metrics.DeliveriesTotal.WithLabelValues("failed", req.EventType.String()).Inc()
	d.refund(ctx, t)
	return d.Queue.Ack(ctx, t)
}

func (d *Dispatcher) entryFor(t queue.Task, phoneNumber string, status model.DeliveryStatus, response string) model.DeliveryLogEntry {
	return model.DeliveryLogEntry{
		Reference:        t.ID,
		Timestamp:        time.Now().UTC(),
		Phone:            phoneNumber,
		Message:          t.Request.Message,
		Status:           status,
		ProviderResponse: response,
		EventType:        t.Request.EventType,
		CampaignID:       t.Request.CampaignID,
	}
}

// refund returns the credit charged at enqueue time after a terminal
// failure.
func (d *Dispatcher) refund(ctx context.Context, t queue.Task) {
	if t.AccountID <= 0 {
		return
	}
	if err := d.Store.AdjustCredits(ctx, t.AccountID, 1); err != nil {
		logger.Log.Warn("credit refund failed",
			zap.Int64("account_id", t.AccountID),
			zap.String("ref", t.ID),
			zap.Error(err))
	}
}
