package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/lojinha/sms-dispatcher/internal/model"
)

// AppendDelivery writes one immutable attempt record. Appends take the log
// lock, not the accounts lock, so they never starve account mutations.
func (s *Store) AppendDelivery(ctx context.Context, e model.DeliveryLogEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	return s.withLogTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO delivery_log
			    (reference, ts, phone, message, status, provider_response, event_type, campaign_id)
			VALUES
			    (?, ?, ?, ?, ?, ?, ?, ?)
		`, e.Reference, e.Timestamp, e.Phone, e.Message, e.Status.String(),
			e.ProviderResponse, e.EventType.String(), e.CampaignID)
		if err != nil {
			return unavailable("append delivery", err)
		}
		return nil
	})
}

const deliveryColumns = `id, reference, ts, phone, message, status, provider_response, event_type, campaign_id`

// ListDeliveries returns entries newest first.
func (s *Store) ListDeliveries(ctx context.Context, limit, offset int) ([]model.DeliveryLogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []model.DeliveryLogEntry
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+deliveryColumns+` FROM delivery_log ORDER BY id DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, unavailable("list deliveries", err)
	}
	return out, nil
}

// LatestByReference reports the most recent attempt for a reference: the
// terminal outcome once the request left the queue.
func (s *Store) LatestByReference(ctx context.Context, ref string) (model.DeliveryLogEntry, error) {
	var e model.DeliveryLogEntry
	err := s.db.GetContext(ctx, &e,
		`SELECT `+deliveryColumns+` FROM delivery_log WHERE reference = ? ORDER BY id DESC LIMIT 1`, ref)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DeliveryLogEntry{}, ErrDeliveryNotFound
	}
	if err != nil {
		return model.DeliveryLogEntry{}, unavailable("latest by reference", err)
	}
	return e, nil
}

// ListDeliveriesByPhone returns the attempt history for one number, newest
// first.
func (s *Store) ListDeliveriesByPhone(ctx context.Context, phone string, limit int) ([]model.DeliveryLogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []model.DeliveryLogEntry
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+deliveryColumns+` FROM delivery_log WHERE phone = ? ORDER BY id DESC LIMIT ?`,
		phone, limit)
	if err != nil {
		return nil, unavailable("list deliveries by phone", err)
	}
	return out, nil
}
