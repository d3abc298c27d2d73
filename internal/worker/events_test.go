package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/lojinha/sms-dispatcher/internal/db"
	"github.com/lojinha/sms-dispatcher/internal/model"
	"github.com/lojinha/sms-dispatcher/internal/queue"
	"github.com/lojinha/sms-dispatcher/internal/store"
	"github.com/lojinha/sms-dispatcher/internal/worker"
)

func newEventsFixture(t *testing.T) (*worker.Events, *store.Store, *queue.Queue) {
	t.Helper()

	dbx, err := db.NewSQLiteConnection(":memory:", db.SQLiteOpts{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbx.Close() })
	s := store.New(dbx)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	q := queue.New(rdb, "smsq-test", time.Minute)

	return worker.NewEvents(nil, s, q), s, q
}

func TestHandleEventEnqueuesAndCharges(t *testing.T) {
	t.Parallel()

	w, s, q := newEventsFixture(t)
	ctx := context.Background()

	acc, err := s.CreateAccount(ctx, "shop", "pw", false)
	require.NoError(t, err)
	require.NoError(t, s.AdjustCredits(ctx, acc.ID, 3))

	payload := []byte(`{"event":"order_placed","account_id":` +
		`1,"phone":"11987654321","message":"order received"}`)
	require.NoError(t, w.HandleEvent(ctx, payload))

	got, err := s.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, got.CreditBalance)

	task, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, model.EventWebhook, task.Request.EventType)
	require.Equal(t, "11987654321", task.Request.Phone)
	require.Equal(t, acc.ID, task.AccountID)
	require.NotEmpty(t, task.ID)
}

func TestHandleEventCampaignBlast(t *testing.T) {
	t.Parallel()

	w, s, q := newEventsFixture(t)
	ctx := context.Background()

	acc, err := s.CreateAccount(ctx, "shop", "pw", false)
	require.NoError(t, err)
	require.NoError(t, s.AdjustCredits(ctx, acc.ID, 1))

	payload := []byte(`{"event":"campaign_blast","account_id":1,` +
		`"phone":"11987654321","message":"sale!","campaign_id":"spring"}`)
	require.NoError(t, w.HandleEvent(ctx, payload))

	task, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, model.EventCampaign, task.Request.EventType)
	require.Equal(t, "spring", task.Request.CampaignID)
}

func TestHandleEventInsufficientCreditsSkips(t *testing.T) {
	t.Parallel()

	w, s, q := newEventsFixture(t)
	ctx := context.Background()

	_, err := s.CreateAccount(ctx, "broke", "pw", false)
	require.NoError(t, err)

	payload := []byte(`{"event":"order_placed","account_id":1,"phone":"11987654321","message":"hi"}`)
	// skipped, but committable: no error
	require.NoError(t, w.HandleEvent(ctx, payload))

	ready, _, _, err := q.Depths(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, ready)
}

func TestHandleEventPoisonAndUnknownSkipped(t *testing.T) {
	t.Parallel()

	w, _, q := newEventsFixture(t)
	ctx := context.Background()

	require.NoError(t, w.HandleEvent(ctx, []byte("NOT JSON")))
	require.NoError(t, w.HandleEvent(ctx, []byte(`{"event":"user_sneezed","account_id":1,"phone":"1","message":"x"}`)))
	require.NoError(t, w.HandleEvent(ctx, []byte(`{"event":"order_placed","account_id":0,"phone":"1","message":"x"}`)))

	ready, _, _, err := q.Depths(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, ready)
}
