package http

import (
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/lojinha/sms-dispatcher/internal/http/middleware"
	"github.com/lojinha/sms-dispatcher/internal/metrics"
	"github.com/lojinha/sms-dispatcher/internal/model"
	"github.com/lojinha/sms-dispatcher/internal/queue"
	"github.com/lojinha/sms-dispatcher/internal/store"
	"github.com/lojinha/sms-dispatcher/internal/util"
)

const maxMessageRunes = 300

type sendReq struct {
	Phone      string `json:"phone"`
	Message    string `json:"message"`
	EventType  string `json:"event_type"`
	CampaignID string `json:"campaign_id"`
}

// sendSMSHandler charges one credit and enqueues the request. The request
// returns as soon as the task is durably queued; delivery happens in the
// dispatch workers.
func sendSMSHandler(accounts *store.Store, q *queue.Queue) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req sendReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		req.Phone = strings.TrimSpace(req.Phone)
		req.Message = strings.TrimSpace(req.Message)
		if req.Phone == "" || req.Message == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if utf8.RuneCountInString(req.Message) > maxMessageRunes {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "message too long"})
		}

		evType, ok := model.ParseEventType(req.EventType)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid event_type"})
		}

		accID, ok := middleware.AccountFromCtx(c)
		if !ok || accID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		ctx := c.Request().Context()

		if err := accounts.AdjustCredits(ctx, accID, -1); err != nil {
			if errors.Is(err, store.ErrInsufficientCredits) {
				return c.JSON(http.StatusPaymentRequired, map[string]string{
					"error":       "insufficient_credits",
					"description": "credit balance is not enough to queue the message",
				})
			}
			log.Errorf("charge failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "store error"})
		}

		t := queue.Task{
			ID:        util.NewRef(),
			Attempt:   1,
			AccountID: accID,
			Request: model.SendRequest{
				Phone:      req.Phone,
				Message:    req.Message,
				EventType:  evType,
				CampaignID: req.CampaignID,
			},
		}
		if err := q.Enqueue(ctx, t); err != nil {
			// undo the charge; the caller may retry the whole request
			if rerr := accounts.AdjustCredits(ctx, accID, 1); rerr != nil {
				log.Errorf("charge rollback failed: %v", rerr)
			}
			log.Errorf("enqueue failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "queue error"})
		}

		metrics.DeliveriesTotal.WithLabelValues("queued", evType.String()).Inc()

		return c.JSON(http.StatusAccepted, map[string]any{
			"enqueued":   true,
			"ref":        t.ID,
			"event_type": evType.String(),
		})
	}
}
