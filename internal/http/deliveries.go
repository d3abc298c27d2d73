package http

import (
	"errors"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/lojinha/sms-dispatcher/internal/store"
)

func listDeliveriesHandler(s *store.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, _ := strconv.Atoi(c.QueryParam("limit"))
		offset, _ := strconv.Atoi(c.QueryParam("offset"))

		var (
			entries any
			err     error
		)
		if phone := c.QueryParam("phone"); phone != "" {
			entries, err = s.ListDeliveriesByPhone(c.Request().Context(), phone, limit)
		} else {
			entries, err = s.ListDeliveries(c.Request().Context(), limit, offset)
		}
		if err != nil {
			log.Errorf("list deliveries: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "store error"})
		}
		return c.JSON(http.StatusOK, entries)
	}
}

// latestDeliveryHandler answers "did this ultimately succeed" for one
// reference: the most recent attempt row is the terminal outcome.
func latestDeliveryHandler(s *store.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		ref := c.QueryParam("ref")
		if ref == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing ref"})
		}

		entry, err := s.LatestByReference(c.Request().Context(), ref)
		if errors.Is(err, store.ErrDeliveryNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "no delivery for ref"})
		}
		if err != nil {
			log.Errorf("latest delivery: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "store error"})
		}
		return c.JSON(http.StatusOK, entry)
	}
}
