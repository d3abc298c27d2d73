package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/lojinha/sms-dispatcher/internal/http/middleware"
	"github.com/lojinha/sms-dispatcher/internal/store"
)

type createAccountReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
	IsAdmin  bool   `json:"is_admin"`
}

func createAccountHandler(accounts *store.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createAccountReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		req.Username = strings.TrimSpace(req.Username)
		if req.Username == "" || len(req.Username) > 64 || len(req.Password) < 6 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid username or password"})
		}

		acc, err := accounts.CreateAccount(c.Request().Context(), req.Username, req.Password, req.IsAdmin)
		if errors.Is(err, store.ErrDuplicateUsername) {
			return c.JSON(http.StatusConflict, map[string]string{"error": "username already taken"})
		}
		if err != nil {
			log.Errorf("create account: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "store error"})
		}

		return c.JSON(http.StatusCreated, acc)
	}
}

func deleteAccountHandler(accounts *store.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
		}

		actorID, _ := middleware.AccountFromCtx(c)

		err = accounts.DeleteAccount(c.Request().Context(), actorID, id)
		switch {
		case errors.Is(err, store.ErrSelfDelete):
			return c.JSON(http.StatusConflict, map[string]string{"error": "cannot delete own account"})
		case errors.Is(err, store.ErrAccountNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "account not found"})
		case err != nil:
			log.Errorf("delete account: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "store error"})
		}

		return c.NoContent(http.StatusNoContent)
	}
}

type adjustCreditsReq struct {
	Delta int64 `json:"delta"`
}

func adjustCreditsHandler(accounts *store.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
		}

		var req adjustCreditsReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if req.Delta == 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "delta must be non-zero"})
		}

		err = accounts.AdjustCredits(c.Request().Context(), id, req.Delta)
		switch {
		case errors.Is(err, store.ErrInsufficientCredits):
			return c.JSON(http.StatusConflict, map[string]string{"error": "insufficient credits"})
		case errors.Is(err, store.ErrAccountNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "account not found"})
		case err != nil:
			log.Errorf("adjust credits: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "store error"})
		}

		acc, err := accounts.GetAccount(c.Request().Context(), id)
		if err != nil {
			log.Errorf("read back account: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "store error"})
		}
		return c.JSON(http.StatusOK, acc)
	}
}

func getAccountHandler(accounts *store.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
		}

		// non-admins may only read their own account
		actorID, _ := middleware.AccountFromCtx(c)
		if id != actorID && !middleware.IsAdminFromCtx(c) {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "forbidden"})
		}

		acc, err := accounts.GetAccount(c.Request().Context(), id)
		if errors.Is(err, store.ErrAccountNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "account not found"})
		}
		if err != nil {
			log.Errorf("get account: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "store error"})
		}
		return c.JSON(http.StatusOK, acc)
	}
}

func listAccountsHandler(accounts *store.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		accs, err := accounts.ListAccounts(c.Request().Context())
		if err != nil {
			log.Errorf("list accounts: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "store error"})
		}
		return c.JSON(http.StatusOK, accs)
	}
}

type issueResetReq struct {
	Username string `json:"username"`
}

// issueResetTokenHandler is called by the web tier for the forgot-password
// flow; the token goes back to the web tier, which delivers it to the user.
// Unknown usernames get 404 here because the caller is a trusted backend,
// not an end user.
func issueResetTokenHandler(accounts *store.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req issueResetReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		acc, err := accounts.GetAccountByUsername(c.Request().Context(), strings.TrimSpace(req.Username))
		if errors.Is(err, store.ErrAccountNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "account not found"})
		}
		if err != nil {
			log.Errorf("lookup for reset: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "store error"})
		}

		token, err := accounts.IssueResetToken(c.Request().Context(), acc.ID)
		if err != nil {
			log.Errorf("issue reset token: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "store error"})
		}

		return c.JSON(http.StatusOK, map[string]string{"token": token})
	}
}

type confirmResetReq struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func confirmResetHandler(accounts *store.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req confirmResetReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if len(req.NewPassword) < 6 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "password too short"})
		}

		err := accounts.ConsumeResetToken(c.Request().Context(), req.Token, req.NewPassword)
		if errors.Is(err, store.ErrInvalidOrExpiredToken) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
		}
		if err != nil {
			log.Errorf("consume reset token: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "store error"})
		}

		return c.JSON(http.StatusOK, map[string]bool{"reset": true})
	}
}
