// Package gateway wraps the single HTTP call to the SMS provider and
// classifies its outcome. Transport problems surface as typed errors; a
// well-formed response with a non-OK status is a provider business failure
// reported in Result, not an error.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const DefaultTimeout = 30 * time.Second

// statusOK is the provider status value meaning the message was accepted.
const statusOK = "OK"

// maxResponseBytes bounds how much of a provider response body is read.
const maxResponseBytes = 1 << 20

type ErrorKind string

const (
	KindTimeout           ErrorKind = "timeout"
	KindHTTPError         ErrorKind = "http_error"
	KindMalformedResponse ErrorKind = "malformed_response"
	KindCircuitOpen       ErrorKind = "circuit_open"
)

// Error is a transport-level send failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("gateway %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Result is the provider's verdict on an accepted request.
type Result struct {
	Success         bool
	ProviderMessage string
}

type Client struct {
	url     string
	key     string
	msgType int
	client  *http.Client
	breaker *Breaker
}

func NewClient(url, key string, msgType int, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		url:     url,
		key:     key,
		msgType: msgType,
		client:  &http.Client{Timeout: timeout},
		breaker: NewBreaker(defaultBreakThreshold, defaultBreakCoolDown),
	}
}

const (
	defaultBreakThreshold = 5
	defaultBreakCoolDown  = 10 * time.Second
)

type sendRequest struct {
	Key    string `json:"key"`
	Type   int    `json:"type"`
	Number string `json:"number"`
	Msg    string `json:"msg"`
	Ref    string `json:"ref"`
}

type sendResponse struct {
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// Send performs one POST to the provider. The phone must already be in
// canonical form. The call never blocks past the client timeout. While
// the breaker is open Send fails fast without touching the wire; callers
// treat that like any other transport error and retry later.
func (c *Client) Send(ctx context.Context, number, msg, ref string) (Result, error) {
	if !c.breaker.Allow() {
		return Result{}, &Error{Kind: KindCircuitOpen, Err: errors.New("provider circuit open")}
	}

	res, err := c.send(ctx, number, msg, ref)
	if err != nil {
		c.breaker.OnFailure()
		return Result{}, err
	}
	// a provider business rejection still proves the provider is reachable
	c.breaker.OnSuccess()
	return res, nil
}

func (c *Client) send(ctx context.Context, number, msg, ref string) (Result, error) {
	body, err := json.Marshal(sendRequest{
		Key:    c.key,
		Type:   c.msgType,
		Number: number,
		Msg:    msg,
		Ref:    ref,
	})
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return Result{}, &Error{Kind: KindTimeout, Err: err}
		}
		return Result{}, &Error{Kind: KindHTTPError, Err: err}
	}
	defer res.Body.Close()

	// the provider's verdict is a tiny JSON object; cap the read so a
	// misbehaving provider cannot balloon memory
	raw, _ := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))

	if res.StatusCode/100 != 2 {
		return Result{}, &Error{
			Kind: KindHTTPError,
			Err:  fmt.Errorf("status=%d body=%q", res.StatusCode, snippet(raw)),
		}
	}

	var sr sendResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return Result{}, &Error{
			Kind: KindMalformedResponse,
			Err:  fmt.Errorf("decode json: %w body=%q", err, snippet(raw)),
		}
	}
	if sr.Status == "" {
		return Result{}, &Error{
			Kind: KindMalformedResponse,
			Err:  fmt.Errorf("missing status field body=%q", snippet(raw)),
		}
	}

	if sr.Status != statusOK {
		// provider rejected the message; not a transport error
		return Result{Success: false, ProviderMessage: sr.Status + ": " + sr.Detail}, nil
	}
	return Result{Success: true, ProviderMessage: sr.Detail}, nil
}

// snippet trims a response body for error messages.
func snippet(b []byte) string {
	const max = 256
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
