/*
client.go - Thin client for the fiscal provider HTTP API

PURPOSE:
  Wraps the three provider calls the reconciliation engine needs:
  auth-token issuance, receipt creation and receipt-status queries.
  The provider is eventually consistent - a receipt queried right
  after creation routinely has no fiscal identifiers yet, and that is
  a normal outcome, not an error.

TOKEN CACHE:
  Tokens are cached until shortly before expiry. Concurrent callers
  share one in-flight fetch instead of racing duplicate token
  requests. A provider 401 invalidates the cache and the failed call
  is retried once with a freshly fetched token.

RESULT SHAPE:
  Status queries return a tagged variant (OutcomeResolved /
  OutcomeIDKnown / OutcomePending) rather than raising on missing
  fields. "Fields missing" means "not yet available": the caller
  leaves the sale unchanged and revisits it next pass.

ERROR CLASSES:
  - network/timeout and 5xx: retryable (TransientError)
  - non-auth 4xx: non-retryable content error (ContentError)
  - 401: ErrUnauthorized after the single token-refresh retry

SEE ALSO:
  - url.go: deterministic receipt view URL construction
  - ../worker/repair.go: the main consumer
*/
package fiscal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"resty.dev/v3"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrUnauthorized is returned when the provider rejects our token
	// even after one refresh.
	ErrUnauthorized = errors.New("fiscal: unauthorized")
)

// TransientError wraps failures worth retrying on a later pass.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("fiscal: %s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// ContentError marks a malformed or rejected request. Retrying the
// same call will not help; the sale stays unresolved and is revisited
// naturally when its remote state changes.
type ContentError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("fiscal: %s: provider returned %d", e.Op, e.StatusCode)
}

// IsRetryable reports whether err may succeed on a later pass.
func IsRetryable(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// =============================================================================
// CLIENT
// =============================================================================

// Config holds provider endpoints and credentials.
type Config struct {
	BaseURL  string
	Login    string
	Password string
	Timeout  time.Duration // per-call timeout, seconds-scale
}

// Client talks to the fiscal provider. Safe for concurrent use.
type Client struct {
	cfg  Config
	http *resty.Client
	log  *zap.Logger

	mu       sync.Mutex
	token    string
	tokenExp time.Time
	inflight chan struct{} // non-nil while a token fetch is running
}

// New creates a provider client. The logger may not be nil.
func New(cfg Config, log *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	h := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout)
	return &Client{cfg: cfg, http: h, log: log}
}

// Close releases the underlying HTTP client.
func (c *Client) Close() error { return c.http.Close() }

// tokenResponse is the provider's auth payload.
type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"` // seconds
}

// Token returns a cached auth token, fetching one if needed.
// Concurrent callers block on a single shared fetch.
func (c *Client) Token(ctx context.Context) (string, error) {
	for {
		c.mu.Lock()
		if c.token != "" && time.Now().Before(c.tokenExp) {
			t := c.token
			c.mu.Unlock()
			return t, nil
		}
		if ch := c.inflight; ch != nil {
			c.mu.Unlock()
			select {
			case <-ch:
				continue // re-check the cache
			case <-ctx.Done():
				return "", &TransientError{Op: "token", Err: ctx.Err()}
			}
		}
		ch := make(chan struct{})
		c.inflight = ch
		c.mu.Unlock()

		tok, exp, err := c.fetchToken(ctx)

		c.mu.Lock()
		c.inflight = nil
		if err == nil {
			c.token, c.tokenExp = tok, exp
		}
		c.mu.Unlock()
		close(ch)

		if err != nil {
			return "", err
		}
		return tok, nil
	}
}

func (c *Client) fetchToken(ctx context.Context) (string, time.Time, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"login": c.cfg.Login, "password": c.cfg.Password}).
		Post("/auth/token")
	if err != nil {
		return "", time.Time{}, &TransientError{Op: "token", Err: err}
	}
	if res.StatusCode() == http.StatusUnauthorized || res.StatusCode() == http.StatusForbidden {
		return "", time.Time{}, ErrUnauthorized
	}
	if !res.IsSuccess() {
		return "", time.Time{}, classify("token", res)
	}
	var body tokenResponse
	if err := json.Unmarshal(res.Bytes(), &body); err != nil || body.Token == "" {
		return "", time.Time{}, &ContentError{Op: "token", StatusCode: res.StatusCode(), Body: res.String()}
	}
	ttl := time.Duration(body.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	// Renew a minute early so in-flight calls never carry a token
	// that expires mid-request.
	exp := time.Now().Add(ttl - time.Minute)
	c.log.Debug("fiscal token refreshed", zap.Time("expires_at", exp))
	return body.Token, exp, nil
}

// invalidateToken drops the cached token if it still matches tok.
func (c *Client) invalidateToken(tok string) {
	c.mu.Lock()
	if c.token == tok {
		c.token, c.tokenExp = "", time.Time{}
	}
	c.mu.Unlock()
}

// =============================================================================
// RECEIPT STATUS
// =============================================================================

// Outcome tags the variants of a provider status response.
type Outcome string

const (
	// OutcomePending means required fields are missing: the receipt
	// is not available yet. Normal, revisited later.
	OutcomePending Outcome = "pending"
	// OutcomeIDKnown means the provider assigned a receipt id but no
	// public URL can be derived yet.
	OutcomeIDKnown Outcome = "id-known"
	// OutcomeResolved means a public receipt URL is known.
	OutcomeResolved Outcome = "resolved"
)

// StatusResult is the parsed outcome of one status query.
type StatusResult struct {
	Outcome   Outcome
	ReceiptID string
	URL       string
	RawStatus string
	Raw       []byte
}

// statusBody is the provider's receipt payload. Every field is
// optional; absence is modeled by OutcomePending, not by errors.
type statusBody struct {
	Status     string `json:"status"`
	ReceiptID  string `json:"receiptId"`
	ReceiptURL string `json:"receiptUrl"`
	FN         string `json:"fn"`
	FD         string `json:"fd"`
	FP         string `json:"fp"`
}

// ReceiptStatus queries the status of a receipt by remote receipt id
// or invoice id.
func (c *Client) ReceiptStatus(ctx context.Context, id string) (StatusResult, error) {
	var res StatusResult
	raw, err := c.authed(ctx, "receipt status", func(tok string) (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetAuthToken(tok).
			Get("/receipts/" + id)
	})
	if err != nil {
		return res, err
	}
	return parseStatus(raw)
}

func parseStatus(raw []byte) (StatusResult, error) {
	var body statusBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return StatusResult{}, &ContentError{Op: "receipt status", StatusCode: http.StatusOK, Body: string(raw)}
	}
	res := StatusResult{RawStatus: body.Status, ReceiptID: body.ReceiptID, Raw: raw}
	switch {
	case body.ReceiptURL != "":
		res.Outcome = OutcomeResolved
		res.URL = body.ReceiptURL
	case body.FN != "" && body.FD != "" && body.FP != "":
		res.Outcome = OutcomeResolved
		res.URL = BuildReceiptViewURL(body.FN, body.FD, body.FP)
	case body.ReceiptID != "":
		res.Outcome = OutcomeIDKnown
	default:
		res.Outcome = OutcomePending
	}
	return res, nil
}

// =============================================================================
// RECEIPT CREATION
// =============================================================================

// CreateReceiptRequest describes one fiscalization call.
type CreateReceiptRequest struct {
	UserID    string          `json:"userId"`
	OrderID   string          `json:"orderId"`
	OrgID     string          `json:"orgId,omitempty"`
	InvoiceID string          `json:"invoiceId"`
	Kind      string          `json:"kind"` // prepay | offset | full
	Amount    json.RawMessage `json:"amount,omitempty"`
}

// CreateReceipt submits a receipt for fiscalization. The response is
// parsed with the same variant rules as a status query: the provider
// may return a direct URL, just an id, or nothing usable yet.
func (c *Client) CreateReceipt(ctx context.Context, req CreateReceiptRequest) (StatusResult, error) {
	raw, err := c.authed(ctx, "create receipt", func(tok string) (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetAuthToken(tok).
			SetHeader("Content-Type", "application/json").
			SetBody(req).
			Post("/receipts")
	})
	if err != nil {
		return StatusResult{}, err
	}
	return parseStatus(raw)
}

// =============================================================================
// CALL PLUMBING
// =============================================================================

// authed runs one provider call with a cached token, refreshing the
// token and retrying exactly once on 401.
func (c *Client) authed(ctx context.Context, op string, call func(token string) (*resty.Response, error)) ([]byte, error) {
	tok, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}
	for attempt := 0; ; attempt++ {
		res, err := call(tok)
		if err != nil {
			return nil, &TransientError{Op: op, Err: err}
		}
		if res.StatusCode() == http.StatusUnauthorized {
			c.invalidateToken(tok)
			if attempt > 0 {
				return nil, ErrUnauthorized
			}
			if tok, err = c.Token(ctx); err != nil {
				return nil, err
			}
			continue
		}
		if !res.IsSuccess() {
			return nil, classify(op, res)
		}
		return res.Bytes(), nil
	}
}

// classify maps a non-2xx response to an error class.
func classify(op string, res *resty.Response) error {
	code := res.StatusCode()
	if code >= 500 || code == http.StatusTooManyRequests {
		return &TransientError{Op: op, Err: fmt.Errorf("provider returned %d", code)}
	}
	return &ContentError{Op: op, StatusCode: code, Body: res.String()}
}
