package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker/v2"

	"kasirinaja/ledger/internal/domain"
)

type ClientConfig struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// HTTPClient talks to the ledger's HTTP API. Requests go through a circuit
// breaker that only counts transient failures.
type HTTPClient struct {
	rest     *resty.Client
	breaker  *gobreaker.CircuitBreaker[*resty.Response]
	username string
	password string

	mu    sync.Mutex
	token string
	role  string
}

var _ Ledger = (*HTTPClient)(nil)

type apiError struct {
	Message string `json:"error"`
}

var errTransientStatus = errors.New("transient status")

func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	rest := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	breaker := gobreaker.NewCircuitBreaker[*resty.Response](gobreaker.Settings{
		Name:        "ledger",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("[ledger] breaker %s: %s -> %s", name, from, to)
		},
	})

	return &HTTPClient{
		rest:     rest,
		breaker:  breaker,
		username: cfg.Username,
		password: cfg.Password,
	}
}

func (c *HTTPClient) CommitSale(ctx context.Context, payload domain.SalePayload) (domain.CommitResult, error) {
	var result domain.CommitResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/sales", payload, &result, ErrRejected); err != nil {
		return domain.CommitResult{}, err
	}
	return result, nil
}

func (c *HTTPClient) VoidSale(ctx context.Context, saleID string, reason string) (domain.VoidResult, error) {
	var result domain.VoidResult
	path := "/api/v1/sales/" + saleID + "/void"
	if err := c.do(ctx, http.MethodPost, path, domain.VoidSaleRequest{Reason: reason}, &result, ErrVoidConflict); err != nil {
		return domain.VoidResult{}, err
	}
	return result, nil
}

func (c *HTTPClient) GetCustomer(ctx context.Context, customerID string) (domain.Customer, error) {
	var customer domain.Customer
	if err := c.do(ctx, http.MethodGet, "/api/v1/customers/"+customerID, nil, &customer, ErrRejected); err != nil {
		return domain.Customer{}, err
	}
	return customer, nil
}

func (c *HTTPClient) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var body struct {
		Products []domain.Product `json:"products"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/products", nil, &body, ErrRejected); err != nil {
		return nil, err
	}
	return body.Products, nil
}

// Ping probes /healthz outside the breaker so recovery is noticed even while
// the breaker is open.
func (c *HTTPClient) Ping(ctx context.Context) error {
	resp, err := c.rest.R().SetContext(ctx).Get("/healthz")
	if err != nil {
		return Classify(err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%w: healthz returned %d", ErrTransient, resp.StatusCode())
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method string, path string, body any, result any, conflict error) error {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}

	resp, err := c.execute(ctx, method, path, token, body, result)
	if err == nil && resp.StatusCode() == http.StatusUnauthorized {
		c.resetToken(token)
		if token, err = c.ensureToken(ctx); err != nil {
			return err
		}
		resp, err = c.execute(ctx, method, path, token, body, result)
	}
	if err != nil {
		return Classify(err)
	}
	return statusError(method, path, resp, conflict)
}

func (c *HTTPClient) execute(ctx context.Context, method string, path string, token string, body any, result any) (*resty.Response, error) {
	resp, err := c.breaker.Execute(func() (*resty.Response, error) {
		req := c.rest.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetError(&apiError{})
		if body != nil {
			req.SetBody(body)
		}
		if result != nil {
			req.SetResult(result)
		}
		resp, err := req.Execute(method, path)
		if err != nil {
			return nil, err
		}
		if isTransientStatus(resp.StatusCode()) {
			return resp, errTransientStatus
		}
		return resp, nil
	})
	if errors.Is(err, errTransientStatus) {
		return resp, nil
	}
	return resp, err
}

func (c *HTTPClient) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}

	var login domain.LoginResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(domain.LoginRequest{Username: c.username, Password: c.password}).
		SetResult(&login).
		SetError(&apiError{}).
		Post("/api/v1/auth/login")
	if err != nil {
		return "", Classify(err)
	}
	switch {
	case resp.IsSuccess():
	case resp.StatusCode() == http.StatusUnauthorized:
		return "", fmt.Errorf("%w: terminal credentials rejected", ErrForbidden)
	default:
		return "", statusError(http.MethodPost, "/api/v1/auth/login", resp, ErrRejected)
	}
	if login.AccessToken == "" {
		return "", fmt.Errorf("%w: login returned no token", ErrTransient)
	}
	c.token = login.AccessToken
	c.role = login.Role
	return c.token, nil
}

// Role logs in when needed and returns the role the ledger granted the
// terminal credentials.
func (c *HTTPClient) Role(ctx context.Context) (string, error) {
	if _, err := c.ensureToken(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role, nil
}

func (c *HTTPClient) resetToken(stale string) {
	c.mu.Lock()
	if c.token == stale {
		c.token = ""
	}
	c.mu.Unlock()
}

func isTransientStatus(status int) bool {
	return status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
}

func statusError(method string, path string, resp *resty.Response, conflict error) error {
	if resp.IsSuccess() {
		return nil
	}
	msg := http.StatusText(resp.StatusCode())
	if apiErr, ok := resp.Error().(*apiError); ok && apiErr.Message != "" {
		msg = apiErr.Message
	}

	var kind error
	switch status := resp.StatusCode(); {
	case isTransientStatus(status), status == http.StatusUnauthorized:
		kind = ErrTransient
	case status == http.StatusForbidden:
		kind = ErrForbidden
	case status == http.StatusNotFound:
		kind = ErrNotFound
	case status == http.StatusConflict:
		kind = conflict
	default:
		kind = ErrRejected
	}
	return fmt.Errorf("%w: %s %s: %d %s", kind, method, path, resp.StatusCode(), msg)
}
