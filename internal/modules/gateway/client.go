package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"dentalclinic/internal/pkg/metrics"

	"github.com/cenkalti/backoff/v4"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

type Environment string

const (
	EnvSandbox    Environment = "sandbox"
	EnvProduction Environment = "production"
)

const tokenKey = "access_token"

// Endpoints is the pair of hosts a merchant talks to.
type Endpoints struct {
	Auth string
	PG   string
}

var endpointSets = map[Environment]Endpoints{
	EnvSandbox: {
		Auth: "https://api-preprod.gateway.example/apis/pg-sandbox",
		PG:   "https://api-preprod.gateway.example/apis/pg-sandbox",
	},
	EnvProduction: {
		Auth: "https://api.gateway.example/apis/identity-manager",
		PG:   "https://api.gateway.example/apis/pg",
	},
}

// EndpointsFor resolves the endpoint set; a non-empty override replaces both hosts.
func EndpointsFor(env Environment, override string) (Endpoints, error) {
	if override != "" {
		base := strings.TrimRight(override, "/")
		return Endpoints{Auth: base, PG: base}, nil
	}
	e, ok := endpointSets[env]
	if !ok {
		return Endpoints{}, fmt.Errorf("unknown gateway environment %q", env)
	}
	return e, nil
}

type RetryPolicy struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Initial: 250 * time.Millisecond, Max: 5 * time.Second, MaxAttempts: 4}
}

type Config struct {
	Env           Environment
	BaseURL       string
	MerchantID    string
	ClientID      string
	ClientSecret  string
	ClientVersion string
	Timeout       time.Duration
	TokenSkew     time.Duration
	Retry         RetryPolicy
}

type Client struct {
	cfg       Config
	endpoints Endpoints
	http      *http.Client
	tokens    *cache.Cache
	flight    singleflight.Group
	metrics   *metrics.Metrics
	log       zerolog.Logger
	now       func() time.Time
}

func NewClient(cfg Config, m *metrics.Metrics, log zerolog.Logger) (*Client, error) {
	endpoints, err := EndpointsFor(cfg.Env, cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.TokenSkew <= 0 {
		cfg.TokenSkew = 60 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &Client{
		cfg:       cfg,
		endpoints: endpoints,
		http:      &http.Client{Timeout: cfg.Timeout},
		tokens:    cache.New(cache.NoExpiration, 10*time.Minute),
		metrics:   m,
		log:       log.With().Str("component", "gateway").Logger(),
		now:       time.Now,
	}, nil
}

// AcquireAccessToken returns a cached token or fetches one. Concurrent
// callers share a single in-flight request.
func (c *Client) AcquireAccessToken(ctx context.Context) (string, error) {
	if tok, ok := c.tokens.Get(tokenKey); ok {
		return tok.(string), nil
	}
	v, err, _ := c.flight.Do(tokenKey, func() (interface{}, error) {
		if tok, ok := c.tokens.Get(tokenKey); ok {
			return tok.(string), nil
		}
		var tr tokenResponse
		err := c.retry(ctx, "token", func() error {
			var err error
			tr, err = c.fetchToken(ctx)
			return err
		})
		if err != nil {
			return "", err
		}
		ttl := time.Unix(tr.ExpiresAt, 0).Sub(c.now()) - c.cfg.TokenSkew
		if ttl > 0 {
			c.tokens.Set(tokenKey, tr.AccessToken, ttl)
		}
		return tr.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) fetchToken(ctx context.Context) (tokenResponse, error) {
	started := c.now()
	form := url.Values{}
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_version", c.cfg.ClientVersion)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoints.Auth+"/v1/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return tokenResponse{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var tr tokenResponse
	_, err = c.send(req, "token", &tr)
	c.metrics.GatewayCall("token", resultLabel(err), started)
	if err != nil {
		return tokenResponse{}, err
	}
	if tr.AccessToken == "" {
		return tokenResponse{}, &Error{Op: "token", Category: CategoryAuth, Message: "empty access token"}
	}
	return tr, nil
}

// CreateSession registers an order and returns where to send the payer.
// It is retried only when the request never left this process.
func (c *Client) CreateSession(ctx context.Context, in SessionRequest) (*Session, error) {
	body := payRequest{
		MerchantOrderID: in.MerchantTxnID,
		Amount:          in.AmountCents,
		PaymentFlow: paymentFlow{
			Type:         "PG_CHECKOUT",
			MerchantURLs: merchantURLs{RedirectURL: in.RedirectURL, CallbackURL: in.CallbackURL},
		},
	}
	if in.ExpireAfter > 0 {
		body.ExpireAfter = int64(in.ExpireAfter / time.Second)
	}
	if in.Payer.UserRef != 0 {
		body.MetaInfo = map[string]string{"udf1": strconv.FormatInt(in.Payer.UserRef, 10)}
	}

	var (
		out payResponse
		raw []byte
	)
	err := c.retryIf(ctx, "create_session", func(e *Error) bool { return e.NotSent }, func() error {
		var err error
		raw, err = c.doJSON(ctx, "create_session", http.MethodPost, c.endpoints.PG+"/checkout/v2/pay", body, &out)
		return err
	})
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(out.State, "FAILED") {
		return nil, &Error{Op: "create_session", Category: CategoryValidation, Code: out.State, Message: "order rejected"}
	}
	// The order may exist upstream even when the answer is unusable, so the
	// payment stays open for the sweep to resolve.
	if out.OrderID == "" || out.RedirectURL == "" {
		return nil, &Error{Op: "create_session", Category: CategoryUpstreamUnavailable, Message: "incomplete session response"}
	}
	s := &Session{GatewayOrderID: out.OrderID, RedirectTarget: out.RedirectURL, Raw: raw}
	if out.ExpireAt > 0 {
		s.ExpireAt = time.UnixMilli(out.ExpireAt).UTC()
	}
	return s, nil
}

// FetchStatus polls the authoritative order status.
func (c *Client) FetchStatus(ctx context.Context, merchantTxnID string) (*StatusResult, error) {
	var (
		out orderStatus
		raw []byte
	)
	endpoint := c.endpoints.PG + "/checkout/v2/order/" + url.PathEscape(merchantTxnID) + "/status"
	err := c.retry(ctx, "fetch_status", func() error {
		var err error
		raw, err = c.doJSON(ctx, "fetch_status", http.MethodGet, endpoint, nil, &out)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out.MerchantOrderID == "" {
		out.MerchantOrderID = merchantTxnID
	}
	res := out.result(raw, "")
	if res.Status == "" {
		return nil, &Error{Op: "fetch_status", Category: CategoryValidation, Message: "unknown order state " + out.State}
	}
	return res, nil
}

// Cancel asks the gateway to void an order. Callers treat it as best effort.
func (c *Client) Cancel(ctx context.Context, merchantTxnID string) error {
	endpoint := c.endpoints.PG + "/checkout/v2/order/" + url.PathEscape(merchantTxnID) + "/cancel"
	_, err := c.doJSON(ctx, "cancel", http.MethodPost, endpoint, struct{}{}, nil)
	return err
}

func (c *Client) doJSON(ctx context.Context, op, method, endpoint string, in, out interface{}) ([]byte, error) {
	started := c.now()
	token, err := c.AcquireAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "O-Bearer "+token)
	req.Header.Set("X-MERCHANT-ID", c.cfg.MerchantID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	raw, err := c.send(req, op, out)
	c.metrics.GatewayCall(op, resultLabel(err), started)
	if IsCategory(err, CategoryAuth) {
		c.tokens.Delete(tokenKey)
	}
	return raw, err
}

func (c *Client) send(req *http.Request, op string, out interface{}) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, transportError(op, err)
	}
	if resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		ge := classifyStatus(op, resp.StatusCode, eb.Code, eb.Message)
		c.log.Warn().Str("op", op).Int("status", resp.StatusCode).Str("code", eb.Code).Msg("gateway call failed")
		return raw, ge
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return raw, &Error{Op: op, Category: CategoryUpstreamUnavailable, Message: "malformed response", Err: err}
		}
	}
	return raw, nil
}

func (c *Client) retry(ctx context.Context, op string, fn func() error) error {
	return c.retryIf(ctx, op, (*Error).Transient, fn)
}

func (c *Client) retryIf(ctx context.Context, op string, retryable func(*Error) bool, fn func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.Retry.Initial
	eb.MaxInterval = c.cfg.Retry.Max
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.cfg.Retry.MaxAttempts-1)), ctx)
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		var ge *Error
		if errors.As(err, &ge) && retryable(ge) {
			c.log.Debug().Str("op", op).Int("attempt", attempt).Err(err).Msg("retrying gateway call")
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var ge *Error
	if errors.As(err, &ge) {
		return strings.ToLower(string(ge.Category))
	}
	return "error"
}
