package gateway_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"dentalclinic/internal/modules/gateway"
	"dentalclinic/internal/modules/gateway/gatewaytest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*gateway.Client, *gatewaytest.Server) {
	t.Helper()
	srv := gatewaytest.New("s3cret")
	t.Cleanup(srv.Close)
	c, err := gateway.NewClient(srv.Config(), nil, zerolog.Nop())
	require.NoError(t, err)
	return c, srv
}

func session(txn string) gateway.SessionRequest {
	return gateway.SessionRequest{
		MerchantTxnID: txn,
		AmountCents:   47000,
		Currency:      "INR",
		RedirectURL:   "https://clinic.test/return",
		Payer:         gateway.Payer{UserRef: 42},
	}
}

func TestAcquireAccessToken_SingleFlight(t *testing.T) {
	c, srv := newClient(t)
	srv.TokenDelay = 50 * time.Millisecond

	var wg sync.WaitGroup
	tokens := make([]string, 10)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := c.AcquireAccessToken(context.Background())
			assert.NoError(t, err)
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), srv.TokenCalls.Load())
	for _, tok := range tokens {
		assert.Equal(t, tokens[0], tok)
	}
}

func TestAcquireAccessToken_CachedUntilSkew(t *testing.T) {
	c, srv := newClient(t)
	ctx := context.Background()

	_, err := c.AcquireAccessToken(ctx)
	require.NoError(t, err)
	_, err = c.AcquireAccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), srv.TokenCalls.Load())
}

func TestAcquireAccessToken_NearExpiryIsNotCached(t *testing.T) {
	c, srv := newClient(t)
	srv.TokenTTL = 500 * time.Millisecond
	ctx := context.Background()

	_, err := c.AcquireAccessToken(ctx)
	require.NoError(t, err)
	_, err = c.AcquireAccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), srv.TokenCalls.Load())
}

func TestAcquireAccessToken_BadCredentials(t *testing.T) {
	srv := gatewaytest.New("s3cret")
	defer srv.Close()
	cfg := srv.Config()
	cfg.ClientSecret = "wrong"
	c, err := gateway.NewClient(cfg, nil, zerolog.Nop())
	require.NoError(t, err)

	_, err = c.AcquireAccessToken(context.Background())
	assert.True(t, gateway.IsCategory(err, gateway.CategoryAuth), err)
	assert.Equal(t, int32(1), srv.TokenCalls.Load())
}

func TestCreateSessionAndFetchStatus(t *testing.T) {
	c, srv := newClient(t)
	ctx := context.Background()

	s, err := c.CreateSession(ctx, session("T0001"))
	require.NoError(t, err)
	assert.NotEmpty(t, s.GatewayOrderID)
	assert.Contains(t, s.RedirectTarget, s.GatewayOrderID)
	assert.False(t, s.ExpireAt.IsZero())

	st, err := c.FetchStatus(ctx, "T0001")
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusPending, st.Status)
	assert.Equal(t, int64(47000), st.AmountCents)

	srv.SetState("T0001", "COMPLETED", "")
	st, err = c.FetchStatus(ctx, "T0001")
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusSuccess, st.Status)
	assert.Equal(t, s.GatewayOrderID, st.GatewayOrderID)

	srv.SetState("T0001", "FAILED", "USER_CANCELLED")
	st, err = c.FetchStatus(ctx, "T0001")
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusUserDrop, st.Status)
}

func TestCreateSession_ServerErrorIsNotRetried(t *testing.T) {
	c, srv := newClient(t)
	srv.PayFailures.Store(1)

	_, err := c.CreateSession(context.Background(), session("T0002"))
	require.Error(t, err)
	assert.True(t, gateway.IsCategory(err, gateway.CategoryUpstreamUnavailable))
	assert.Equal(t, int32(1), srv.PayCalls.Load())
}

func TestCreateSession_Rejected(t *testing.T) {
	c, srv := newClient(t)
	srv.RejectPay.Store(true)

	_, err := c.CreateSession(context.Background(), session("T0003"))
	assert.True(t, gateway.IsCategory(err, gateway.CategoryValidation), err)
}

func TestCreateSession_UnusableSuccessIsTransient(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"orderId":`},
		{"incomplete", `{"state":"PENDING"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, srv := newClient(t)
			srv.GarblePay.Store(tt.body)

			_, err := c.CreateSession(context.Background(), session("T0005"))
			var ge *gateway.Error
			require.ErrorAs(t, err, &ge)
			assert.Equal(t, gateway.CategoryUpstreamUnavailable, ge.Category)
			assert.True(t, ge.Transient())
			assert.Equal(t, int32(1), srv.PayCalls.Load())
		})
	}
}

func TestCreateSession_DialFailureIsMarkedNotSent(t *testing.T) {
	srv := gatewaytest.New("s3cret")
	cfg := srv.Config()
	srv.Close()
	c, err := gateway.NewClient(cfg, nil, zerolog.Nop())
	require.NoError(t, err)

	_, err = c.CreateSession(context.Background(), session("T0004"))
	var ge *gateway.Error
	require.ErrorAs(t, err, &ge)
	assert.True(t, ge.NotSent)
	assert.True(t, ge.Transient())
}

func TestFetchStatus_RetriesTransientFailures(t *testing.T) {
	c, srv := newClient(t)
	ctx := context.Background()
	_, err := c.CreateSession(ctx, session("T0005"))
	require.NoError(t, err)

	srv.StatusFailures.Store(2)
	st, err := c.FetchStatus(ctx, "T0005")
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusPending, st.Status)
	assert.Equal(t, int32(3), srv.StatusCalls.Load())
}

func TestFetchStatus_GivesUpAfterMaxAttempts(t *testing.T) {
	c, srv := newClient(t)
	ctx := context.Background()
	_, err := c.CreateSession(ctx, session("T0006"))
	require.NoError(t, err)

	srv.StatusFailures.Store(10)
	_, err = c.FetchStatus(ctx, "T0006")
	assert.True(t, gateway.IsCategory(err, gateway.CategoryUpstreamUnavailable))
	assert.Equal(t, int32(4), srv.StatusCalls.Load())
}

func TestFetchStatus_UnknownOrder(t *testing.T) {
	c, _ := newClient(t)
	_, err := c.FetchStatus(context.Background(), "T-missing")
	assert.True(t, gateway.IsCategory(err, gateway.CategoryValidation), err)
}

func TestCancel(t *testing.T) {
	c, srv := newClient(t)
	ctx := context.Background()
	_, err := c.CreateSession(ctx, session("T0007"))
	require.NoError(t, err)

	require.NoError(t, c.Cancel(ctx, "T0007"))
	o, ok := srv.Order("T0007")
	require.True(t, ok)
	assert.Equal(t, "FAILED", o.State)
}

func TestEndpointsFor(t *testing.T) {
	e, err := gateway.EndpointsFor(gateway.EnvSandbox, "")
	require.NoError(t, err)
	assert.NotEmpty(t, e.PG)

	e, err = gateway.EndpointsFor(gateway.EnvProduction, "http://localhost:9999/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9999", e.PG)

	_, err = gateway.EndpointsFor("staging", "")
	assert.Error(t, err)
}
