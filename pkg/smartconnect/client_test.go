package smartconnect

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *SmartConnect {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewSmartConnect(Config{
		APIKey:        "key",
		RootURL:       srv.URL,
		ClientLocalIP: "10.0.0.1",
		ClientMAC:     "aa:bb:cc:dd:ee:ff",
		HTTPClient:    srv.Client(),
	})
}

func TestGenerateSessionStoresTokens(t *testing.T) {
	var body map[string]any
	sc := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, routes["api.login"], r.URL.Path)
		require.Equal(t, "key", r.Header.Get("X-PrivateKey"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		_, _ = w.Write([]byte(`{"status":true,"data":{"jwtToken":"jwt","refreshToken":"ref","feedToken":"feed"}}`))
	})

	_, err := sc.GenerateSession(context.Background(), "C1", "1234", "000000")
	require.NoError(t, err)
	require.Equal(t, "C1", body["clientcode"])
	require.True(t, sc.HasSession())
	require.Equal(t, "feed", sc.GetFeedToken())
	require.Equal(t, "C1", sc.GetUserID())
}

func TestBearerHeaderAfterLogin(t *testing.T) {
	sc := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer jwt", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"status":true,"data":[]}`))
	})
	sc.SetAccessToken("jwt")
	_, err := sc.OrderBook(context.Background())
	require.NoError(t, err)
}

func TestPlaceOrderReturnsID(t *testing.T) {
	sc := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		_, _ = w.Write([]byte(`{"status":true,"data":{"orderid":"230101000000001"}}`))
	})
	id, err := sc.PlaceOrder(context.Background(), map[string]any{"variety": "NORMAL", "price": nil})
	require.NoError(t, err)
	require.Equal(t, "230101000000001", id)
}

func TestErrorShapes(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"empty", http.StatusOK, "", "empty response body"},
		{"html", http.StatusOK, "<html>gateway</html>", "couldn't parse the json"},
		{"429", http.StatusTooManyRequests, "", "too many requests"},
		{"status false", http.StatusOK, `{"status":false,"message":"Access denied because of exceeding access rate","errorcode":"AB1004"}`, "exceeding access rate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sc := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := sc.Position(context.Background())
			require.Error(t, err)
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			require.Contains(t, strings.ToLower(err.Error()), tc.wantMsg)
		})
	}
}

func TestTokenExceptionIsSessionExpired(t *testing.T) {
	expired := false
	sc := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error_type":"TokenException","message":"Invalid Token"}`))
	})
	sc.SessionExpiryHook = func() { expired = true }

	_, err := sc.OrderBook(context.Background())
	require.ErrorIs(t, err, ErrSessionExpired)
	require.True(t, expired)
}

func TestLoginUsesTOTP(t *testing.T) {
	const secret = "JBSWY3DPEHPK3PXP"
	now := time.Date(2026, 10, 16, 9, 20, 0, 0, time.UTC)
	want, err := totp.GenerateCode(secret, now)
	require.NoError(t, err)

	sc := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		require.Equal(t, want, body["totp"])
		_, _ = w.Write([]byte(`{"status":true,"data":{"jwtToken":"jwt","feedToken":"f"}}`))
	})
	require.NoError(t, Login(context.Background(), sc, Credentials{ClientCode: "C1", Password: "p", TOTPSecret: secret}, now))
	require.Error(t, Login(context.Background(), sc, Credentials{ClientCode: "C1"}, now))
}
