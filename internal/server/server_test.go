package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigotlabs/spigot/internal/core"
	"github.com/spigotlabs/spigot/internal/core/identity"
	"github.com/spigotlabs/spigot/internal/core/stats"
	apperrors "github.com/spigotlabs/spigot/internal/errors"
	"github.com/spigotlabs/spigot/internal/server/handlers"
)

type staticClaims struct {
	lastOrigin core.RequestOrigin
}

func (s *staticClaims) Claim(_ context.Context, req core.ClaimRequest) (*core.ClaimReceipt, error) {
	s.lastOrigin = req.Origin
	return &core.ClaimReceipt{TxID: "tx-1", Amount: decimal.RequireFromString("1")}, nil
}

func (s *staticClaims) Eligibility(context.Context, core.ClaimRequest) (core.Decision, error) {
	return core.Decision{Eligible: true}, nil
}

func newTestServer(claims handlers.ClaimService) *Server {
	return New(Options{
		Host: "127.0.0.1",
		Faucet: &handlers.FaucetAPI{
			Claims:   claims,
			Resolver: identity.NetworkResolver{},
			Totals:   stats.NewMemory(),
			Amount:   decimal.RequireFromString("1"),
			Window:   time.Hour,
		},
	})
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := newTestServer(&staticClaims{})

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, apperrors.CodeNotFound, body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestClaimRouteRejectsGet(t *testing.T) {
	srv := newTestServer(&staticClaims{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/claim", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestClaimRouteKeepsRemoteAddr(t *testing.T) {
	claims := &staticClaims{}
	srv := newTestServer(claims)

	req := httptest.NewRequest(http.MethodPost, "/api/claim", strings.NewReader(`{"address":"a","hcaptchaToken":"t"}`))
	req.RemoteAddr = "192.0.2.44:1234"
	req.Header.Set("X-Real-IP", "198.51.100.1")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "192.0.2.44:1234", claims.lastOrigin.RemoteAddr)
	assert.Equal(t, "198.51.100.1", claims.lastOrigin.RealIP)
}

func TestServerWithoutFaucetServesHealth(t *testing.T) {
	srv := New(Options{Host: "127.0.0.1"})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/claim", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminEndpointRequiresToken(t *testing.T) {
	srv := New(Options{Host: "127.0.0.1"})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/signal", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
