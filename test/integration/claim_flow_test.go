package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigotlabs/spigot/internal/core/captcha"
	"github.com/spigotlabs/spigot/internal/core/engine"
	"github.com/spigotlabs/spigot/internal/core/identity"
	"github.com/spigotlabs/spigot/internal/core/ledger"
	"github.com/spigotlabs/spigot/internal/core/payout"
	"github.com/spigotlabs/spigot/internal/core/stats"
	apperrors "github.com/spigotlabs/spigot/internal/errors"
	"github.com/spigotlabs/spigot/internal/observability"
	"github.com/spigotlabs/spigot/internal/server"
	"github.com/spigotlabs/spigot/internal/server/handlers"
)

const goodToken = "human"

// fakeNode answers the wallet RPC methods the faucet uses.
type fakeNode struct {
	sends       atomic.Int32
	failSend    string
	sendLatency time.Duration
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != "rpc" || pass != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var req struct {
		ID     string `json:"id"`
		Method string `json:"method"`
		Params []any  `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	reply := func(result any, rpcErr map[string]any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "error": rpcErr, "id": req.ID})
	}

	switch req.Method {
	case "validateaddress":
		addr, _ := req.Params[0].(string)
		reply(map[string]any{"isvalid": strings.HasPrefix(addr, "t"), "address": addr}, nil)
	case "sendtoaddress":
		if n.sendLatency > 0 {
			time.Sleep(n.sendLatency)
		}
		if n.failSend != "" {
			w.WriteHeader(http.StatusInternalServerError)
			reply(nil, map[string]any{"code": -6, "message": n.failSend})
			return
		}
		count := n.sends.Add(1)
		reply(fmt.Sprintf("tx%04d", count), nil)
	case "getbalance":
		reply(1234.5, nil)
	case "getblockcount":
		reply(100, nil)
	default:
		reply(nil, map[string]any{"code": -32601, "message": "Method not found"})
	}
}

func fakeCaptcha() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("response") == goodToken && r.PostForm.Get("secret") == "captcha-secret" {
			_, _ = w.Write([]byte(`{"success":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response"]}`))
	}
}

type faucetEnv struct {
	node   *fakeNode
	totals *stats.Memory
	url    string
	client *http.Client
}

func newFaucetEnv(t *testing.T, node *fakeNode) *faucetEnv {
	t.Helper()
	observability.InitServerLogger("test", "error", "test")

	captchaSrv := startFake(t, fakeCaptcha())
	nodeSrv := startFake(t, node)

	rpc := &ledger.Client{URL: nodeSrv.URL, User: "rpc", Password: "secret", Timeout: 5 * time.Second}
	amount := decimal.RequireFromString("100")
	dispatcher, err := payout.New(rpc, amount)
	require.NoError(t, err)

	limiter, err := engine.NewClaimLimiter(engine.NewMemoryLimitStore(), time.Hour)
	require.NoError(t, err)

	totals := stats.NewMemory()
	resolver := identity.FingerprintResolver{Required: true}
	orch := &engine.Orchestrator{
		Resolver:   resolver,
		Verifier:   &captcha.Verifier{VerifyURL: captchaSrv.URL, Secret: "captcha-secret", Timeout: 5 * time.Second},
		Limiter:    limiter,
		Dispatcher: dispatcher,
		Stats:      totals,
	}

	srv := server.New(server.Options{
		Host: "127.0.0.1",
		Faucet: &handlers.FaucetAPI{
			Claims:   orch,
			Resolver: resolver,
			Totals:   totals,
			Balance:  rpc,
			Amount:   amount,
			Window:   time.Hour,
			Coin:     "TRMP",
		},
	})
	ts, client := startServer(t, srv)
	return &faucetEnv{node: node, totals: totals, url: ts.URL, client: client}
}

func (e *faucetEnv) claim(t *testing.T, address, token, fingerprint string) (*http.Response, map[string]any) {
	t.Helper()
	body := fmt.Sprintf(`{"address":%q,"hcaptchaToken":%q,"fingerprint":%q}`, address, token, fingerprint)
	resp, err := e.client.Post(e.url+"/api/claim", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	decoded := map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &decoded), string(raw))
	return resp, decoded
}

func errorCode(body map[string]any) string {
	errObj, _ := body["error"].(map[string]any)
	code, _ := errObj["code"].(string)
	return code
}

func TestClaimFlowEndToEnd(t *testing.T) {
	env := newFaucetEnv(t, &fakeNode{})

	resp, body := env.claim(t, "taddr1", goodToken, "device-a")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "tx0001", body["txid"])

	resp, body = env.claim(t, "taddr1", goodToken, "device-a")
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, apperrors.CodeRateLimited, errorCode(body))
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	resp, body = env.claim(t, "taddr2", goodToken, "device-b")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	assert.Equal(t, int32(2), env.node.sends.Load())

	statsResp, err := env.client.Get(env.url + "/api/stats")
	require.NoError(t, err)
	defer statsResp.Body.Close() // nolint:errcheck
	var summary handlers.StatsResponse
	require.NoError(t, json.NewDecoder(statsResp.Body).Decode(&summary))
	assert.True(t, decimal.RequireFromString("200").Equal(summary.TotalPaidOut))
	assert.Equal(t, int64(2), summary.Payouts)
	require.NotNil(t, summary.Balance)
	assert.True(t, decimal.RequireFromString("1234.5").Equal(*summary.Balance))
}

func TestClaimFlowRejectsBadCaptchaWithoutSideEffects(t *testing.T) {
	env := newFaucetEnv(t, &fakeNode{})

	resp, body := env.claim(t, "taddr1", "robot", "device-a")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, apperrors.CodeVerificationRejected, errorCode(body))
	assert.Equal(t, int32(0), env.node.sends.Load())

	resp, _ = env.claim(t, "taddr1", goodToken, "device-a")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClaimFlowInvalidAddressFreesIdentity(t *testing.T) {
	env := newFaucetEnv(t, &fakeNode{})

	resp, body := env.claim(t, "xbad", goodToken, "device-a")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, apperrors.CodeInvalidAddress, errorCode(body))

	resp, _ = env.claim(t, "taddr1", goodToken, "device-a")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClaimFlowSurfacesNodeMessage(t *testing.T) {
	env := newFaucetEnv(t, &fakeNode{failSend: "Insufficient funds"})

	resp, body := env.claim(t, "taddr1", goodToken, "device-a")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, apperrors.CodeDispatchFailed, errorCode(body))
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "Insufficient funds", errObj["message"])

	snapshot, err := env.totals.Snapshot(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(0), snapshot.Payouts)
}

func TestClaimFlowConcurrentSameIdentity(t *testing.T) {
	env := newFaucetEnv(t, &fakeNode{sendLatency: 20 * time.Millisecond})

	const workers = 16
	var (
		wg       sync.WaitGroup
		okCount  atomic.Int32
		rejected atomic.Int32
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf(`{"address":"taddr%d","hcaptchaToken":%q,"fingerprint":"shared"}`, i, goodToken)
			resp, err := env.client.Post(env.url+"/api/claim", "application/json", strings.NewReader(body))
			if err != nil {
				return
			}
			_ = resp.Body.Close()
			switch resp.StatusCode {
			case http.StatusOK:
				okCount.Add(1)
			case http.StatusTooManyRequests:
				rejected.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), okCount.Load())
	assert.Equal(t, int32(workers-1), rejected.Load())
	assert.Equal(t, int32(1), env.node.sends.Load())
}

func TestEligibilityReflectsClaim(t *testing.T) {
	env := newFaucetEnv(t, &fakeNode{})

	check := func() handlers.EligibilityResponse {
		resp, err := env.client.Get(env.url + "/api/eligibility?fingerprint=device-e")
		require.NoError(t, err)
		defer resp.Body.Close() // nolint:errcheck
		var out handlers.EligibilityResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}

	assert.True(t, check().Eligible)

	resp, _ := env.claim(t, "taddr1", goodToken, "device-e")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	after := check()
	assert.False(t, after.Eligible)
	require.NotNil(t, after.RetryAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *after.RetryAt, time.Minute)
}

func TestClaimMetricsExported(t *testing.T) {
	initMetricsOrSkip(t)
	env := newFaucetEnv(t, &fakeNode{})

	resp, _ := env.claim(t, "taddr1", goodToken, "device-m")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.claim(t, "taddr1", goodToken, "device-m")
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	metricsResp, err := env.client.Get(env.url + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close() // nolint:errcheck
	raw, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)

	content := string(raw)
	assert.Contains(t, content, "test_faucet_claims_total")
	assert.Contains(t, content, "test_http_requests_total")
}
