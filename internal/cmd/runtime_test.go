package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigotlabs/spigot/internal/config"
	"github.com/spigotlabs/spigot/internal/core"
	"github.com/spigotlabs/spigot/internal/core/engine"
	"github.com/spigotlabs/spigot/internal/core/identity"
	"github.com/spigotlabs/spigot/internal/metrics"
	"github.com/spigotlabs/spigot/internal/observability"
)

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })

	return collector
}

func testConfig() *config.Config {
	return &config.Config{
		Faucet: config.FaucetConfig{
			Amount:             decimal.RequireFromString("100"),
			Window:             time.Hour,
			IdentityStrategy:   identity.StrategyFingerprint,
			RequireFingerprint: true,
		},
		Captcha: config.CaptchaConfig{Secret: "secret", Timeout: time.Second},
		Node:    config.NodeConfig{Host: "127.0.0.1", Port: 18332, User: "u", Password: "p", Timeout: time.Second},
		Store:   config.StoreConfig{Driver: config.DriverMemory},
	}
}

func TestOpenBackendMemory(t *testing.T) {
	b, err := openBackend(context.Background(), testConfig())
	require.NoError(t, err)
	defer b.Close() // nolint:errcheck

	assert.Equal(t, config.DriverMemory, b.driver)
	assert.IsType(t, &engine.MemoryLimitStore{}, b.limits)
	assert.NotNil(t, b.totals)
	assert.Empty(t, b.pingers)
}

func TestOpenBackendRejectsUnknownDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Driver = "etcd"

	_, err := openBackend(context.Background(), cfg)
	require.Error(t, err)
}

func TestBuildFaucetWiresPipeline(t *testing.T) {
	fc, err := buildFaucet(context.Background(), testConfig())
	require.NoError(t, err)
	defer fc.backend.Close() // nolint:errcheck

	require.NoError(t, fc.orchestrator.Validate())
	assert.Equal(t, identity.StrategyFingerprint, fc.resolver.Name())
	assert.Equal(t, "http://127.0.0.1:18332/", fc.node.URL)
	assert.True(t, decimal.RequireFromString("100").Equal(fc.orchestrator.Dispatcher.PayoutAmount()))
}

func TestBuildFaucetRejectsUnknownStrategy(t *testing.T) {
	cfg := testConfig()
	cfg.Faucet.IdentityStrategy = "cookie"

	_, err := buildFaucet(context.Background(), cfg)
	require.Error(t, err)
}

type verifierFunc func(context.Context, string) error

func (f verifierFunc) Verify(ctx context.Context, token string) error { return f(ctx, token) }

func TestInstrumentedVerifierRecordsOutcome(t *testing.T) {
	collector := setupTelemetry(t)

	rejected := instrumentedVerifier{next: verifierFunc(func(context.Context, string) error {
		return &core.VerificationRejectedError{}
	})}
	err := rejected.Verify(context.Background(), "tok")
	require.ErrorIs(t, err, core.ErrVerificationRejected)

	accepted := instrumentedVerifier{next: verifierFunc(func(context.Context, string) error { return nil })}
	require.NoError(t, accepted.Verify(context.Background(), "tok"))

	assert.Equal(t, 2, collector.CountMetricsByName(metrics.VerificationsTotal))
}

type failingDispatcher struct{}

func (failingDispatcher) Dispatch(context.Context, string) (string, error) {
	return "", errors.New("node down")
}

func (failingDispatcher) PayoutAmount() decimal.Decimal { return decimal.RequireFromString("1") }

func TestInstrumentedDispatcherRecordsFailure(t *testing.T) {
	collector := setupTelemetry(t)

	d := instrumentedDispatcher{next: failingDispatcher{}}
	_, err := d.Dispatch(context.Background(), "addr")
	require.Error(t, err)
	assert.True(t, decimal.RequireFromString("1").Equal(d.PayoutAmount()))

	assert.Equal(t, 1, collector.CountMetricsByName(metrics.DispatchesTotal))
}

type heldDispatcher struct {
	started chan struct{}
	release chan struct{}
}

func (d heldDispatcher) Dispatch(context.Context, string) (string, error) {
	close(d.started)
	<-d.release
	return "tx-held", nil
}

func (heldDispatcher) PayoutAmount() decimal.Decimal { return decimal.RequireFromString("100") }

func TestDrainAndCloseWaitsForPayoutBookkeeping(t *testing.T) {
	fc, err := buildFaucet(context.Background(), testConfig())
	require.NoError(t, err)

	held := heldDispatcher{started: make(chan struct{}), release: make(chan struct{})}
	fc.orchestrator.Verifier = verifierFunc(func(context.Context, string) error { return nil })
	fc.orchestrator.Dispatcher = held

	done := make(chan error, 1)
	go func() {
		_, err := fc.orchestrator.Claim(context.Background(), core.ClaimRequest{
			Address: "TAddr", Token: "human", Fingerprint: "device-1",
		})
		done <- err
	}()
	<-held.started

	pending, err := fc.drainAndClose(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	close(held.release)
	require.NoError(t, <-done)

	pending, err = fc.drainAndClose(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Zero(t, pending)

	snap, err := fc.backend.totals.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Payouts)
}

func TestConfigShowMasksSecrets(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Reset()
	config.SetDefaults(viper.GetViper())
	viper.Set("captcha.secret", "hcaptcha-secret-value")
	viper.Set("node.password", "rpc-password-value")

	var out bytes.Buffer
	configShowCmd.SetOut(&out)
	configShowCmd.SetErr(&bytes.Buffer{})
	t.Cleanup(func() {
		configShowCmd.SetOut(nil)
		configShowCmd.SetErr(nil)
	})

	require.NoError(t, configShowCmd.RunE(configShowCmd, nil))

	rendered := out.String()
	assert.NotContains(t, rendered, "hcaptcha-secret-value")
	assert.NotContains(t, rendered, "rpc-password-value")
	assert.Contains(t, rendered, "********")
	assert.Contains(t, rendered, "amount: \"100\"")
}

func TestLimitsResetRequiresSelector(t *testing.T) {
	limitsResetAll, limitsResetIdentity, limitsResetPrefix = false, "", ""
	err := limitsResetCmd.RunE(limitsResetCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--all")
}

func TestLimitsResetAllNeedsConfirmation(t *testing.T) {
	limitsResetAll = true
	limitsResetYes, limitsResetDryRun = false, false
	t.Cleanup(func() { limitsResetAll = false })

	err := limitsResetCmd.RunE(limitsResetCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
}
