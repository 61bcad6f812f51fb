package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/spigotlabs/spigot/internal/config"
	"github.com/spigotlabs/spigot/internal/core/captcha"
	"github.com/spigotlabs/spigot/internal/core/engine"
	"github.com/spigotlabs/spigot/internal/core/identity"
	"github.com/spigotlabs/spigot/internal/core/ledger"
	"github.com/spigotlabs/spigot/internal/core/payout"
	"github.com/spigotlabs/spigot/internal/core/stats"
	"github.com/spigotlabs/spigot/internal/core/store"
	"github.com/spigotlabs/spigot/internal/core/store/redisstore"
	"github.com/spigotlabs/spigot/internal/metrics"
	"github.com/spigotlabs/spigot/internal/observability"
)

// backend holds the limiter storage and payout accumulator picked by
// store.driver, plus whatever must be closed on shutdown.
type backend struct {
	driver  string
	limits  engine.LimitStore
	totals  stats.Accumulator
	db      *store.Store
	redis   *redisstore.Store
	pingers map[string]func(context.Context) error
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	b := &backend{driver: cfg.Store.Driver, pingers: map[string]func(context.Context) error{}}

	switch cfg.Store.Driver {
	case "", config.DriverMemory:
		b.driver = config.DriverMemory
		b.limits = engine.NewMemoryLimitStore()
		b.totals = stats.NewMemory()
	case config.DriverLibsql:
		db, err := openStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		b.db = db
		b.limits = db
		b.totals = db
		b.pingers["store"] = db.Ping
	case config.DriverRedis:
		rs, err := redisstore.New(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		b.redis = rs
		b.limits = rs
		b.totals = stats.NewMemory()
		b.pingers["redis"] = rs.Ping
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	return b, nil
}

func (b *backend) Close() error {
	var errs []error
	if b.db != nil {
		errs = append(errs, b.db.Close())
	}
	if b.redis != nil {
		errs = append(errs, b.redis.Close())
	}
	return errors.Join(errs...)
}

// openStore opens and migrates the libsql store.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	storeCfg := cfg.Store
	storeCfg.Driver = config.DriverLibsql
	db, err := store.Open(ctx, storeCfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func newNodeClient(cfg *config.Config) *ledger.Client {
	return &ledger.Client{
		URL:      cfg.Node.URL(),
		User:     cfg.Node.User,
		Password: cfg.Node.Password,
		Timeout:  cfg.Node.Timeout,
	}
}

// faucet is the fully wired claim pipeline.
type faucet struct {
	orchestrator *engine.Orchestrator
	limiter      *engine.ClaimLimiter
	resolver     identity.Resolver
	node         *ledger.Client
	backend      *backend
}

func buildFaucet(ctx context.Context, cfg *config.Config) (*faucet, error) {
	resolver, err := identity.New(cfg.Faucet.IdentityStrategy, cfg.Faucet.RequireFingerprint)
	if err != nil {
		return nil, err
	}

	node := newNodeClient(cfg)
	dispatcher, err := payout.New(node, cfg.Faucet.Amount)
	if err != nil {
		return nil, err
	}

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	limiter, err := engine.NewClaimLimiter(b.limits, cfg.Faucet.Window)
	if err != nil {
		_ = b.Close()
		return nil, err
	}

	verifier := &captcha.Verifier{
		VerifyURL: cfg.Captcha.VerifyURL,
		Secret:    cfg.Captcha.Secret,
		Timeout:   cfg.Captcha.Timeout,
	}

	orch := &engine.Orchestrator{
		Resolver:        resolver,
		Verifier:        instrumentedVerifier{next: verifier},
		Limiter:         limiter,
		Dispatcher:      instrumentedDispatcher{next: dispatcher},
		Stats:           b.totals,
		VerifyTimeout:   cfg.Captcha.Timeout,
		DispatchTimeout: cfg.Node.Timeout,
	}
	if err := orch.Validate(); err != nil {
		_ = b.Close()
		return nil, err
	}

	return &faucet{
		orchestrator: orch,
		limiter:      limiter,
		resolver:     resolver,
		node:         node,
		backend:      b,
	}, nil
}

// drainAndClose waits up to timeout for claims past reservation to finish
// their bookkeeping, then closes the backend. It returns the number of claims
// still in flight when the wait gave up.
func (f *faucet) drainAndClose(ctx context.Context, timeout time.Duration) (int, error) {
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	pending := 0
	if err := f.orchestrator.Drain(drainCtx); err != nil {
		pending = f.orchestrator.InFlight()
	}
	return pending, f.backend.Close()
}

// runJanitor sweeps expired limiter entries until ctx is done.
func (f *faucet) runJanitor(ctx context.Context, interval time.Duration) {
	f.limiter.RunJanitor(ctx, interval, func(removed int, err error) {
		if err != nil {
			if observability.ServerLogger != nil {
				observability.ServerLogger.Warn("Limiter sweep failed", zap.Error(err))
			}
			return
		}
		metrics.RecordSweep(removed)
		if removed > 0 && observability.ServerLogger != nil {
			observability.ServerLogger.Debug("Limiter sweep", zap.Int("removed", removed))
		}
	})
}

type instrumentedVerifier struct {
	next engine.Verifier
}

func (v instrumentedVerifier) Verify(ctx context.Context, token string) error {
	start := time.Now()
	err := v.next.Verify(ctx, token)

	outcome := "accepted"
	if err != nil {
		outcome = "unavailable"
		if captcha.IsRejected(err) {
			outcome = "rejected"
		}
	}
	metrics.RecordVerification(outcome, time.Since(start))
	return err
}

type instrumentedDispatcher struct {
	next engine.Dispatcher
}

func (d instrumentedDispatcher) Dispatch(ctx context.Context, address string) (string, error) {
	start := time.Now()
	txid, err := d.next.Dispatch(ctx, address)
	metrics.RecordDispatch(err == nil, time.Since(start))
	return txid, err
}

func (d instrumentedDispatcher) PayoutAmount() decimal.Decimal {
	return d.next.PayoutAmount()
}
