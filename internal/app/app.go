// Package app assembles the engine from configuration and runs it.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"fleetwarden/internal/activity"
	"fleetwarden/internal/auth"
	"fleetwarden/internal/config"
	"fleetwarden/internal/dispatch"
	"fleetwarden/internal/health"
	"fleetwarden/internal/hub"
	"fleetwarden/internal/ratelimit"
	"fleetwarden/internal/registry"
	"fleetwarden/internal/sender"
	"fleetwarden/internal/server"
	"fleetwarden/internal/stats"
	"fleetwarden/internal/warmup"
)

type App struct {
	Config config.Config
	Policy config.Policy
	Log    zerolog.Logger

	Registry   *registry.Registry
	Detector   *ratelimit.Detector
	Warmup     *warmup.Scheduler
	Runner     *warmup.Runner
	Dispatcher *dispatch.Dispatcher
	Activity   activity.Store
	Hub        *hub.Hub
	Stats      *stats.Service
	Router     http.Handler
}

func TokenConfig(cfg config.Config) auth.TokenConfig {
	tc := auth.DefaultTokenConfig(cfg.MasterSecret)
	tc.Expiry = cfg.TokenExpiry
	return tc
}

// New wires every component. snd is the platform client; when it can also
// join groups it is used for manual warmup joins.
func New(ctx context.Context, cfg config.Config, policy config.Policy, snd sender.Sender, log zerolog.Logger, version string) (*App, error) {
	var store activity.Store
	if cfg.ActivityDB != "" {
		sq, err := activity.OpenSQLite(ctx, cfg.ActivityDB)
		if err != nil {
			return nil, err
		}
		store = sq
	} else {
		store = activity.NewMemoryStore(500)
	}

	reg := registry.NewWithOptions(registry.Options{
		StateFile: cfg.AccountsStateFile,
		Scorer:    health.NewScorer(policy.Health),
		Logger:    log,
	})
	det := ratelimit.NewDetector(policy.RateLimit)
	sched := warmup.New(reg, det, policy.Warmup, log)
	rec := activity.NewRecorder(store, log)
	h := hub.New()

	reg.Subscribe(sched.OnChange)
	reg.Subscribe(rec.OnChange)
	reg.Subscribe(h.OnAccountChange)

	d := dispatch.New(dispatch.Config{
		Workers:            cfg.DispatchWorkers,
		SendTimeout:        cfg.SendTimeout,
		MessagesPerAccount: cfg.MessagesPerAccount,
	}, dispatch.Deps{
		Accounts: reg,
		Limiter:  det,
		Proxies:  ratelimit.NewProxyLimiter(cfg.ProxyRatePerSec, cfg.ProxyBurst),
		Sender:   snd,
		Activity: rec,
		Logger:   log,
	})
	d.Observe(h.OnSession)

	joiner, _ := snd.(sender.GroupJoiner)
	runner := warmup.NewRunner(sched, d, joiner, log)
	st := stats.New(reg, d)

	gin.SetMode(cfg.GinMode)
	router := server.NewRouter(server.Deps{
		Registry:    reg,
		Warmup:      sched,
		Detector:    det,
		Dispatcher:  d,
		Activity:    store,
		Stats:       st,
		Hub:         h,
		TokenConfig: TokenConfig(cfg),
		Logger:      log,
		Version:     version,
	})

	return &App{
		Config:     cfg,
		Policy:     policy,
		Log:        log,
		Registry:   reg,
		Detector:   det,
		Warmup:     sched,
		Runner:     runner,
		Dispatcher: d,
		Activity:   store,
		Hub:        h,
		Stats:      st,
		Router:     router,
	}, nil
}

// Run starts the warmup runner and serves HTTP until ctx is cancelled, then
// stops the runner, drains running broadcasts and closes the activity store.
func (a *App) Run(ctx context.Context) error {
	if err := a.Runner.Start(ctx); err != nil {
		return err
	}
	serveErr := server.Run(ctx, a.Config, a.Router, a.Log)

	a.Runner.Stop()
	drainCtx, cancel := context.WithTimeout(context.Background(), a.Config.SendTimeout+5*time.Second)
	defer cancel()
	drainErr := a.Dispatcher.Shutdown(drainCtx)
	if drainErr != nil {
		a.Log.Warn().Err(drainErr).Msg("broadcasts did not drain before shutdown")
	}
	closeErr := a.Activity.Close()
	return errors.Join(serveErr, drainErr, closeErr)
}
