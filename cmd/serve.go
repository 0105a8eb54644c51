package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-alerts/internal/crm"
	"github.com/sells-group/lead-alerts/internal/derive"
	"github.com/sells-group/lead-alerts/internal/dispatch"
	"github.com/sells-group/lead-alerts/internal/engine"
	"github.com/sells-group/lead-alerts/internal/gateway"
	"github.com/sells-group/lead-alerts/internal/health"
	"github.com/sells-group/lead-alerts/internal/history"
	"github.com/sells-group/lead-alerts/internal/lifecycle"
	"github.com/sells-group/lead-alerts/internal/model"
	"github.com/sells-group/lead-alerts/internal/query"
	"github.com/sells-group/lead-alerts/internal/resilience"
	"github.com/sells-group/lead-alerts/internal/rules"
	"github.com/sells-group/lead-alerts/internal/store"
	"github.com/sells-group/lead-alerts/internal/telemetry"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the alerting engine and HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		ruleStore, err := rules.NewFileStore(cfg.Rules.Path)
		if err != nil {
			return err
		}

		channels, err := dispatch.BuildChannels(cfg.Dispatch.Channels)
		if err != nil {
			return err
		}

		metrics := telemetry.New()
		retention := time.Duration(cfg.Engine.RetentionHours) * time.Hour

		lc := lifecycle.NewManager(
			lifecycle.WithRetention(retention),
			lifecycle.WithListener(engine.PersistTransitions(st)),
		)
		defer lc.Close()

		fanout := dispatch.NewFanout(st, channels, cfg.Dispatch.MaxAttempts)
		lc.Subscribe(fanout.OnTransition)
		lc.Subscribe(func(t lifecycle.Transition) {
			if t.Kind == lifecycle.TransitionCreated {
				metrics.AlertRaised(string(t.Alert.Type), string(t.Alert.Severity))
			}
		})

		ladder := model.SeverityLadder{
			CriticalMultiple: cfg.Engine.Ladder.CriticalMultiple,
			HighMultiple:     cfg.Engine.Ladder.HighMultiple,
			MediumMultiple:   cfg.Engine.Ladder.MediumMultiple,
		}
		ruleEng := rules.NewEngine(ruleStore, lc, rules.Config{
			Ladder:                ladder,
			SignificanceThreshold: cfg.Engine.SignificanceThreshold,
		})

		hist := history.New(history.WithWindow(time.Duration(cfg.Engine.HistoryWindowHours) * time.Hour))

		deriveCfg := derive.Config{
			HighValueThreshold: cfg.Engine.HighValueThreshold,
			StaleLeadDays:      cfg.Engine.StaleLeadDays,
		}
		eng := engine.New(hist, ruleEng, lc, st, engine.Config{
			Derive:    deriveCfg,
			Drift:     derive.DriftConfig{Threshold: cfg.Health.DriftThreshold, Ladder: ladder},
			Retention: retention,
		})
		if err := eng.Restore(ctx); err != nil {
			return err
		}

		gw := gateway.New(eng, gateway.Options{
			Shards:     cfg.Engine.Shards,
			QueueDepth: cfg.Engine.QueueDepth,
		})
		gw.SetMetrics(metrics)

		disp := dispatch.NewDispatcher(st, lc, channels, dispatch.Options{
			Workers:       cfg.Dispatch.Workers,
			RatePerSecond: cfg.Dispatch.RatePerSecond,
			Retry: resilience.RetryConfig{
				MaxAttempts:    cfg.Dispatch.MaxAttempts,
				InitialBackoff: cfg.Dispatch.InitialBackoff,
				MaxBackoff:     cfg.Dispatch.MaxBackoff,
			},
		})
		disp.SetMetrics(metrics)

		registry := health.NewRegistry()
		checker := health.NewChecker(registry, eng, time.Duration(cfg.Health.CheckIntervalSecs)*time.Second)

		a := &api{
			gw:          gw,
			lifecycle:   lc,
			facade:      query.New(lc, hist, eng, deriveCfg),
			rules:       ruleStore,
			registry:    registry,
			metrics:     metrics,
			trendWindow: time.Duration(cfg.Engine.HistoryWindowHours) * time.Hour,
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: a.router(),
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return gw.Run(gctx) })
		g.Go(func() error { return disp.Run(gctx) })
		g.Go(func() error {
			checker.Run(gctx)
			return nil
		})
		g.Go(func() error { return eng.RunGC(gctx) })
		g.Go(func() error {
			return runMaintenance(gctx, eng, lc, st, cfg.Dispatch.MaxBackoff, metrics)
		})

		if cfg.Salesforce.ClientID != "" {
			sfClient, err := initSalesforce()
			if err != nil {
				return err
			}
			syncer := crm.NewSyncer(sfClient, gw, crm.Options{
				Interval: time.Duration(cfg.Salesforce.SyncIntervalSecs) * time.Second,
			})
			g.Go(func() error { return syncer.Run(gctx) })
		}

		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

// runMaintenance owns the periodic lead sweep and gauge refresh; the
// retention sweep runs on its own interval via eng.RunGC.
func runMaintenance(ctx context.Context, eng *engine.Engine, lc *lifecycle.Manager, st store.Store, maxBackoff time.Duration, metrics *telemetry.Metrics) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			res := eng.SweepLeads(ctx)
			if len(res.Emitted) > 0 {
				zap.L().Info("lead sweep raised alerts", zap.Int("count", len(res.Emitted)))
			}

			open := 0
			for _, a := range lc.List() {
				if a.State != model.AlertResolved {
					open++
				}
			}
			metrics.SetOpenAlerts(open)

			// Pending entries include those still backing off, so look
			// ahead by the maximum backoff when counting depth.
			entries, err := st.DueOutbox(ctx, time.Now().UTC().Add(maxBackoff), 10000)
			if err == nil {
				metrics.SetOutboxDepth(len(entries))
			}
		}
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
