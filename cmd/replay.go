package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-alerts/internal/derive"
	"github.com/sells-group/lead-alerts/internal/engine"
	"github.com/sells-group/lead-alerts/internal/gateway"
	"github.com/sells-group/lead-alerts/internal/history"
	"github.com/sells-group/lead-alerts/internal/lifecycle"
	"github.com/sells-group/lead-alerts/internal/model"
	"github.com/sells-group/lead-alerts/internal/rules"
	"github.com/sells-group/lead-alerts/internal/store"
)

var replayCmd = &cobra.Command{
	Use:   "replay <events.jsonl>",
	Short: "Replay a JSON-lines event file through the engine",
	Long:  "Feeds recorded events through the full evaluation path in file order. Useful for backfills and for reproducing alert behavior from captured traffic.",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dryRun, _ := cmd.Flags().GetBool("dry-run")

	var st store.Store
	if !dryRun {
		var err error
		if st, err = initStore(ctx); err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}
	}

	ruleStore, err := rules.NewFileStore(cfg.Rules.Path)
	if err != nil {
		return err
	}

	opts := []lifecycle.Option{
		lifecycle.WithRetention(time.Duration(cfg.Engine.RetentionHours) * time.Hour),
	}
	if st != nil {
		opts = append(opts, lifecycle.WithListener(engine.PersistTransitions(st)))
	}

	raised := map[model.AlertType]int{}
	opts = append(opts, lifecycle.WithListener(func(t lifecycle.Transition) {
		if t.Kind == lifecycle.TransitionCreated {
			raised[t.Alert.Type]++
		}
	}))

	lc := lifecycle.NewManager(opts...)
	defer lc.Close()

	ladder := model.SeverityLadder{
		CriticalMultiple: cfg.Engine.Ladder.CriticalMultiple,
		HighMultiple:     cfg.Engine.Ladder.HighMultiple,
		MediumMultiple:   cfg.Engine.Ladder.MediumMultiple,
	}
	eng := engine.New(
		history.New(history.WithWindow(time.Duration(cfg.Engine.HistoryWindowHours)*time.Hour)),
		rules.NewEngine(ruleStore, lc, rules.Config{
			Ladder:                ladder,
			SignificanceThreshold: cfg.Engine.SignificanceThreshold,
		}),
		lc,
		st,
		engine.Config{
			Derive: derive.Config{
				HighValueThreshold: cfg.Engine.HighValueThreshold,
				StaleLeadDays:      cfg.Engine.StaleLeadDays,
			},
			Drift: derive.DriftConfig{Threshold: cfg.Health.DriftThreshold, Ladder: ladder},
		},
	)

	f, err := os.Open(args[0])
	if err != nil {
		return eris.Wrapf(err, "open %s", args[0])
	}
	defer f.Close() //nolint:errcheck

	log := zap.L().With(zap.String("command", "replay"))

	var processed, dropped, invalid, failed int
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventBytes)

	for lineNo := 1; scanner.Scan(); lineNo++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		ev, err := gateway.Parse(line, time.Now().UTC())
		if err != nil {
			var unknown *gateway.ErrUnknownType
			if errors.As(err, &unknown) {
				dropped++
				continue
			}
			invalid++
			log.Warn("invalid event", zap.Int("line", lineNo), zap.Error(err))
			continue
		}

		// Lines are handled in file order, so per-entity ordering holds
		// without the sharded worker pool.
		if err := eng.Handle(ctx, ev); err != nil {
			failed++
			log.Warn("handle event", zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		processed++
	}
	if err := scanner.Err(); err != nil {
		return eris.Wrap(err, "read events")
	}

	fmt.Printf("Processed %d events (%d unknown type, %d invalid, %d failed)\n",
		processed, dropped, invalid, failed)
	if len(raised) > 0 {
		fmt.Println("Alerts raised:")
		for typ, n := range raised {
			fmt.Printf("  %-24s %d\n", typ, n)
		}
	}
	return nil
}

func init() {
	replayCmd.Flags().Bool("dry-run", false, "evaluate without persisting alerts or score points")
	rootCmd.AddCommand(replayCmd)
}
