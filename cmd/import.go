package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-alerts/internal/model"
	"github.com/sells-group/lead-alerts/internal/store"
)

var importCmd = &cobra.Command{
	Use:   "import-scores <points.jsonl>",
	Short: "Bulk-load historical score points into the store",
	Long: `Reads a JSON-lines file of score history points and loads them into the
store without running alert evaluation. One object per line:

  {"leadId":"lead-1","timestamp":"2026-01-05T10:00:00Z","score":0.72,"confidence":0.9}

Against Postgres the load is batched through COPY; --fast skips conflict
handling and fails on duplicate (leadId, timestamp) pairs.`,
	Args: cobra.ExactArgs(1),
	RunE: runImportScores,
}

type scorePointLine struct {
	LeadID string `json:"leadId"`
	model.ScoreHistoryPoint
}

func runImportScores(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	batchSize, _ := cmd.Flags().GetInt("batch-size")
	fast, _ := cmd.Flags().GetBool("fast")
	if batchSize <= 0 {
		batchSize = 5000
	}

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	f, err := os.Open(args[0])
	if err != nil {
		return eris.Wrapf(err, "open %s", args[0])
	}
	defer f.Close() //nolint:errcheck

	log := zap.L().With(zap.String("command", "import-scores"))
	pg, _ := st.(*store.PostgresStore)

	var imported int64
	var skipped int
	var batch []store.ScorePointRecord

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		var n int64
		var err error
		if fast {
			n, err = pg.BulkAppendScorePoints(ctx, batch)
		} else {
			n, err = pg.BulkUpsertScorePoints(ctx, batch)
		}
		if err != nil {
			return err
		}
		imported += n
		batch = batch[:0]
		return nil
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventBytes)

	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec scorePointLine
		if err := json.Unmarshal(line, &rec); err != nil {
			skipped++
			log.Warn("invalid line", zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		if rec.LeadID == "" || rec.Timestamp.IsZero() {
			skipped++
			log.Warn("missing leadId or timestamp", zap.Int("line", lineNo))
			continue
		}
		if rec.Score > 1 && rec.Score <= 100 {
			rec.Score /= 100
		}
		if rec.Score < 0 || rec.Score > 1 {
			skipped++
			log.Warn("score out of range", zap.Int("line", lineNo), zap.Float64("score", rec.Score))
			continue
		}

		if pg == nil {
			if err := st.AppendScorePoint(ctx, rec.LeadID, rec.ScoreHistoryPoint); err != nil {
				return eris.Wrapf(err, "append line %d", lineNo)
			}
			imported++
			continue
		}

		batch = append(batch, store.ScorePointRecord{LeadID: rec.LeadID, Point: rec.ScoreHistoryPoint})
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return eris.Wrap(err, "read points")
	}
	if pg != nil {
		if err := flush(); err != nil {
			return err
		}
	}

	fmt.Printf("Imported %d score points (%d skipped)\n", imported, skipped)
	return nil
}

func init() {
	importCmd.Flags().Int("batch-size", 5000, "rows per COPY batch (postgres only)")
	importCmd.Flags().Bool("fast", false, "COPY without duplicate handling (postgres only)")
	rootCmd.AddCommand(importCmd)
}
