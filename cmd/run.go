package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yamakatsunamamugi/autoai/internal/driver"
	"github.com/yamakatsunamamugi/autoai/internal/driver/anthropicdrv"
	"github.com/yamakatsunamamugi/autoai/internal/intake"
	"github.com/yamakatsunamamugi/autoai/internal/model"
	"github.com/yamakatsunamamugi/autoai/internal/scheduler"
	"github.com/yamakatsunamamugi/autoai/internal/sink"
)

var (
	runWorkbook string
	runSheet    string
	runDry      bool
)

// env bundles the store and scheduler a command operates on.
type env struct {
	Store *sink.SQLiteStore
	Sched *scheduler.Scheduler
}

func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}

// initEnv opens the store, runs migrations and builds the scheduler with
// every configured backend driver registered.
func initEnv(ctx context.Context) (*env, error) {
	st, err := sink.NewSQLite(cfg.Store.Path)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	reg := driver.NewRegistry()
	reg.Register(anthropicdrv.New(anthropicdrv.Config{
		APIKey:        cfg.Anthropic.Key,
		Models:        cfg.Anthropic.Models,
		Functions:     cfg.Anthropic.Functions,
		MaxTokens:     int64(cfg.Anthropic.MaxTokens),
		SubmitTimeout: time.Duration(cfg.Anthropic.SubmitTimeoutSecs) * time.Second,
		RPS:           cfg.Anthropic.RPS,
	}), anthropicdrv.Binder{})

	sched := scheduler.New(scheduler.Config{
		BatchSize:    cfg.Scheduler.BatchSize,
		SlotCount:    cfg.Scheduler.SlotCount,
		MaxAttempts:  cfg.Scheduler.MaxAttempts,
		Backoff:      cfg.Scheduler.Backoff(),
		Stagger:      time.Duration(cfg.Scheduler.StaggerSecs) * time.Second,
		SetupRetries: cfg.Scheduler.SetupRetries,
		SourceURL:    cfg.Sheet.SourceURL,
	}, reg, st)

	return &env{Store: st, Sched: sched}, nil
}

// loadChannels reads the workbook and groups its rows into per-backend
// channels.
func loadChannels() ([]model.Channel, error) {
	workbook := runWorkbook
	if workbook == "" {
		workbook = cfg.Sheet.Workbook
	}
	if workbook == "" {
		return nil, eris.New("no workbook given (flag --workbook or sheet.workbook)")
	}
	sheet := runSheet
	if sheet == "" {
		sheet = cfg.Sheet.Sheet
	}

	rows, err := intake.LoadWorkbook(workbook, sheet)
	if err != nil {
		return nil, eris.Wrap(err, "load workbook")
	}
	tasks, err := intake.ExpandRows(rows)
	if err != nil {
		return nil, eris.Wrap(err, "expand rows")
	}
	return intake.GroupChannels(tasks), nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process every workbook row through its AI backends",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		channels, err := loadChannels()
		if err != nil {
			return err
		}

		if runDry {
			plan := make([]map[string]any, 0)
			for _, ch := range channels {
				for _, t := range ch.Tasks {
					plan = append(plan, map[string]any{
						"channel":  t.Channel,
						"row":      t.Row,
						"model":    t.ModelKey,
						"function": t.FunctionKey,
					})
				}
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(plan)
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		runID, err := e.Store.CreateRun(ctx)
		if err != nil {
			return eris.Wrap(err, "create run")
		}
		zap.L().Info("run created", zap.String("run_id", runID))

		summary, err := e.Sched.Run(ctx, channels)
		if err != nil {
			return eris.Wrap(err, "scheduler run")
		}

		if err := e.Store.FinishRun(ctx, runID, summary); err != nil {
			zap.L().Warn("finish run record failed", zap.Error(err))
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	runCmd.Flags().StringVar(&runWorkbook, "workbook", "", "workbook path (default from config)")
	runCmd.Flags().StringVar(&runSheet, "sheet", "", "sheet name (default first sheet)")
	runCmd.Flags().BoolVar(&runDry, "dry-run", false, "print the planned tasks without contacting any backend")
	rootCmd.AddCommand(runCmd)
}
