package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kbest/internal/config"
	"kbest/internal/logging"
	"kbest/internal/pipeline"
	"kbest/internal/storage"
)

var (
	rootCmd = &cobra.Command{
		Use:   "kbest",
		Short: "Extract k-best and metric-selected derivations from packed forests",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := logging.New(logLevel, devLog)
			if err != nil {
				return err
			}
			logger = l
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
		SilenceUsage: true,
	}

	dbPath     string
	configPath string
	logLevel   string
	devLog     bool

	logger = zap.NewNop()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "kbest.db", "Path to the result database (SQLite)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&devLog, "dev", false, "Human-readable development logging")

	runCmd.Flags().StringVarP(&configPath, "config", "c", "kbest.yaml", "Run configuration (YAML or JSON)")
	runCmd.Flags().Int("first", 0, "First sentence to process")
	runCmd.Flags().Int("last", 0, "Last sentence to process")
	runCmd.Flags().Int("workers", 0, "Number of sentences processed in parallel")
	runCmd.Flags().String("report", "", "Where to write the run report JSON")
	runCmd.Flags().Bool("no-db", false, "Do not record results in the database")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(ruleStatCmd)
	rootCmd.AddCommand(runsCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every configured filter over the sentences of a model directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := applyRunFlags(cmd, cfg); err != nil {
			return err
		}
		if !cmd.Flags().Changed("log-level") && cfg.LogLevel != logLevel {
			l, err := logging.New(cfg.LogLevel, devLog)
			if err != nil {
				return err
			}
			logger = l
		}

		var store storage.Store
		if noDB, _ := cmd.Flags().GetBool("no-db"); !noDB {
			path := cfg.DB
			if cmd.Flags().Changed("db") || path == "" {
				path = dbPath
			}
			s, err := storage.NewSQLiteStore(path)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer s.Close()
			store = s
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		runner := pipeline.NewRunner(cfg, store, logger)
		if path, _ := cmd.Flags().GetString("report"); path != "" {
			runner.ReportPath = path
		}

		start := time.Now()
		res, err := runner.Run(ctx)
		if err != nil {
			return err
		}

		s := res.Report.Summary
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "run %s finished in %v\n", res.Run.ID, time.Since(start).Round(time.Millisecond))
		if s.FirstSentence != nil {
			fmt.Fprintf(out, "First processed sentence: %d\n", *s.FirstSentence)
			fmt.Fprintf(out, "Last processed sentence: %d\n", *s.LastSentence)
		}
		fmt.Fprintf(out, "Number of sentences: %d\n", s.Sentences)
		fmt.Fprintf(out, "Sum of score disorders: %d\n", s.SumDisorders)
		fmt.Fprintf(out, "Average score disorders: %g\n", s.AvgDisorders)
		for _, f := range s.Filters {
			if f.MeanMetric != nil {
				fmt.Fprintf(out, "Filter %s: mean metric %.4f over %d sentences (%d undefined)\n",
					f.Name, *f.MeanMetric, f.Sentences-f.Undefined, f.Undefined)
			}
		}
		fmt.Fprintf(out, "Report: %s\n", runner.ReportPath)
		return nil
	},
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("first") {
		v, _ := flags.GetInt("first")
		cfg.First = &v
	}
	if flags.Changed("last") {
		v, _ := flags.GetInt("last")
		cfg.Last = &v
	}
	if flags.Changed("workers") {
		cfg.Workers, _ = flags.GetInt("workers")
	}
	return cfg.Validate()
}

var ruleStatCmd = &cobra.Command{
	Use:   "rulestat [run-id]",
	Short: "Print rule usage per filter as TSV (latest run by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, err := storage.NewSQLiteStore(dbPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer store.Close()

		runID := ""
		if len(args) > 0 {
			runID = args[0]
		} else {
			runs, err := store.ListRuns(ctx)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				return fmt.Errorf("no runs recorded in %s", dbPath)
			}
			runID = runs[0].ID
		}

		stats, err := store.RuleStats(ctx, runID)
		if err != nil {
			return err
		}
		logger.Debug("rule statistics", zap.String("run", runID), zap.Int("rows", len(stats)))

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "filter\trule\tlhs\tcount\tpercent\tlhs_percent\tweight\ttext")
		for _, st := range stats {
			fmt.Fprintf(out, "%s\t%d\t%s\t%d\t%.2f\t%.2f\t%.2f\t%s\n",
				st.Filter, st.RuleID, st.LHS, st.Count, st.Percent, st.LHSPercent, st.Weight, st.Text)
		}
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storage.NewSQLiteStore(dbPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer store.Close()

		runs, err := store.ListRuns(context.Background())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "id\tstarted\tfinished\tmodel_dir\tsentences\tdisorders")
		for _, r := range runs {
			finished := "-"
			if !r.FinishedAt.IsZero() {
				finished = r.FinishedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%d\t%d\n",
				r.ID, r.StartedAt.Format(time.RFC3339), finished, r.ModelDir, r.Sentences, r.Disorders)
		}
		return nil
	},
}
