// Package main provides the compliance engine CLI entrypoint.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/app"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/compliance"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/config"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/extract"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/pipeline"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/storage"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	// Global flags
	cfgFile    string
	envFile    string
	outputJSON bool
	verbose    bool

	// Configuration and logger
	cfg    *config.Config
	logger *observability.Logger
)

var rootCmd = &cobra.Command{
	Use:   "compliance-cli",
	Short: "Match tender meter requirements to catalogue meters and check compliance",
	Long: `compliance-cli reads tender documents, extracts the meter requirements of each
clause, ranks candidate meters from the catalogue and knowledge base, and checks each
requirement against the selected meter's specification.

All commands support --json for automation.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logFormat := cfg.Observability.LogFormat
		if outputJSON {
			logFormat = "json"
		}
		level := cfg.Observability.LogLevel
		if verbose {
			level = "debug"
		} else if !outputJSON && level == "info" {
			// Keep the terminal for results; warnings still surface.
			level = "warn"
		}

		logger = observability.NewLogger(observability.LogConfig{
			Level:       level,
			Format:      logFormat,
			ServiceName: "compliance-cli",
		})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: defaults plus env vars)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newAnalyzeCmd())
	rootCmd.AddCommand(newExtractCmd())
	rootCmd.AddCommand(newRankCmd())
	rootCmd.AddCommand(newCompareCmd())
	rootCmd.AddCommand(newLookupCmd())
	rootCmd.AddCommand(newSchemaCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func buildServices(ctx context.Context, opts app.Options) (*app.Services, error) {
	s, err := app.Build(ctx, cfg, logger, opts)
	if err != nil {
		return nil, fmt.Errorf("initialise services: %w", err)
	}
	return s, nil
}

// readDocument reads path, or stdin when path is "-".
func readDocument(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", domain.IOError("read document", err)
	}
	return string(data), nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newAnalyzeCmd() *cobra.Command {
	var (
		clauses   []string
		overrides []string
	)

	cmd := &cobra.Command{
		Use:   "analyze <document>",
		Short: "Run extraction, ranking, lookup and comparison for a tender document",
		Long: `analyze processes a plain-text tender document end to end. Without --clauses the
meter-related sections are detected automatically. Use --override to force the meter used
for a clause, e.g. --override 7.2=PM5560.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			overrideMap, err := pipeline.ParseOverrides(overrides)
			if err != nil {
				return err
			}
			text, err := readDocument(args[0])
			if err != nil {
				return err
			}

			s, err := buildServices(ctx, app.Options{})
			if err != nil {
				return err
			}
			defer s.Close()

			ui := NewUI(outputJSON)
			result, err := s.Pipeline.Run(ctx, text, extract.ClauseSelector{Clauses: clauses}, pipeline.Options{
				Overrides: overrideMap,
				Progress:  ui.ClauseProgress(),
			})
			ui.Close()
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(result)
			}

			for _, f := range result.Failures {
				ui.Warning("clause %s skipped: %s", f.ClauseID, f.Error)
			}
			if len(result.Clauses) == 0 {
				ui.Warning("no meter requirements found")
				return nil
			}
			for _, c := range result.Clauses {
				ui.Clause(c)
			}
			ui.Section("summary")
			ui.KeyValue("run", result.RunID)
			ui.KeyValue("clauses", len(result.Clauses))
			ui.KeyValue("compliant", result.CompliantCount())
			ui.KeyValue("duration", FormatDuration(result.Duration))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&clauses, "clauses", nil, "clause ids to analyse (default: auto-detect)")
	cmd.Flags().StringArrayVar(&overrides, "override", nil, "force a meter for a clause, clause=model (repeatable)")
	return cmd
}

func newExtractCmd() *cobra.Command {
	var clauses []string

	cmd := &cobra.Command{
		Use:   "extract <document>",
		Short: "Extract meter requirements from a tender document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			text, err := readDocument(args[0])
			if err != nil {
				return err
			}
			s, err := buildServices(ctx, app.Options{SkipDatabase: true})
			if err != nil {
				return err
			}
			defer s.Close()

			ui := NewUI(outputJSON)
			stop := ui.Spinner("extracting requirements")
			requirements, failures, err := s.Extractor.Extract(ctx, text, extract.ClauseSelector{Clauses: clauses})
			stop()
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(struct {
					Requirements []domain.Requirement     `json:"requirements"`
					Failures     []extract.SectionFailure `json:"failures,omitempty"`
				}{requirements, failures})
			}
			for _, f := range failures {
				ui.Warning("%s", f.Error())
			}
			for _, r := range requirements {
				ui.Section(r.ClauseID + " " + r.Title)
				ui.KeyValue("meter type", r.MeterType)
				for _, spec := range r.Specifications {
					fmt.Printf("  - %s\n", spec)
				}
			}
			ui.Success("%d requirement(s) extracted", len(requirements))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&clauses, "clauses", nil, "clause ids to extract (default: auto-detect)")
	return cmd
}

func requirementFromFlags(clauseID, meterType string, specs []string) (domain.Requirement, error) {
	var cleaned []string
	for _, s := range specs {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	if len(cleaned) == 0 {
		return domain.Requirement{}, domain.ValidationError("at least one --spec is required", nil)
	}
	if meterType == "" {
		meterType = extract.DefaultMeterType
	}
	return domain.Requirement{ClauseID: clauseID, MeterType: meterType, Specifications: cleaned}, nil
}

func newRankCmd() *cobra.Command {
	var (
		clauseID  string
		meterType string
		specs     []string
	)

	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Rank candidate meters for a set of specifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			req, err := requirementFromFlags(clauseID, meterType, specs)
			if err != nil {
				return err
			}
			s, err := buildServices(ctx, app.Options{})
			if err != nil {
				return err
			}
			defer s.Close()

			ui := NewUI(outputJSON)
			stop := ui.Spinner("ranking candidates")
			matches, err := s.Ranker.Rank(ctx, req)
			stop()
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(matches)
			}
			if len(matches) == 0 {
				ui.Warning("no candidate meters found")
				return nil
			}
			ui.Section("matches")
			ui.Matches(matches)
			return nil
		},
	}

	cmd.Flags().StringVar(&clauseID, "clause", "cli", "clause id used in logs and prompts")
	cmd.Flags().StringVar(&meterType, "meter-type", "", "meter type (default: Power Meter)")
	cmd.Flags().StringArrayVar(&specs, "spec", nil, "requirement specification (repeatable)")
	return cmd
}

func newCompareCmd() *cobra.Command {
	var (
		model string
		specs []string
	)

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Check specifications against one meter model",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			if model == "" {
				return domain.ValidationError("--model is required", nil)
			}
			req, err := requirementFromFlags("cli", "", specs)
			if err != nil {
				return err
			}
			s, err := buildServices(ctx, app.Options{})
			if err != nil {
				return err
			}
			defer s.Close()

			ui := NewUI(outputJSON)
			spec, err := s.Store.Find(ctx, model)
			if err != nil {
				if outputJSON {
					return printJSON(domain.ErrorReport(model, err.Error()))
				}
				return err
			}

			stop := ui.Spinner("comparing " + model)
			report := s.Comparator.Compare(ctx, req.Specifications, spec, model)
			stop()

			if outputJSON {
				return printJSON(report)
			}
			ui.Section(model)
			ui.Report(&report)
			return nil
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "meter model number")
	cmd.Flags().StringArrayVar(&specs, "spec", nil, "requirement specification (repeatable)")
	return cmd
}

func newLookupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lookup <model>",
		Short: "Show the normalized specification of a meter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			s, err := buildServices(ctx, app.Options{})
			if err != nil {
				return err
			}
			defer s.Close()

			spec, err := s.Store.Find(ctx, args[0])
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(spec)
			}

			ui := NewUI(false)
			ui.Section(spec.ModelNumber)
			ui.KeyValue("source", spec.Source)
			if s.SQL != nil {
				if product, err := s.SQL.Product(ctx, args[0]); err == nil {
					ui.KeyValue("product id", product.ProductID)
				}
			}
			fmt.Println(compliance.RenderMeter(spec))
			return nil
		},
	}
	return cmd
}

func newSchemaCmd() *cobra.Command {
	var printOnly bool

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Create the relational catalogue schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if printOnly {
				for _, stmt := range storage.SchemaStatements() {
					fmt.Println(strings.TrimSpace(stmt) + ";")
				}
				return nil
			}

			ctx, cancel := signalContext()
			defer cancel()

			driver, dsn := cfg.DatabaseDSN()
			db, err := storage.OpenDB(ctx, driver, dsn)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := storage.EnsureSchema(ctx, db); err != nil {
				return err
			}
			NewUI(outputJSON).Success("schema ready (%s)", driver)
			return nil
		},
	}

	cmd.Flags().BoolVar(&printOnly, "print", false, "print the DDL instead of executing it")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputJSON {
				return printJSON(map[string]string{"version": version})
			}
			fmt.Println("compliance-cli", version)
			return nil
		},
	}
}
