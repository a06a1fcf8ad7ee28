package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/qualys/accessgraph/internal/analyzer"
	"github.com/qualys/accessgraph/internal/api"
	"github.com/qualys/accessgraph/internal/classifier"
	"github.com/qualys/accessgraph/internal/config"
	"github.com/qualys/accessgraph/internal/graph"
	"github.com/qualys/accessgraph/internal/importer"
	"github.com/qualys/accessgraph/internal/models"
	"github.com/qualys/accessgraph/internal/reports"
	"github.com/qualys/accessgraph/internal/scheduler"
	"github.com/qualys/accessgraph/internal/source"
	"github.com/qualys/accessgraph/internal/store"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: accessgraph [-config path] <command> [flags]

Commands:
  reset              delete all vertices and edges from the graph store
  import [-clean]    load vertex/edge records from the configured source
  analyze [-user X]  analyze one user (id or email) or the whole organization
  serve              run the API server and scheduled refreshes
`)
	os.Exit(2)
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("accessgraph v%s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if flag.NArg() < 1 {
		usage()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()
	}()

	app, err := newApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer app.graph.Close(context.Background())

	command := flag.Arg(0)
	args := flag.Args()[1:]

	switch command {
	case "reset":
		err = app.reset(ctx)
	case "import":
		err = app.runImport(ctx, args)
	case "analyze":
		err = app.runAnalyze(ctx, args)
	case "serve":
		err = app.serve(ctx)
	default:
		usage()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	cfg        *config.Config
	graph      *graph.Neo4jStore
	importer   *importer.Importer
	analyzer   *analyzer.Analyzer
	aggregator *reports.Aggregator
}

func newApp(cfg *config.Config) (*app, error) {
	g, err := graph.New(graph.Config{
		URI:      cfg.Neo4j.URI,
		Username: cfg.Neo4j.User,
		Password: cfg.Neo4j.Password,
		Timeout:  cfg.Neo4j.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to graph store: %w", err)
	}

	imp, err := importer.New(g, importer.Config{
		BatchSize:   cfg.Importer.BatchSize,
		MaxAttempts: cfg.Importer.MaxAttempts,
		BackoffBase: cfg.Importer.BackoffBase,
		BackoffMax:  cfg.Importer.BackoffMax,
	})
	if err != nil {
		return nil, err
	}

	mapping := classifier.Mapping(cfg.Environments)
	if err := mapping.Validate(); err != nil {
		return nil, err
	}

	an, err := analyzer.New(g, classifier.NewWithMapping(mapping), analyzer.Config{
		Workers:                  cfg.Analyzer.Workers,
		MaxGroupDepth:            cfg.Analyzer.MaxGroupDepth,
		ExtensiveAccessThreshold: cfg.Analyzer.ExtensiveAccessThreshold,
		AdminPatterns:            cfg.Analyzer.AdminPatterns,
		ReadOnlyPatterns:         cfg.Analyzer.ReadOnlyPatterns,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:        cfg,
		graph:      g,
		importer:   imp,
		analyzer:   an,
		aggregator: reports.NewAggregator(cfg.Analyzer.HighRiskAccountFloor),
	}, nil
}

func (a *app) newSource(ctx context.Context) (source.Producer, error) {
	switch a.cfg.Source.Kind {
	case "s3":
		return source.NewS3Source(ctx, source.S3Config{
			Region: a.cfg.Source.Region,
			Bucket: a.cfg.Source.Bucket,
			Prefix: a.cfg.Source.Prefix,
		})
	default:
		return source.NewFileSource(a.cfg.Source.VerticesPath, a.cfg.Source.EdgesPath), nil
	}
}

func (a *app) reset(ctx context.Context) error {
	return a.importer.Reset(ctx)
}

func (a *app) runImport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	clean := fs.Bool("clean", false, "Reset the graph store before loading")
	fs.Parse(args)

	if *clean {
		if err := a.importer.Reset(ctx); err != nil {
			return err
		}
	}

	src, err := a.newSource(ctx)
	if err != nil {
		return err
	}
	vertices, edges, err := src.Records(ctx)
	if err != nil {
		return err
	}

	result := a.importer.ImportBatch(ctx, vertices, edges)
	fmt.Printf("Committed %d vertices and %d edges\n", result.VerticesCommitted, result.EdgesCommitted)
	if result.Failed() {
		if result.FailedBatchIndex != nil {
			return fmt.Errorf("import failed at batch %d (%s): %w",
				*result.FailedBatchIndex, result.ErrorKind, result.Err)
		}
		return fmt.Errorf("import failed (%s): %w", result.ErrorKind, result.Err)
	}
	return nil
}

func (a *app) runAnalyze(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	user := fs.String("user", "", "Analyze a single user by vertex id or email")
	fs.Parse(args)

	result, err := a.analyzer.Run(ctx, *user)
	if err != nil {
		return err
	}

	summary := a.aggregator.Summarize(result.Records)

	out := struct {
		RunID   string                `json:"run_id"`
		Summary reports.OrgSummary    `json:"summary"`
		Records []models.AccessRecord `json:"records,omitempty"`
	}{
		RunID:   result.RunID.String(),
		Summary: summary,
	}
	if *user != "" {
		out.Records = result.Records
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// refresh is the scheduled/triggered pipeline: reload records, re-import,
// re-analyze, persist the summary.
func (a *app) refresh(ctx context.Context, st *store.Store) (*store.AnalysisRun, error) {
	src, err := a.newSource(ctx)
	if err != nil {
		return nil, err
	}
	vertices, edges, err := src.Records(ctx)
	if err != nil {
		return nil, err
	}

	result := a.importer.ImportBatch(ctx, vertices, edges)
	if result.Failed() {
		return nil, fmt.Errorf("import failed (%s): %w", result.ErrorKind, result.Err)
	}

	run, err := a.analyzer.Run(ctx, "")
	if err != nil {
		return nil, err
	}

	summary := a.aggregator.Summarize(run.Records)
	if err := st.SaveRun(ctx, run.RunID, run.StartedAt, run.FinishedAt, summary); err != nil {
		return nil, err
	}

	return st.GetRun(ctx, run.RunID)
}

func (a *app) serve(ctx context.Context) error {
	st, err := store.New(store.Config{
		DSN:          a.cfg.Database.DSN(),
		MaxOpenConns: a.cfg.Database.MaxOpenConns,
		MaxIdleConns: a.cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}
	defer st.Close()

	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}

	runFn := func(ctx context.Context) (*store.AnalysisRun, error) {
		return a.refresh(ctx, st)
	}

	if a.cfg.Scheduler.Enabled {
		sched := scheduler.New(func(ctx context.Context) error {
			_, err := runFn(ctx)
			return err
		})
		if err := sched.Start(ctx, a.cfg.Scheduler.Schedule); err != nil {
			return err
		}
	}

	server := api.NewServer(a.cfg, st, runFn)
	return server.Run(ctx)
}
