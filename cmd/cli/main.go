package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dvloznov/report-extractor/internal/config"
	"github.com/dvloznov/report-extractor/internal/extract"
	infraBQ "github.com/dvloznov/report-extractor/internal/infra/bigquery"
	"github.com/dvloznov/report-extractor/internal/infra/sqlite"
	"github.com/dvloznov/report-extractor/internal/ingest"
	"github.com/dvloznov/report-extractor/internal/logger"
	"github.com/dvloznov/report-extractor/internal/report"
	"github.com/dvloznov/report-extractor/internal/store"
	"github.com/dvloznov/report-extractor/internal/table"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, JSON: cfg.LogJSON, Out: os.Stderr})

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "ingest":
		runIngest(cfg, log)
	case "normalize":
		runNormalize(log)
	case "reshape":
		runReshape(cfg, log)
	case "files":
		runFiles(cfg, log)
	case "runs":
		runRuns(cfg, log)
	case "migrate":
		runMigrate(cfg, log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Report Extractor CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  ingest     Extract the first table of a local document into the output store")
	fmt.Println("  normalize  Rename the blank account column of a table file")
	fmt.Println("  reshape    Reshape a stored table into year records")
	fmt.Println("  files      List stored table files")
	fmt.Println("  runs       List recent ingestion runs")
	fmt.Println("  migrate    Create the run ledger tables")
	fmt.Println("  help       Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if cfg.GCSBucket != "" {
		return store.NewGCS(ctx, cfg.GCSBucket, cfg.GCSPrefix)
	}
	return store.NewDir(cfg.OutputDir)
}

func runIngest(cfg config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	filePath := fs.String("file", "", "Path to a PDF, DOCX, XLSX, HTML or image file")
	kindFlag := fs.String("kind", "", "Document kind (detected from the file name when empty)")
	fs.Parse(os.Args[2:])

	if *filePath == "" {
		log.Fatal().Msg("Error: -file is required")
	}

	kind := ingest.Kind(*kindFlag)
	if kind == "" {
		var ok bool
		kind, ok = ingest.DetectKind(*filePath, "")
		if !ok {
			log.Fatal().Str("file", *filePath).Msg("Cannot detect document kind, pass -kind")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open output store")
	}

	runs, err := sqlite.Open(cfg.RunsDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open run ledger")
	}
	defer runs.Close()

	var vision extract.Extractor
	if kind == ingest.KindImage {
		v, err := extract.NewVision(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create vision extractor")
		}
		vision = v
	}

	// The service removes its input when done, so work on a copy.
	tempPath, err := copyToTemp(*filePath, cfg.TempDir, kind)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to stage input file")
	}

	svc := ingest.NewService(st, ingest.Extractors(vision), log, ingest.WithRunRecorder(runs))
	res, err := svc.Ingest(ctx, ingest.Document{
		Kind:     kind,
		BaseName: store.BaseName(*filePath),
		TempPath: tempPath,
		Source:   "cli",
	}, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Ingestion failed")
	}

	fmt.Printf("Saved %d rows to %s (run %s)\n", res.Rows, res.Output, res.RunID)
}

func copyToTemp(src, dir string, kind ingest.Kind) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	out, err := os.CreateTemp(dir, "cli-*"+kind.Extension())
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", err
	}
	return out.Name(), out.Close()
}

func runNormalize(log zerolog.Logger) {
	fs := flag.NewFlagSet("normalize", flag.ExitOnError)
	filePath := fs.String("file", "", "Path to a JSON table file (stdin when empty)")
	column := fs.String("column", table.AccountColumn, "Name given to the blank column")
	fs.Parse(os.Args[2:])

	var data []byte
	var err error
	if *filePath == "" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(*filePath)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read table")
	}

	t, err := table.Decode(data)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid table")
	}
	if err := table.Encode(os.Stdout, table.Normalize(t, *column)); err != nil {
		log.Fatal().Err(err).Msg("Failed to write table")
	}
}

func runReshape(cfg config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("reshape", flag.ExitOnError)
	institution := fs.String("institution", "konvensional", "Institution: syariah or konvensional")
	kind := fs.String("report", "", "Report: laba-rugi or laporan-keuangan")
	name := fs.String("filename", "", "Stored table file name")
	fs.Parse(os.Args[2:])

	if *kind == "" || *name == "" {
		log.Fatal().Msg("Usage: cli reshape -institution NAME -report NAME -filename NAME.json")
	}

	catalog, err := report.DefaultCatalog()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load report catalog")
	}
	variant, err := catalog.Lookup(*institution, *kind)
	if err != nil {
		log.Fatal().Err(err).Msg("Unknown report")
	}

	ctx := logger.WithContext(context.Background(), log)
	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open output store")
	}
	t, err := store.LoadTable(ctx, st, *name)
	if err != nil {
		log.Fatal().Err(err).Str("filename", *name).Msg("Failed to load table")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(variant.Reshape(t)); err != nil {
		log.Fatal().Err(err).Msg("Failed to write result")
	}
}

func runFiles(cfg config.Config, log zerolog.Logger) {
	ctx := logger.WithContext(context.Background(), log)
	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open output store")
	}
	names, err := st.List(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list files")
	}
	for _, n := range names {
		fmt.Println(n)
	}
}

func runRuns(cfg config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	limit := fs.Int("limit", 20, "Number of runs to show")
	fs.Parse(os.Args[2:])

	runs, err := sqlite.Open(cfg.RunsDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open run ledger")
	}
	defer runs.Close()

	list, err := runs.ListRuns(context.Background(), *limit)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list runs")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tSTATUS\tSOURCE\tKIND\tROWS\tOUTPUT\tERROR")
	for _, r := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Status, r.Source, r.Kind, r.Rows, r.Output, r.Error)
	}
	w.Flush()
}

func runMigrate(cfg config.Config, log zerolog.Logger) {
	ctx := context.Background()

	runs, err := sqlite.Open(cfg.RunsDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare SQLite run ledger")
	}
	runs.Close()
	abs, _ := filepath.Abs(cfg.RunsDBPath)
	log.Info().Str("path", abs).Msg("SQLite run ledger ready")

	if !cfg.BigQueryEnabled() {
		log.Info().Msg("BQ_PROJECT not set, skipping BigQuery")
		return
	}
	ledger, err := infraBQ.NewRunLedger(ctx, cfg.BQProject, cfg.BQDataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer ledger.Close()
	if err := ledger.EnsureTable(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery run table")
	}
	log.Info().Str("project", cfg.BQProject).Str("dataset", cfg.BQDataset).Msg("BigQuery run table ready")
}
