package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lepinkainen/humanlog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-book-cards/config"
	"github.com/aluiziolira/go-book-cards/fileutil"
	"github.com/aluiziolira/go-book-cards/images"
	"github.com/aluiziolira/go-book-cards/models"
	"github.com/aluiziolira/go-book-cards/pipeline"
	"github.com/aluiziolira/go-book-cards/scraper"
)

// CLI holds the command line flags; each can also be set from the environment.
type CLI struct {
	URL           string        `name:"url" help:"Listing page to scrape" default:"${page_url}" env:"SCRAPER_URL"`
	Output        string        `name:"output" short:"o" help:"JSON output file" default:"${output}" env:"SCRAPER_OUTPUT"`
	ImageDir      string        `name:"image-dir" help:"Directory for thumbnails" default:"${image_dir}" env:"SCRAPER_IMAGE_DIR"`
	Format        string        `name:"format" help:"Output format: json, csv, or dual" enum:"json,csv,dual" default:"${format}" env:"SCRAPER_FORMAT"`
	ThumbWidth    int           `name:"thumb-width" help:"Maximum thumbnail width" default:"${thumb_width}" env:"SCRAPER_THUMB_WIDTH"`
	ThumbHeight   int           `name:"thumb-height" help:"Maximum thumbnail height" default:"${thumb_height}" env:"SCRAPER_THUMB_HEIGHT"`
	JPEGQuality   int           `name:"jpeg-quality" help:"JPEG quality for thumbnails (1-100)" default:"${jpeg_quality}" env:"SCRAPER_JPEG_QUALITY"`
	ImageWorkers  int           `name:"image-workers" help:"Concurrent image downloads" default:"${image_workers}" env:"SCRAPER_IMAGE_WORKERS"`
	Timeout       time.Duration `name:"timeout" help:"HTTP timeout per request, 0 disables it" default:"${timeout}" env:"SCRAPER_TIMEOUT"`
	UserAgent     string        `name:"user-agent" help:"User-Agent header" default:"${user_agent}" env:"SCRAPER_USER_AGENT"`
	RespectRobots bool          `name:"respect-robots" help:"Respect robots.txt directives" env:"SCRAPER_RESPECT_ROBOTS"`
	MetricsAddr   string        `name:"metrics-addr" help:"Prometheus metrics listen address (e.g. :9090)" default:"${metrics_addr}" env:"SCRAPER_METRICS_ADDR"`
	Verbose       bool          `name:"verbose" short:"v" help:"Enable verbose logging" env:"SCRAPER_VERBOSE"`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("scraper"),
		kong.Description("Scrape book cards from a listing page into JSON with local thumbnails."),
		kong.UsageOnError(),
		defaultVars(config.DefaultConfig()),
	)

	slog.SetDefault(newLogger(cli.Verbose))

	cfg := cli.config()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, nil); err != nil {
		slog.Error("scrape failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func defaultVars(cfg *config.Config) kong.Vars {
	return kong.Vars{
		"page_url":      cfg.PageURL,
		"output":        cfg.OutputFile,
		"image_dir":     cfg.ImageDir,
		"format":        cfg.OutputFormat,
		"thumb_width":   strconv.Itoa(cfg.ThumbWidth),
		"thumb_height":  strconv.Itoa(cfg.ThumbHeight),
		"jpeg_quality":  strconv.Itoa(cfg.JPEGQuality),
		"image_workers": strconv.Itoa(cfg.ImageWorkers),
		"timeout":       cfg.Timeout.String(),
		"user_agent":    cfg.UserAgent,
		"metrics_addr":  cfg.MetricsAddr,
	}
}

func (c *CLI) config() *config.Config {
	cfg := config.DefaultConfig()
	cfg.PageURL = c.URL
	cfg.OutputFile = c.Output
	cfg.ImageDir = c.ImageDir
	cfg.OutputFormat = c.Format
	cfg.ThumbWidth = c.ThumbWidth
	cfg.ThumbHeight = c.ThumbHeight
	cfg.JPEGQuality = c.JPEGQuality
	cfg.ImageWorkers = c.ImageWorkers
	cfg.Timeout = c.Timeout
	cfg.UserAgent = c.UserAgent
	cfg.RespectRobotsTxt = c.RespectRobots
	cfg.MetricsAddr = c.MetricsAddr
	cfg.Verbose = c.Verbose
	return cfg
}

// run performs one scrape. A non-nil transport replaces the network for
// both the page and its images.
func run(ctx context.Context, cfg *config.Config, transport http.RoundTripper) error {
	startTime := time.Now()

	for _, dir := range cfg.OutputDirs() {
		if err := fileutil.EnsureDir(dir); err != nil {
			return err
		}
	}

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		return fmt.Errorf("initialising scraper: %w", err)
	}
	if transport != nil {
		s.WithTransport(transport)
	}

	if cfg.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	materializer, err := images.NewMaterializer(cfg, s.HTTPClient(), s.Metrics)
	if err != nil {
		return fmt.Errorf("creating image materializer: %w", err)
	}

	writer, err := createWriter(cfg)
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}

	p := pipeline.NewPipeline(writer, materializer, cfg)

	result, err := s.Run(ctx)
	if err != nil {
		return fmt.Errorf("scraping failed: %w", err)
	}
	slog.Info("cards extracted", slog.Int("count", result.TotalCount))

	if err := p.Process(ctx, result.Books); err != nil {
		_ = p.Close()
		return fmt.Errorf("processing cards: %w", err)
	}

	slog.Info("writing json file", slog.String("path", cfg.OutputFile))
	if err := p.Close(); err != nil {
		return fmt.Errorf("pipeline shutdown failed: %w", err)
	}
	if err := writer.Validate(); err != nil {
		return fmt.Errorf("output validation failed: %w", err)
	}

	duration := time.Since(startTime)
	slog.Info(fmt.Sprintf("Took: %.2f seconds", duration.Seconds()))
	printSummary(result, duration, cfg, p.GetMetrics())
	return nil
}

func createWriter(cfg *config.Config) (pipeline.OutputWriter, error) {
	switch cfg.OutputFormat {
	case "json":
		return pipeline.NewJSONWriter(cfg.OutputFile)
	case "csv":
		return pipeline.NewCSVWriter(cfg.CSVOutputFile())
	case "dual":
		return pipeline.NewDualWriter(cfg.CSVOutputFile(), cfg.OutputFile)
	default:
		return nil, fmt.Errorf("unsupported format: %s", cfg.OutputFormat)
	}
}

func printSummary(result *models.ScraperResult, duration time.Duration, cfg *config.Config, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Scrape complete")

	fmt.Printf("  Page:          %s\n", result.PageURL)
	fmt.Printf("  Books:         %d\n", result.TotalCount)
	if thumbs, ok := metrics["thumbnails"].(int64); ok {
		fmt.Printf("  Thumbnails:    %d\n", thumbs)
	}
	if skipped, ok := metrics["skipped_images"].(int64); ok && skipped > 0 {
		fmt.Printf("  No image:      %d\n", skipped)
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Printf("  Validation:    %v\n", valErrors)
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Output file:   %s\n", cfg.OutputFile)
	fmt.Printf("  Image dir:     %s\n", cfg.ImageDir)
	fmt.Println(separator)
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = humanlog.NewHandler(os.Stdout, &humanlog.Options{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler)
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
