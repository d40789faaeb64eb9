package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-book-cards/config"
	"github.com/aluiziolira/go-book-cards/metrics"
	"github.com/aluiziolira/go-book-cards/models"
	"github.com/aluiziolira/go-book-cards/parser"
)

// Scraper wraps the colly collector that downloads the listing page once
// and extracts its product cards.
type Scraper struct {
	cfg       *config.Config
	collector *colly.Collector
	transport http.RoundTripper
	Metrics   *metrics.Metrics

	requestCount int64
	errorCount   int64

	mu           sync.Mutex
	runCtx       context.Context
	books        []*models.Book
	fetchErr     error
	errorsByType map[string]int

	handlersOnce sync.Once
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	parsed, err := url.Parse(cfg.PageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("page url must include a host")
	}

	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.AllowURLRevisit = true

	s := &Scraper{
		cfg:          cfg,
		collector:    collector,
		errorsByType: make(map[string]int),
		Metrics:      metrics.New(),
	}
	s.WithTransport(newTransport(cfg))
	return s, nil
}

func newTransport(cfg *config.Config) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// WithTransport replaces the round tripper used for the page and, through
// HTTPClient, for the images.
func (s *Scraper) WithTransport(rt http.RoundTripper) {
	s.transport = rt
	s.collector.WithTransport(rt)
}

// HTTPClient returns a client sharing the scraper's transport and timeout,
// for fetching the images referenced by the page.
func (s *Scraper) HTTPClient() *http.Client {
	return &http.Client{
		Transport: s.transport,
		Timeout:   s.cfg.Timeout,
	}
}

// Run downloads the page exactly once and returns its cards in document
// order. Transport failures and error statuses are returned classified.
func (s *Scraper) Run(ctx context.Context) (*models.ScraperResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.reset(ctx)
	s.configureHandlers()
	s.collector.WithTransport(&contextTransport{ctx: ctx, base: s.transport})
	defer s.collector.WithTransport(s.transport)

	start := time.Now()
	slog.Info("downloading html page", slog.String("url", s.cfg.PageURL))

	visitErr := s.collector.Visit(s.cfg.PageURL)
	s.collector.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}

	s.mu.Lock()
	fetchErr := s.fetchErr
	books := s.books
	s.mu.Unlock()

	if fetchErr != nil {
		return nil, fmt.Errorf("fetch page %s: %w", s.cfg.PageURL, fetchErr)
	}
	if visitErr != nil {
		return nil, fmt.Errorf("visit %s: %w", s.cfg.PageURL, ClassifyError(visitErr, 0))
	}
	if books == nil {
		books = []*models.Book{}
	}

	return &models.ScraperResult{
		Books:        books,
		PageURL:      s.cfg.PageURL,
		StartTime:    start,
		EndTime:      time.Now(),
		TotalCount:   len(books),
		ErrorCount:   int(atomic.LoadInt64(&s.errorCount)),
		ErrorsByType: s.snapshotErrors(),
		RequestCount: int(atomic.LoadInt64(&s.requestCount)),
	}, nil
}

func (s *Scraper) reset(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runCtx = ctx
	s.books = nil
	s.fetchErr = nil
}

func (s *Scraper) configureHandlers() {
	s.handlersOnce.Do(func() {
		s.collector.OnRequest(func(r *colly.Request) {
			s.mu.Lock()
			ctx := s.runCtx
			s.mu.Unlock()
			if ctx != nil && ctx.Err() != nil {
				r.Abort()
				return
			}
			r.Ctx.Put("start", time.Now())
			atomic.AddInt64(&s.requestCount, 1)
			s.Metrics.IncRequest("page")
			slog.Debug("page request", slog.String("url", r.URL.String()))
		})

		s.collector.OnResponse(func(r *colly.Response) {
			if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
				s.Metrics.ObserveDuration("page", time.Since(start))
			}
			slog.Info("parsing html",
				slog.Int("status", r.StatusCode),
				slog.Int("bytes", len(r.Body)),
				slog.String("content_type", r.Headers.Get("Content-Type")),
			)

			// Cards are read from the raw body whatever the Content-Type says.
			books, err := parser.ExtractBooks(bytes.NewReader(r.Body))
			s.mu.Lock()
			defer s.mu.Unlock()
			if err != nil {
				if s.fetchErr == nil {
					s.fetchErr = fmt.Errorf("parse page: %w", err)
				}
				return
			}
			s.books = append(s.books, books...)
			for range books {
				s.Metrics.IncCards()
			}
		})

		s.collector.OnError(func(r *colly.Response, err error) {
			atomic.AddInt64(&s.errorCount, 1)
			statusCode := 0
			pageURL := s.cfg.PageURL
			if r != nil {
				statusCode = r.StatusCode
				if r.Request != nil && r.Request.URL != nil {
					pageURL = r.Request.URL.String()
				}
			}
			if statusCode >= http.StatusBadRequest {
				err = &HTTPStatusError{URL: pageURL, StatusCode: statusCode}
			}
			classified := ClassifyError(err, statusCode)
			category := ErrorTypeLabel(classified)

			s.mu.Lock()
			s.errorsByType[category]++
			if s.fetchErr == nil {
				s.fetchErr = classified
			}
			s.mu.Unlock()

			slog.Error("request error",
				slog.String("url", pageURL),
				slog.String("category", category),
				slog.Any("error", err),
			)
			s.Metrics.IncError(category)
		})
	})
}

func (s *Scraper) snapshotErrors() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		out[k] = v
	}
	return out
}

// contextTransport binds outgoing page requests to the run context, since
// colly requests carry none of their own.
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.base == nil {
		return nil, errors.New("nil base transport")
	}
	return t.base.RoundTrip(req.WithContext(t.ctx))
}
