// Package images downloads the cover referenced by a book card, shrinks it to
// a bounded thumbnail and stores it as a JPEG under a deterministic name.
package images

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-book-cards/config"
	"github.com/aluiziolira/go-book-cards/fileutil"
	"github.com/aluiziolira/go-book-cards/metrics"
	"github.com/aluiziolira/go-book-cards/parser"
	"github.com/aluiziolira/go-book-cards/scraper"
)

const claimCacheSize = 4096

// ErrNoFileName is returned for a non-empty image URL whose path has no
// final segment to name the thumbnail after.
var ErrNoFileName = errors.New("images: url has no file name")

// DecodeError wraps a payload that could not be decoded as an image.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode image %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ErrorType labels decode failures in the errors metric.
func (e *DecodeError) ErrorType() string { return "decode" }

// Materializer turns image URLs into thumbnail files.
type Materializer struct {
	client    *http.Client
	base      *url.URL
	dir       string
	width     int
	height    int
	quality   int
	userAgent string
	metrics   *metrics.Metrics

	// file name -> source URL of the most recent write this run
	claimed *lru.Cache[string, string]
}

// NewMaterializer builds a materializer writing into cfg.ImageDir. Relative
// image URLs are resolved against cfg.PageURL.
func NewMaterializer(cfg *config.Config, client *http.Client, m *metrics.Metrics) (*Materializer, error) {
	base, err := url.Parse(cfg.PageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	claimed, err := lru.New[string, string](claimCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create claim cache: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &Materializer{
		client:    client,
		base:      base,
		dir:       cfg.ImageDir,
		width:     cfg.ThumbWidth,
		height:    cfg.ThumbHeight,
		quality:   cfg.JPEGQuality,
		userAgent: cfg.UserAgent,
		metrics:   m,
		claimed:   claimed,
	}, nil
}

// Materialize fetches imageURL, writes its thumbnail and returns the file
// name. An empty URL is skipped and yields "". Calling it again with the same
// URL overwrites the same file.
func (m *Materializer) Materialize(ctx context.Context, imageURL string) (string, error) {
	if strings.TrimSpace(imageURL) == "" {
		m.metrics.IncImage("skipped")
		slog.Debug("card has no image, skipping thumbnail")
		return "", nil
	}

	name := parser.ThumbnailName(imageURL)
	if name == "" {
		m.metrics.IncError("invalid_url")
		return "", fmt.Errorf("%w: %q", ErrNoFileName, imageURL)
	}

	target, err := m.resolve(imageURL)
	if err != nil {
		m.metrics.IncError("invalid_url")
		return "", err
	}

	slog.Info("fetching and resizing image", slog.String("file", name))

	img, err := m.fetch(ctx, target)
	if err != nil {
		m.metrics.IncError(scraper.ErrorTypeLabel(err))
		return "", err
	}

	var buf bytes.Buffer
	thumb := Thumbnail(img, m.width, m.height)
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(m.quality)); err != nil {
		return "", fmt.Errorf("encode thumbnail %s: %w", name, err)
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(m.dir, name), buf.Bytes()); err != nil {
		return "", fmt.Errorf("write thumbnail %s: %w", name, err)
	}

	m.claim(name, target)
	m.metrics.IncImage("written")
	return name, nil
}

// Thumbnail scales img down to fit within maxWidth x maxHeight keeping its
// aspect ratio. Images already within bounds are not enlarged. JPEG has no
// alpha channel, so transparent areas are flattened onto white.
func Thumbnail(img image.Image, maxWidth, maxHeight int) image.Image {
	fitted := imaging.Fit(img, maxWidth, maxHeight, imaging.Lanczos)
	bounds := fitted.Bounds()
	background := imaging.New(bounds.Dx(), bounds.Dy(), color.White)
	return imaging.Overlay(background, fitted, image.Pt(0, 0), 1.0)
}

func (m *Materializer) resolve(imageURL string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(imageURL))
	if err != nil {
		return "", fmt.Errorf("parse image url %q: %w", imageURL, err)
	}
	return m.base.ResolveReference(ref).String(), nil
}

func (m *Materializer) fetch(ctx context.Context, target string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("new image request: %w", err)
	}
	if m.userAgent != "" {
		req.Header.Set("User-Agent", m.userAgent)
	}

	m.metrics.IncRequest("image")
	start := time.Now()
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image %s: %w", target, scraper.ClassifyError(err, 0))
	}
	defer func() { _ = resp.Body.Close() }()
	m.metrics.ObserveDuration("image", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &scraper.HTTPStatusError{URL: target, StatusCode: resp.StatusCode}
		return nil, fmt.Errorf("fetch image: %w", scraper.ClassifyError(statusErr, resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", target, scraper.ClassifyError(err, 0))
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &DecodeError{URL: target, Err: err}
	}
	return img, nil
}

// claim records which URL last wrote name. A different URL reusing the
// name overwrites the earlier thumbnail; that is reported, not prevented.
func (m *Materializer) claim(name, source string) {
	previous, ok, _ := m.claimed.PeekOrAdd(name, source)
	if !ok || previous == source {
		return
	}
	m.claimed.Add(name, source)
	m.metrics.IncCollision()
	slog.Warn("thumbnail overwritten by a different image",
		slog.String("file", name),
		slog.String("previous_url", previous),
		slog.String("url", source),
	)
}
