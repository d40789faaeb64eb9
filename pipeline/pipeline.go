package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-book-cards/config"
	"github.com/aluiziolira/go-book-cards/models"
	"github.com/aluiziolira/go-book-cards/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

// OutputWriter defines the interface for data output. Nothing is committed
// to disk before Close.
type OutputWriter interface {
	Write(books []*models.Book) error
	Close() error
	Validate() error
}

// ImageMaterializer stores the thumbnail for an image URL and returns its
// file name.
type ImageMaterializer interface {
	Materialize(ctx context.Context, imageURL string) (string, error)
}

// Pipeline materializes each record's image and hands the finished records
// to the output writer in their original order.
type Pipeline struct {
	writer  OutputWriter
	images  ImageMaterializer
	workers int

	metrics metrics

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce sync.Once
	closeErr  error
}

// NewPipeline builds a pipeline. cfg.ImageWorkers bounds concurrent image
// fetches; 1 keeps them strictly sequential.
func NewPipeline(writer OutputWriter, images ImageMaterializer, cfg *config.Config) *Pipeline {
	workers := 1
	if cfg != nil && cfg.ImageWorkers > 1 {
		workers = cfg.ImageWorkers
	}
	return &Pipeline{
		writer:  writer,
		images:  images,
		workers: workers,
		metrics: newMetrics(),
	}
}

// Process materializes the images of books, fills in their thumbnails and
// writes them as one batch. The first failure aborts the batch and leaves
// the pipeline unable to commit.
func (p *Pipeline) Process(ctx context.Context, books []*models.Book) error {
	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	batch := make([]*models.Book, 0, len(books))
	for _, book := range books {
		if book != nil {
			batch = append(batch, book)
		}
	}

	thumbs, err := p.materialize(ctx, batch)
	if err != nil {
		p.setErr(err)
		return err
	}

	for i, book := range batch {
		book.ThumbnailImage = thumbs[i]
		if err := parser.ValidateBook(book); err != nil {
			p.metrics.addValidation("invalid_record")
			slog.Warn("record failed validation", slog.Any("error", err))
		}
		p.metrics.incrementProcessed()
	}

	if err := p.writer.Write(batch); err != nil {
		err = fmt.Errorf("write batch: %w", err)
		p.setErr(err)
		return err
	}
	return nil
}

func (p *Pipeline) materialize(ctx context.Context, batch []*models.Book) ([]string, error) {
	thumbs := make([]string, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, book := range batch {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			name, err := p.images.Materialize(gctx, book.OriginalImageURL)
			if err != nil {
				return fmt.Errorf("materialize image for %q: %w", book.Title, err)
			}
			thumbs[i] = name
			if name == "" {
				p.metrics.incrementSkipped()
			} else {
				p.metrics.incrementThumbnails()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return thumbs, nil
}

// Close commits the writer's output. After a failed Process nothing is
// committed and the processing error is returned.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	err := p.err
	p.mu.Unlock()

	if err != nil {
		return err
	}

	p.closeOnce.Do(func() {
		p.closeErr = p.writer.Close()
	})
	return p.closeErr
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return
	}
	p.err = err
	p.closed = true
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

type metrics struct {
	mu         sync.Mutex
	processed  int64
	thumbnails int64
	skipped    int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) incrementThumbnails() {
	m.mu.Lock()
	m.thumbnails++
	m.mu.Unlock()
}

func (m *metrics) incrementSkipped() {
	m.mu.Lock()
	m.skipped++
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_books":   m.processed,
		"thumbnails":        m.thumbnails,
		"skipped_images":    m.skipped,
		"validation_errors": copyValidation,
	}
}
