package pipeline

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-book-cards/config"
	"github.com/aluiziolira/go-book-cards/models"
	"github.com/aluiziolira/go-book-cards/parser"
)

type mockWriter struct {
	mu          sync.Mutex
	batches     [][]*models.Book
	closed      bool
	closeCalls  int
	writeErr    error
	validateErr error
}

func (mw *mockWriter) Write(books []*models.Book) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	if mw.writeErr != nil {
		return mw.writeErr
	}
	copyBatch := make([]*models.Book, len(books))
	copy(copyBatch, books)
	mw.batches = append(mw.batches, copyBatch)
	return nil
}

func (mw *mockWriter) Close() error {
	mw.mu.Lock()
	mw.closed = true
	mw.closeCalls++
	mw.mu.Unlock()
	return nil
}

func (mw *mockWriter) Validate() error {
	return mw.validateErr
}

func (mw *mockWriter) written() []*models.Book {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	var out []*models.Book
	for _, batch := range mw.batches {
		out = append(out, batch...)
	}
	return out
}

// fakeImages names each thumbnail after its URL, optionally sleeping a random
// amount so concurrent completions arrive out of order.
type fakeImages struct {
	mu      sync.Mutex
	calls   []string
	failOn  string
	jitter  bool
	maxSeen int
	active  int
}

func (f *fakeImages) Materialize(ctx context.Context, imageURL string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, imageURL)
	f.active++
	if f.active > f.maxSeen {
		f.maxSeen = f.active
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.jitter {
		time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if imageURL == "" {
		return "", nil
	}
	if imageURL == f.failOn {
		return "", errors.New("image unavailable")
	}
	return parser.ThumbnailName(imageURL), nil
}

func (f *fakeImages) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newBook(i int) *models.Book {
	return &models.Book{
		Title:            "Book " + strconv.Itoa(i),
		Rating:           "3/5",
		Description:      "About book " + strconv.Itoa(i),
		OriginalImageURL: "http://cdn.example.test/img/cover-" + strconv.Itoa(i) + ".jpg",
		BuyLink:          "https://buy.example/" + strconv.Itoa(i),
		LastUpdateDate:   models.NewTimestamp(time.Now()),
	}
}

func TestPipelinePreservesOrder(t *testing.T) {
	writer := &mockWriter{}
	images := &fakeImages{jitter: true}
	cfg := config.DefaultConfig()
	cfg.ImageWorkers = 4

	p := NewPipeline(writer, images, cfg)

	books := make([]*models.Book, 0, 20)
	for i := 0; i < 20; i++ {
		books = append(books, newBook(i))
	}

	if err := p.Process(context.Background(), books); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got := writer.written()
	if len(got) != len(books) {
		t.Fatalf("written=%d, want %d", len(got), len(books))
	}
	for i, book := range got {
		if book.Title != "Book "+strconv.Itoa(i) {
			t.Fatalf("position %d holds %q", i, book.Title)
		}
		if want := "cover-" + strconv.Itoa(i) + ".jpg"; book.ThumbnailImage != want {
			t.Fatalf("position %d thumbnail=%q, want %q", i, book.ThumbnailImage, want)
		}
	}
	if images.maxSeen > 4 {
		t.Fatalf("saw %d concurrent fetches, limit is 4", images.maxSeen)
	}
	if !writer.closed {
		t.Fatalf("writer not closed")
	}

	metrics := p.GetMetrics()
	if processed, ok := metrics["processed_books"].(int64); !ok || processed != 20 {
		t.Fatalf("processed_books=%v, want 20", metrics["processed_books"])
	}
	if thumbs, ok := metrics["thumbnails"].(int64); !ok || thumbs != 20 {
		t.Fatalf("thumbnails=%v, want 20", metrics["thumbnails"])
	}
}

func TestPipelineSequentialByDefault(t *testing.T) {
	writer := &mockWriter{}
	images := &fakeImages{jitter: true}

	p := NewPipeline(writer, images, config.DefaultConfig())
	books := []*models.Book{newBook(1), newBook(2), newBook(3)}
	if err := p.Process(context.Background(), books); err != nil {
		t.Fatalf("process: %v", err)
	}

	if images.maxSeen != 1 {
		t.Fatalf("max concurrent fetches=%d, want 1", images.maxSeen)
	}
	for i, call := range images.calls {
		if call != books[i].OriginalImageURL {
			t.Fatalf("call %d fetched %q, want %q", i, call, books[i].OriginalImageURL)
		}
	}
}

func TestPipelineImageFailureAborts(t *testing.T) {
	writer := &mockWriter{}
	books := []*models.Book{newBook(1), newBook(2), newBook(3), newBook(4)}
	images := &fakeImages{failOn: books[1].OriginalImageURL}

	p := NewPipeline(writer, images, config.DefaultConfig())

	err := p.Process(context.Background(), books)
	if err == nil {
		t.Fatalf("expected error from failing image")
	}
	if got := images.callCount(); got != 2 {
		t.Fatalf("fetched %d images, want 2 (stop at first failure)", got)
	}
	if got := len(writer.written()); got != 0 {
		t.Fatalf("writer received %d records after failure", got)
	}
	if closeErr := p.Close(); closeErr == nil || closeErr.Error() != err.Error() {
		t.Fatalf("close = %v, want the processing error %v", closeErr, err)
	}
	if writer.closeCalls != 0 {
		t.Fatalf("writer committed after a failed run")
	}
}

func TestPipelineCanceledContext(t *testing.T) {
	writer := &mockWriter{}
	images := &fakeImages{}
	p := NewPipeline(writer, images, config.DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Process(ctx, []*models.Book{newBook(1), newBook(2)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := len(writer.written()); got != 0 {
		t.Fatalf("writer received %d records", got)
	}
}

func TestPipelineSkipsEmptyImageURL(t *testing.T) {
	writer := &mockWriter{}
	images := &fakeImages{}
	p := NewPipeline(writer, images, config.DefaultConfig())

	book := newBook(1)
	book.OriginalImageURL = ""
	if err := p.Process(context.Background(), []*models.Book{book, nil}); err != nil {
		t.Fatalf("process: %v", err)
	}

	got := writer.written()
	if len(got) != 1 {
		t.Fatalf("written=%d, want 1", len(got))
	}
	if got[0].ThumbnailImage != "" {
		t.Fatalf("thumbnail=%q, want empty", got[0].ThumbnailImage)
	}
	if skipped, ok := p.GetMetrics()["skipped_images"].(int64); !ok || skipped != 1 {
		t.Fatalf("skipped_images=%v, want 1", p.GetMetrics()["skipped_images"])
	}
}

func TestPipelineCountsValidationFailures(t *testing.T) {
	writer := &mockWriter{}
	p := NewPipeline(writer, &fakeImages{}, config.DefaultConfig())

	book := newBook(1)
	book.Rating = "unknown"
	if err := p.Process(context.Background(), []*models.Book{book}); err != nil {
		t.Fatalf("process: %v", err)
	}

	if got := len(writer.written()); got != 1 {
		t.Fatalf("invalid record should still be written, got %d", got)
	}
	validation, ok := p.GetMetrics()["validation_errors"].(map[string]int)
	if !ok || validation["invalid_record"] != 1 {
		t.Fatalf("validation_errors=%v, want invalid_record=1", p.GetMetrics()["validation_errors"])
	}
}

func TestPipelineEmptyBatch(t *testing.T) {
	writer := &mockWriter{}
	p := NewPipeline(writer, &fakeImages{}, config.DefaultConfig())

	if err := p.Process(context.Background(), []*models.Book{}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if writer.closeCalls != 1 {
		t.Fatalf("writer closed %d times, want 1", writer.closeCalls)
	}
}

func TestPipelineWriteError(t *testing.T) {
	writer := &mockWriter{writeErr: errors.New("disk full")}
	p := NewPipeline(writer, &fakeImages{}, config.DefaultConfig())

	if err := p.Process(context.Background(), []*models.Book{newBook(1)}); err == nil {
		t.Fatalf("expected write error")
	}
	if err := p.Close(); err == nil {
		t.Fatalf("close should return the write error")
	}
	if writer.closeCalls != 0 {
		t.Fatalf("writer committed after a write error")
	}
}

func TestPipelineProcessAfterClose(t *testing.T) {
	writer := &mockWriter{}
	p := NewPipeline(writer, &fakeImages{}, config.DefaultConfig())

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if writer.closeCalls != 1 {
		t.Fatalf("writer closed %d times, want 1", writer.closeCalls)
	}
	if err := p.Process(context.Background(), []*models.Book{newBook(1)}); !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("expected ErrPipelineClosed, got %v", err)
	}
}
