// Package parser turns product card markup into book records and holds the
// field normalizers shared by the scraper and the pipeline.
package parser

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-book-cards/models"
)

// Sentinels substituted when a card lacks the element.
const (
	DefaultTitle       = "No Title"
	DefaultDescription = "No Description"
)

// ValidateBook checks the structural invariants of a constructed record.
// It never inspects the network side; an empty image URL is valid.
func ValidateBook(b *models.Book) error {
	if b == nil {
		return fmt.Errorf("book is nil")
	}
	if strings.TrimSpace(b.Title) == "" {
		return fmt.Errorf("book missing title")
	}
	if strings.TrimSpace(b.Description) == "" {
		return fmt.Errorf("book missing description for %s", b.Title)
	}
	if _, _, err := ParseRating(b.Rating); err != nil {
		return fmt.Errorf("book %s: %w", b.Title, err)
	}
	if want := ThumbnailName(b.OriginalImageURL); b.ThumbnailImage != want {
		return fmt.Errorf("book %s: thumbnail %q does not match image url (want %q)", b.Title, b.ThumbnailImage, want)
	}
	if b.LastUpdateDate.IsZero() {
		return fmt.Errorf("book missing last update date for %s", b.Title)
	}
	return nil
}

// CleanText trims surrounding whitespace and keeps everything inside.
func CleanText(text string) string {
	return strings.TrimSpace(text)
}

// FormatRating renders raw marker counts. Counts are not clamped.
func FormatRating(active, total int) string {
	return strconv.Itoa(active) + "/" + strconv.Itoa(total)
}

// ParseRating is the inverse of FormatRating.
func ParseRating(rating string) (active, total int, err error) {
	left, right, ok := strings.Cut(rating, "/")
	if !ok {
		return 0, 0, fmt.Errorf("rating %q is not of the form active/total", rating)
	}
	if active, err = strconv.Atoi(left); err != nil || active < 0 {
		return 0, 0, fmt.Errorf("rating %q has invalid active count", rating)
	}
	if total, err = strconv.Atoi(right); err != nil || total < 0 {
		return 0, 0, fmt.Errorf("rating %q has invalid total count", rating)
	}
	return active, total, nil
}

// ThumbnailName returns the last path segment of an image URL, ignoring the
// query and fragment. It returns "" when the URL has no usable segment.
func ThumbnailName(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}

	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}

	name := p[strings.LastIndex(p, "/")+1:]
	if name == "." || name == ".." || strings.ContainsRune(name, '\\') {
		return ""
	}
	return name
}
