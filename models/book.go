// Package models defines data structures for the scraper.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the ISO 8601 form used for last_update_date: local
// wall-clock time with microseconds and no zone offset.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// Book represents one product card extracted from the listing page.
type Book struct {
	Title            string    `csv:"title" json:"title"`
	Rating           string    `csv:"rating" json:"rating"`
	Description      string    `csv:"description" json:"description"`
	OriginalImageURL string    `csv:"original_image_url" json:"original_image_url"`
	ThumbnailImage   string    `csv:"thumbnail_image" json:"thumbnail_image"`
	BuyLink          string    `csv:"buy_link" json:"buy_link"`
	LastUpdateDate   Timestamp `csv:"last_update_date" json:"last_update_date"`
}

// Timestamp is a time.Time serialized with TimestampLayout.
type Timestamp struct {
	time.Time
}

// NewTimestamp truncates t to microseconds so that encoding is lossless.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.Truncate(time.Microsecond)}
}

func (t Timestamp) String() string {
	return t.Format(TimestampLayout)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts TimestampLayout as well as RFC 3339 input.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	parsed, err := time.ParseInLocation(TimestampLayout, raw, time.Local)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return fmt.Errorf("timestamp %q: %w", raw, err)
		}
	}
	t.Time = parsed
	return nil
}

// ScraperResult holds the overall result of a single-page scrape.
type ScraperResult struct {
	Books        []*Book
	PageURL      string
	StartTime    time.Time
	EndTime      time.Time
	TotalCount   int
	ErrorCount   int
	ErrorsByType map[string]int
	RequestCount int
}
