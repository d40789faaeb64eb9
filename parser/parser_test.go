package parser

import (
	"testing"
	"time"

	"github.com/aluiziolira/go-book-cards/models"
)

func TestValidateBook(t *testing.T) {
	valid := func() *models.Book {
		return &models.Book{
			Title:            "Test Book",
			Rating:           "3/5",
			Description:      "A guide",
			OriginalImageURL: "https://example.com/content/images/cover.jpg",
			ThumbnailImage:   "cover.jpg",
			BuyLink:          "https://buy.example/1",
			LastUpdateDate:   models.NewTimestamp(time.Now()),
		}
	}

	tests := []struct {
		name    string
		mutate  func(*models.Book)
		wantErr bool
	}{
		{name: "valid book", mutate: func(*models.Book) {}, wantErr: false},
		{name: "missing title", mutate: func(b *models.Book) { b.Title = "" }, wantErr: true},
		{name: "missing description", mutate: func(b *models.Book) { b.Description = " " }, wantErr: true},
		{name: "malformed rating", mutate: func(b *models.Book) { b.Rating = "three" }, wantErr: true},
		{name: "thumbnail mismatch", mutate: func(b *models.Book) { b.ThumbnailImage = "other.jpg" }, wantErr: true},
		{name: "missing date", mutate: func(b *models.Book) { b.LastUpdateDate = models.Timestamp{} }, wantErr: true},
		{
			name: "no image",
			mutate: func(b *models.Book) {
				b.OriginalImageURL = ""
				b.ThumbnailImage = ""
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			book := valid()
			tt.mutate(book)
			err := ValidateBook(book)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBook() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if err := ValidateBook(nil); err == nil {
		t.Errorf("ValidateBook(nil) should fail")
	}
}

func TestFormatRating(t *testing.T) {
	tests := []struct {
		name          string
		active, total int
		expected      string
	}{
		{name: "no markers", active: 0, total: 0, expected: "0/0"},
		{name: "partial", active: 3, total: 5, expected: "3/5"},
		{name: "active exceeds total", active: 4, total: 2, expected: "4/2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatRating(tt.active, tt.total); got != tt.expected {
				t.Errorf("FormatRating(%d, %d) = %q, want %q", tt.active, tt.total, got, tt.expected)
			}
			active, total, err := ParseRating(tt.expected)
			if err != nil || active != tt.active || total != tt.total {
				t.Errorf("ParseRating(%q) = %d, %d, %v", tt.expected, active, total, err)
			}
		})
	}
}

func TestParseRatingInvalid(t *testing.T) {
	for _, input := range []string{"", "3", "a/5", "3/b", "-1/5"} {
		if _, _, err := ParseRating(input); err == nil {
			t.Errorf("ParseRating(%q) should fail", input)
		}
	}
}

func TestThumbnailName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "absolute url", input: "https://www.camelcodes.net/content/images/2023/cover.jpg", expected: "cover.jpg"},
		{name: "relative path", input: "/content/images/cover.png", expected: "cover.png"},
		{name: "bare file name", input: "cover.jpg", expected: "cover.jpg"},
		{name: "query ignored", input: "https://cdn.example/img/cover.jpg?w=800#top", expected: "cover.jpg"},
		{name: "surrounding whitespace", input: "  https://cdn.example/a/b.webp ", expected: "b.webp"},
		{name: "escaped segment", input: "https://cdn.example/img/my%20cover.jpg", expected: "my cover.jpg"},
		{name: "trailing slash", input: "https://cdn.example/img/", expected: ""},
		{name: "host only", input: "https://cdn.example", expected: ""},
		{name: "dot dot", input: "https://cdn.example/img/..", expected: ""},
		{name: "empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ThumbnailName(tt.input); got != tt.expected {
				t.Errorf("ThumbnailName(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{input: "  Go in Practice \n", expected: "Go in Practice"},
		{input: "\n  line one\n  line two  \n", expected: "line one\n  line two"},
		{input: "", expected: ""},
	}

	for _, tt := range tests {
		if got := CleanText(tt.input); got != tt.expected {
			t.Errorf("CleanText(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
