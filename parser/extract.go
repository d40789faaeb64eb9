package parser

import (
	"fmt"
	"io"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-book-cards/models"
)

// Marker class selectors of the product card markup.
const (
	CardSelector         = "div.kg-product-card-container"
	TitleSelector        = "h4.kg-product-card-title"
	RatingStarSelector   = "span.kg-product-card-rating-star"
	RatingActiveSelector = "span.kg-product-card-rating-active"
	DescriptionSelector  = "div.kg-product-card-description"
	ImageSelector        = "img.kg-product-card-image"
	BuyButtonSelector    = "a.kg-product-card-button[href]"
)

// ExtractBooks parses a whole page and returns one record per card in
// document order. A page without cards yields an empty slice.
func ExtractBooks(r io.Reader) ([]*models.Book, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	cards := doc.Find(CardSelector)
	books := make([]*models.Book, 0, cards.Length())
	cards.Each(func(_ int, s *goquery.Selection) {
		books = append(books, ExtractCard(s, time.Now()))
	})
	return books, nil
}

// ExtractCard builds a record from a single card. Missing elements fall
// back to their defaults; it never fails.
func ExtractCard(s *goquery.Selection, now time.Time) *models.Book {
	title := DefaultTitle
	if el := s.Find(TitleSelector).First(); el.Length() > 0 {
		title = CleanText(el.Text())
	}

	description := DefaultDescription
	if el := s.Find(DescriptionSelector).First(); el.Length() > 0 {
		description = CleanText(el.Text())
	}

	active := s.Find(RatingActiveSelector).Length()
	total := s.Find(RatingStarSelector).Length()

	imageURL, _ := s.Find(ImageSelector).First().Attr("src")
	buyLink, _ := s.Find(BuyButtonSelector).First().Attr("href")

	return &models.Book{
		Title:            title,
		Rating:           FormatRating(active, total),
		Description:      description,
		OriginalImageURL: imageURL,
		ThumbnailImage:   ThumbnailName(imageURL),
		BuyLink:          buyLink,
		LastUpdateDate:   models.NewTimestamp(now),
	}
}
