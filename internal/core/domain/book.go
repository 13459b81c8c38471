package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Book is the record the CRUD service stores.
type Book struct {
	ISBN      string `json:"isbn"`
	Title     string `json:"title"`
	Year      int    `json:"year"`
	Author    string `json:"author"`
	Publisher string `json:"publisher"`
	Rating    int    `json:"rating"`
	Pages     int    `json:"pages"`
}

// Validate checks required fields.
func (b Book) Validate() error {
	var missing []string
	if b.ISBN == "" {
		missing = append(missing, "isbn")
	}
	if b.Title == "" {
		missing = append(missing, "title")
	}
	if b.Author == "" {
		missing = append(missing, "author")
	}
	if b.Publisher == "" {
		missing = append(missing, "publisher")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidArgument, strings.Join(missing, ", "))
	}
	if b.Year < 0 || b.Rating < 0 || b.Pages < 0 {
		return fmt.Errorf("%w: year, rating and pages must not be negative", ErrInvalidArgument)
	}
	return nil
}

// SentinelPrefix marks synthetic records written by the validation hook.
// The public create route rejects identifiers with this prefix, so real
// records never enter the synthetic space.
const SentinelPrefix = "smoke:"

// IsSentinelISBN reports whether isbn belongs to the synthetic space.
func IsSentinelISBN(isbn string) bool {
	return strings.HasPrefix(isbn, SentinelPrefix)
}

// NewSentinelBook returns a uniquely identifiable synthetic record.
func NewSentinelBook() Book {
	return Book{
		ISBN:      SentinelPrefix + uuid.NewString(),
		Title:     "Smoke Test",
		Year:      1111,
		Author:    "Test",
		Publisher: "Test",
		Rating:    1,
		Pages:     111,
	}
}
