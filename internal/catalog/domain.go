package catalog

import (
	"strings"
	"time"

	"librarium/internal/apperror"
)

// Collection holds the book documents.
const Collection = "books"

// Book is a catalogued title with its copy inventory.
type Book struct {
	ID              string    `json:"id,omitempty"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	ISBN            *string   `json:"isbn"`
	Category        *string   `json:"category"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
	Tags            []string  `json:"tags"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// OnLoan is the number of copies not on the shelf.
func (b *Book) OnLoan() int {
	return b.TotalCopies - b.AvailableCopies
}

// BookInput is the accepted shape of a new book. Absent copy counts default
// to one.
type BookInput struct {
	Title           string   `json:"title"`
	Author          string   `json:"author"`
	ISBN            *string  `json:"isbn"`
	Category        *string  `json:"category"`
	TotalCopies     *int     `json:"total_copies"`
	AvailableCopies *int     `json:"available_copies"`
	Tags            []string `json:"tags"`
}

// BookPatch is a partial edit; nil fields are left unchanged.
type BookPatch struct {
	Title           *string   `json:"title"`
	Author          *string   `json:"author"`
	ISBN            *string   `json:"isbn"`
	Category        *string   `json:"category"`
	TotalCopies     *int      `json:"total_copies"`
	AvailableCopies *int      `json:"available_copies"`
	Tags            *[]string `json:"tags"`
}

// Empty reports whether the patch changes nothing.
func (p BookPatch) Empty() bool {
	return p.Title == nil && p.Author == nil && p.ISBN == nil && p.Category == nil &&
		p.TotalCopies == nil && p.AvailableCopies == nil && p.Tags == nil
}

// ToBook maps the input onto a new Book.
func (in BookInput) ToBook() (Book, error) {
	book := Book{
		Title:           strings.TrimSpace(in.Title),
		Author:          strings.TrimSpace(in.Author),
		ISBN:            in.ISBN,
		Category:        in.Category,
		TotalCopies:     valueOr(in.TotalCopies, 1),
		AvailableCopies: valueOr(in.AvailableCopies, 1),
		Tags:            in.Tags,
	}
	return book, book.validate()
}

// Apply returns book with the patch applied, together with the changed
// fields in document form.
func (p BookPatch) Apply(book Book) (Book, map[string]any, error) {
	set := make(map[string]any)
	if p.Title != nil {
		book.Title = strings.TrimSpace(*p.Title)
		set["title"] = book.Title
	}
	if p.Author != nil {
		book.Author = strings.TrimSpace(*p.Author)
		set["author"] = book.Author
	}
	if p.ISBN != nil {
		book.ISBN = p.ISBN
		set["isbn"] = *p.ISBN
	}
	if p.Category != nil {
		book.Category = p.Category
		set["category"] = *p.Category
	}
	if p.TotalCopies != nil {
		book.TotalCopies = *p.TotalCopies
		set["total_copies"] = book.TotalCopies
	}
	if p.AvailableCopies != nil {
		book.AvailableCopies = *p.AvailableCopies
		set["available_copies"] = book.AvailableCopies
	}
	if p.Tags != nil {
		book.Tags = *p.Tags
		set["tags"] = book.Tags
	}
	return book, set, book.validate()
}

func (b Book) validate() error {
	switch {
	case b.Title == "":
		return apperror.Validation("title is required")
	case b.Author == "":
		return apperror.Validation("author is required")
	case b.TotalCopies < 0:
		return apperror.Validation("total_copies must be greater than or equal to 0")
	case b.AvailableCopies < 0:
		return apperror.Validation("available_copies must be greater than or equal to 0")
	case b.AvailableCopies > b.TotalCopies:
		return apperror.Validation("available_copies must not exceed total_copies")
	}
	return nil
}

func valueOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}
