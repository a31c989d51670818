package clients

import (
	"context"
	"net/http"
	"net/url"

	"librarium/internal/catalog"
)

type CatalogClient struct {
	api *api
}

func NewCatalogClient(baseURL string, opts ...Option) *CatalogClient {
	return &CatalogClient{api: newAPI(baseURL, opts...)}
}

func (c *CatalogClient) AddBook(ctx context.Context, in catalog.BookInput) (*catalog.Book, error) {
	var book catalog.Book
	if _, err := c.api.do(ctx, http.MethodPost, "/books", nil, in, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *CatalogClient) GetBook(ctx context.Context, id string) (*catalog.Book, error) {
	var book catalog.Book
	if _, err := c.api.do(ctx, http.MethodGet, "/books/"+url.PathEscape(id), nil, nil, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *CatalogClient) UpdateBook(ctx context.Context, id string, patch catalog.BookPatch) (*catalog.Book, error) {
	var book catalog.Book
	if _, err := c.api.do(ctx, http.MethodPut, "/books/"+url.PathEscape(id), nil, patch, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *CatalogClient) DeleteBook(ctx context.Context, id string) error {
	_, err := c.api.do(ctx, http.MethodDelete, "/books/"+url.PathEscape(id), nil, nil, nil)
	return err
}

// Search lists books matching query; an empty query lists all of them.
func (c *CatalogClient) Search(ctx context.Context, query string) ([]*catalog.Book, error) {
	var q url.Values
	if query != "" {
		q = url.Values{"q": {query}}
	}
	var books []*catalog.Book
	if _, err := c.api.do(ctx, http.MethodGet, "/books", q, nil, &books); err != nil {
		return nil, err
	}
	return books, nil
}
