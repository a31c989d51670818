package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"librarium/internal/apperror"
	"librarium/internal/docstore"
)

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		apperror.NotFound("book"):                        http.StatusNotFound,
		apperror.InvalidState("no copies available"):     http.StatusBadRequest,
		apperror.InvalidInput("Invalid ID format"):       http.StatusBadRequest,
		apperror.Validation("title is required"):         http.StatusUnprocessableEntity,
		apperror.RateLimited("register"):                 http.StatusTooManyRequests,
		fmt.Errorf("x: %w", docstore.ErrUnavailable):     http.StatusServiceUnavailable,
		errors.New("boom"):                               http.StatusInternalServerError,
		fmt.Errorf("wrapped: %w", apperror.NotFound("x")): http.StatusNotFound,
	}
	for err, want := range cases {
		assert.Equal(t, want, StatusFor(err), err.Error())
	}
}

func TestErrorWritesDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/books/x", nil)

	Error(rec, req, zap.NewNop(), apperror.NotFound("Book"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"detail":"Book not found"}`, rec.Body.String())
}

func TestErrorHidesAndLogsInternalFailures(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/loans/borrow", nil)

	Error(rec, req, zap.New(core), errors.New("connection reset by peer"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"detail":"Internal Server Error"}`, rec.Body.String())
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "/loans/borrow", logs.All()[0].ContextMap()["path"])
}

func TestDecode(t *testing.T) {
	var body struct {
		Title string `json:"title"`
	}

	req := httptest.NewRequest(http.MethodPost, "/books", strings.NewReader(`{"title":"Dune","unknown":1}`))
	require.NoError(t, Decode(req, &body))
	assert.Equal(t, "Dune", body.Title)

	req = httptest.NewRequest(http.MethodPost, "/books", strings.NewReader(`{"title":`))
	assert.ErrorIs(t, Decode(req, &body), apperror.ErrValidation)

	req = httptest.NewRequest(http.MethodPost, "/books", strings.NewReader(``))
	assert.ErrorIs(t, Decode(req, &body), apperror.ErrValidation)
}

func TestPathID(t *testing.T) {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "not-a-uuid")
	req := httptest.NewRequest(http.MethodGet, "/books/not-a-uuid", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	_, err := PathID(req, "id")
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)
	assert.Equal(t, http.StatusBadRequest, StatusFor(err))
}
