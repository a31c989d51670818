package membership

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func TestHandlerRegisterStatus(t *testing.T) {
	svc, _ := newTestService(t, rate.NewLimiter(rate.Every(time.Hour), 2))
	r := chi.NewRouter()
	NewHandler(svc, zap.NewNop()).Routes(r)

	post := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/members", strings.NewReader(body)))
		return rec
	}

	rec := post(`{"name":"Ada","email":"ada@example.com"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = post(`{"name":"Ada","email":"ada@example.com"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"is_active":true`)

	rec = post(`{"name":"Bob","email":"bob@example.com"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHandlerByEmail(t *testing.T) {
	svc, _ := newTestService(t, nil)
	r := chi.NewRouter()
	NewHandler(svc, zap.NewNop()).Routes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/members/by-email?email=nobody@example.com", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"detail":"Member not found"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/members/by-email", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
