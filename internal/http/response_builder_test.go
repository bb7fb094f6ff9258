package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResponseBuilder(t *testing.T) {
	rec := httptest.NewRecorder()
	NewResponse().
		Status(http.StatusCreated).
		Header("X-Test", "1").
		JSON(map[string]int{"n": 1}).
		Write(rec)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-Test"))
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"n":1}`, rec.Body.String())
}

func TestResponseBuilderNoBody(t *testing.T) {
	rec := httptest.NewRecorder()
	NewResponse().Status(http.StatusNoContent).Write(rec)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		builder *ResponseBuilder
		status  int
		body    string
	}{
		{BadRequestError("bad"), http.StatusBadRequest, `{"error":"bad"}`},
		{NotFoundError("missing"), http.StatusNotFound, `{"error":"missing"}`},
		{InternalServerError("boom"), http.StatusInternalServerError, `{"error":"boom"}`},
		{UnauthorizedError(), http.StatusUnauthorized, `{"error":"unauthorized"}`},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		tt.builder.Write(rec)
		assert.Equal(t, tt.status, rec.Code)
		assert.JSONEq(t, tt.body, rec.Body.String())
	}
}
