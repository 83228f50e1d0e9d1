package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddr_DefaultsWhenEnvUnset(t *testing.T) {
	os.Unsetenv("MEMFUSE_HTTP_ADDR")
	assert.Equal(t, ":8088", addr())
}

func TestAddr_UsesEnvOverride(t *testing.T) {
	os.Setenv("MEMFUSE_HTTP_ADDR", ":9090")
	defer os.Unsetenv("MEMFUSE_HTTP_ADDR")
	assert.Equal(t, ":9090", addr())
}

func TestNewMux_HealthAndReadyEndpointsRespondOK(t *testing.T) {
	mux := newMux(nil)

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestHandleTurn_RejectsNonPost(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/turn", nil)
	rec := httptest.NewRecorder()

	handleTurn(nil, rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleTurn_RejectsMalformedJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/turn", strings.NewReader("not json"))
	rec := httptest.NewRecorder()

	handleTurn(nil, rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleTurn_RejectsMissingRequiredFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/turn", strings.NewReader(`{"text":""}`))
	rec := httptest.NewRecorder()

	handleTurn(nil, rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNoopTrigger_OnRoundCompleteIsANoop(t *testing.T) {
	assert.NoError(t, noopTrigger{}.OnRoundComplete(nil, "s", 1, 10))
}
