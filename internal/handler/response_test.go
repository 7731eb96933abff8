package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch/internal/repository"
	"dispatch/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("load request: %w", repository.ErrNotFound), http.StatusNotFound},
		{"invalid location", service.ErrInvalidLocation, http.StatusBadRequest},
		{"price out of bounds", &service.PriceOutOfBoundsError{Price: 9000, Min: 2500, Max: 7500}, http.StatusBadRequest},
		{"not requester", service.ErrNotRequester, http.StatusForbidden},
		{"bidding closed", service.ErrBiddingClosed, http.StatusConflict},
		{"duplicate", repository.ErrDuplicate, http.StatusConflict},
		{"too early", &service.TooEarlyError{Remaining: 30 * time.Second}, http.StatusUnprocessableEntity},
		{"no credits", &service.InsufficientCreditsError{}, http.StatusUnprocessableEntity},
		{"unknown", errors.New("connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mapErrorToHTTPStatus(tt.err))
		})
	}
}

func respond(t *testing.T, err error) (*httptest.ResponseRecorder, ErrorResponse, *gin.Context) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	respondError(c, err)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body, c
}

func TestRespondError_MeasuredFields(t *testing.T) {
	w, body, _ := respond(t, &service.TooEarlyError{Remaining: 29500 * time.Millisecond})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.NotNil(t, body.RemainingSeconds)
	assert.Equal(t, 30, *body.RemainingSeconds)
	assert.Nil(t, body.DistanceMeters)

	w, body, _ = respond(t, &service.TooFarError{DistanceMeters: 250, MaxMeters: 100})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.NotNil(t, body.DistanceMeters)
	assert.Equal(t, 250.0, *body.DistanceMeters)
	assert.Equal(t, 100.0, *body.MaxMeters)

	_, body, _ = respond(t, fmt.Errorf("consume: %w", &service.InsufficientCreditsError{Balance: 0}))
	require.NotNil(t, body.Balance)
	assert.Equal(t, 0, *body.Balance)

	w, body, _ = respond(t, &service.PriceOutOfBoundsError{Price: 8000, Min: 2500, Max: 7500})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, body.MinPrice)
	assert.Equal(t, int64(2500), *body.MinPrice)
	assert.Equal(t, int64(7500), *body.MaxPrice)
}

func TestRespondError_InternalErrorsAreHidden(t *testing.T) {
	w, body, c := respond(t, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal error", body.Error)
	require.Len(t, c.Errors, 1, "the cause is attached for the error reporter")
	assert.Contains(t, c.Errors[0].Error(), "password")
}

func TestDispatchStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusAccepted, dispatchStatusCode(&service.DispatchResult{Outcome: service.DispatchNoDriverAvailable}))
	assert.Equal(t, http.StatusOK, dispatchStatusCode(&service.DispatchResult{Outcome: service.DispatchAssigned}))
}

func TestFormatTime(t *testing.T) {
	assert.Empty(t, formatTime(time.Time{}))

	kinshasa := time.FixedZone("WAT", 3600)
	assert.Equal(t, "2026-03-02T08:00:00Z", formatTime(time.Date(2026, 3, 2, 9, 0, 0, 0, kinshasa)))
}
