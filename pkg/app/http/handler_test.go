package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/chainsafe/icco-contributor/pkg/app/errors"
	"github.com/chainsafe/icco-contributor/pkg/config"
)

func TestHandleError(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{"service error", apperrors.ConflictError(errors.New("dup"), "duplicate sale"), http.StatusConflict, "duplicate sale"},
		{"locked", apperrors.LockedError(nil, "sale not yet ended"), http.StatusLocked, "sale not yet ended"},
		{"unknown error", errors.New("boom"), http.StatusInternalServerError, "Unexpected Service Error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := HandleError(func(http.ResponseWriter, *http.Request) error { return tc.err })
			rec := httptest.NewRecorder()
			h(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tc.wantCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body struct {
				Error string `json:"error"`
				Code  int    `json:"code"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.wantMsg, body.Error)
			assert.Equal(t, tc.wantCode, body.Code)
		})
	}
}

func TestHandleError_Success(t *testing.T) {
	h := HandleError(func(w http.ResponseWriter, _ *http.Request) error {
		w.WriteHeader(http.StatusAccepted)
		return nil
	})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestServeAndWait_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ServeAndWait(ctx, http.NotFoundHandler(), zap.NewNop(), &config.ServerConfig{Host: "127.0.0.1", Port: 0})
	}()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServeAndWait_RequiresConfig(t *testing.T) {
	assert.Error(t, ServeAndWait(context.Background(), http.NotFoundHandler(), nil, nil))
}
