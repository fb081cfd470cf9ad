package callback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxrun/engine/internal/types"
)

func TestEmitDeliversPayload(t *testing.T) {
	received := make(chan types.Submission, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sub types.Submission
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sub))
		received <- sub
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := New(time.Second, nil)
	e.Emit(context.Background(), &types.Submission{ID: "x1", Status: types.StatusAccepted, CallbackURL: srv.URL})

	select {
	case sub := <-received:
		assert.Equal(t, "x1", sub.ID)
		assert.Equal(t, types.StatusAccepted, sub.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not delivered")
	}
}

func TestEmitSurvivesUnreachableEndpoint(t *testing.T) {
	e := New(50*time.Millisecond, nil)
	assert.NotPanics(t, func() {
		e.Emit(context.Background(), &types.Submission{ID: "x2", CallbackURL: "http://127.0.0.1:1"})
	})
}
