package credential

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/verify":
			var req Request
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			_ = json.NewEncoder(w).Encode(map[string]bool{"verified": req.Proof == "good"})
		case "/health":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, false)
	ctx := context.Background()

	ok, err := c.Verify(ctx, Request{StudentID: "stu-1", SessionID: "s-1", Proof: "good"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Verify(ctx, Request{StudentID: "stu-1", SessionID: "s-1", Proof: "bad"})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.Verify(ctx, Request{StudentID: "stu-1", SessionID: "s-1"})
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, c.Health(ctx))
}

func TestVerifyServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	ok, err := New(srv.URL, false).Verify(context.Background(), Request{Proof: "x"})
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestVerifySkip(t *testing.T) {
	c := New("http://unused.invalid", true)
	ok, err := c.Verify(context.Background(), Request{Proof: "anything"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, c.Health(context.Background()))
}
