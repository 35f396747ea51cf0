package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURLs_WithConfiguredProject(t *testing.T) {
	tr := New(Options{Host: "http://lf:3000/", ProjectID: "p1"})
	ctx := context.Background()

	assert.Equal(t, "http://lf:3000/project/p1/sessions/s1", tr.SessionURL(ctx, "s1"))
	assert.Equal(t, "http://lf:3000/project/p1/traces/r1", tr.TraceURL(ctx, "r1"))
	assert.Equal(t, "", tr.TraceURL(ctx, ""))
}

func TestProjectID_ResolvedOnceWithBasicAuth(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/api/public/projects", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "pk" || pass != "sk" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"proj-9","name":"podflix"}]}`))
	}))
	defer srv.Close()

	tr := New(Options{Host: srv.URL, PublicKey: "pk", SecretKey: "sk"})
	ctx := context.Background()

	require.NoError(t, tr.CheckCredentials(ctx))
	assert.Equal(t, srv.URL+"/project/proj-9/traces/abc", tr.TraceURL(ctx, "abc"))
	assert.Equal(t, int32(1), hits.Load())
}

func TestProjectID_BadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tr := New(Options{Host: srv.URL, PublicKey: "x", SecretKey: "y"})
	assert.ErrorIs(t, tr.CheckCredentials(context.Background()), ErrBadCredentials)
	assert.Equal(t, "", tr.SessionURL(context.Background(), "s"))
}

func TestInitProvider_NoneIsNoop(t *testing.T) {
	shutdown, err := InitProvider("podflix-test", "none")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
