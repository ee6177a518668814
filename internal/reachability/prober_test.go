package reachability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbe_HeadSuccessClassifiesAndReturns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New()
	res := p.Probe(context.Background(), srv.URL, time.Second, PolicyStrict)
	assert.True(t, res.OK)
	require.NotNil(t, res.Method)
	assert.Equal(t, http.MethodHead, *res.Method)
}

func TestProbe_405OnHeadForcesGetRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New()
	res := p.Probe(context.Background(), srv.URL, time.Second, PolicyStrict)
	assert.True(t, res.OK)
	require.NotNil(t, res.Method)
	assert.Equal(t, http.MethodGet, *res.Method)
}

func TestProbe_422StrictVsLoose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(422)
	}))
	defer srv.Close()

	p := New()
	strict := p.Probe(context.Background(), srv.URL, time.Second, PolicyStrict)
	assert.False(t, strict.OK)

	loose := p.Probe(context.Background(), srv.URL, time.Second, PolicyLoose)
	assert.True(t, loose.OK)
}

func TestProbe_ConnectionFailureIsUnreachable(t *testing.T) {
	p := New()
	res := p.Probe(context.Background(), "http://127.0.0.1:1", 200*time.Millisecond, PolicyStrict)
	assert.False(t, res.OK)
	assert.Nil(t, res.Status)
}

func TestProbe_404IsUnreachableUnderBothPolicies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := New()
	assert.False(t, p.Probe(context.Background(), srv.URL, time.Second, PolicyStrict).OK)
	assert.False(t, p.Probe(context.Background(), srv.URL, time.Second, PolicyLoose).OK)
}
