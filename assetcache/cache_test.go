package assetcache

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
	bolt "go.etcd.io/bbolt"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

type upstream struct {
	calls int
	down  bool
}

func (u *upstream) RoundTrip(r *http.Request) (*http.Response, error) {
	u.calls++
	if u.down {
		return nil, errors.New("offline")
	}
	status := http.StatusOK
	if r.URL.Path == "/missing" {
		status = http.StatusNotFound
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": {"text/html"}},
		Body:       io.NopCloser(strings.NewReader("page " + r.URL.RequestURI())),
	}, nil
}

func openDB(t *testing.T) *bolt.DB {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "assets.db"), 0o600, nil)
	assert.Equal(t, err, nil)
	t.Cleanup(func() { db.Close() })
	return db
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestCacheFirst(t *testing.T) {
	up := &upstream{}
	c, err := New(openDB(t), "", up)
	assert.Equal(t, err, nil)

	rec := get(c, "/index.html?x=1")
	assert.Equal(t, rec.Code, http.StatusOK)
	assert.Equal(t, rec.Body.String(), "page /index.html?x=1")
	assert.Equal(t, up.calls, 1)

	up.down = true
	rec = get(c, "/index.html?x=1")
	assert.Equal(t, rec.Code, http.StatusOK)
	assert.Equal(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Equal(t, rec.Body.String(), "page /index.html?x=1")
	assert.Equal(t, up.calls, 1)
}

func TestOnlyOKIsStored(t *testing.T) {
	up := &upstream{}
	c, err := New(openDB(t), Version, up)
	assert.Equal(t, err, nil)

	assert.Equal(t, get(c, "/missing").Code, http.StatusNotFound)
	assert.Equal(t, get(c, "/missing").Code, http.StatusNotFound)
	assert.Equal(t, up.calls, 2)
}

func TestApologyWhenNothingToServe(t *testing.T) {
	c, err := New(openDB(t), Version, &upstream{down: true})
	assert.Equal(t, err, nil)

	rec := get(c, "/app.js")
	assert.Equal(t, rec.Code, http.StatusRequestTimeout)
	assert.Equal(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Equal(t, rec.Body.String(), Apology)
}

func TestVersionStartsEmpty(t *testing.T) {
	db := openDB(t)
	up := &upstream{}
	old, err := New(db, "v1", up)
	assert.Equal(t, err, nil)
	get(old, "/")

	up.down = true
	current, err := New(db, "v2", up)
	assert.Equal(t, err, nil)
	assert.Equal(t, get(current, "/").Code, http.StatusRequestTimeout)
	assert.Equal(t, get(old, "/").Code, http.StatusOK)
}

func TestPostIsNotCached(t *testing.T) {
	up := &upstream{}
	c, err := New(openDB(t), Version, up)
	assert.Equal(t, err, nil)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		c.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/form", nil))
		assert.Equal(t, rec.Code, http.StatusOK)
	}
	assert.Equal(t, up.calls, 2)
}

func TestDirUpstream(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte(`console.log("typewriter")`), 0o600), nil)
	c, err := New(openDB(t), Version, Dir(dir))
	assert.Equal(t, err, nil)

	rec := get(c, "/app.js")
	assert.Equal(t, rec.Code, http.StatusOK)
	assert.Equal(t, rec.Body.String(), `console.log("typewriter")`)
}

func TestOriginUpstream(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "from origin "+r.URL.Path)
	}))
	defer origin.Close()

	up, err := Origin(origin.URL)
	assert.Equal(t, err, nil)
	var seen string
	wrapped := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		resp, err := up.RoundTrip(r)
		seen = r.URL.Host
		return resp, err
	})
	c, err := New(openDB(t), Version, wrapped)
	assert.Equal(t, err, nil)

	rec := get(c, "/main.js")
	assert.Equal(t, rec.Body.String(), "from origin /main.js")
	assert.Equal(t, seen, strings.TrimPrefix(origin.URL, "http://"))
}
