// Package assetcache serves the UI cache-first so it keeps loading when the
// upstream is gone.
package assetcache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang/glog"
	bolt "go.etcd.io/bbolt"
)

// Version names the bucket responses are kept in. Changing it starts an
// empty cache.
const Version = "v2"

// Apology is the body sent when nothing can be served.
const Apology = "im sorry :( something went wrong and i have no idea what or why. please email me problems@chee.party"

type entry struct {
	Status int         `cbor:"1,keyasint"`
	Header http.Header `cbor:"2,keyasint"`
	Body   []byte      `cbor:"3,keyasint"`
}

// Cache is an http.Handler answering from a bbolt bucket first and from
// upstream on a miss.
type Cache struct {
	db       *bolt.DB
	bucket   []byte
	upstream http.RoundTripper
}

// New opens the cache bucket for version in db. upstream fetches misses; the
// request it gets carries only the method, the path and the query.
func New(db *bolt.DB, version string, upstream http.RoundTripper) (*Cache, error) {
	if version == "" {
		version = Version
	}
	c := &Cache{db: db, bucket: []byte("assets-" + version), upstream: upstream}
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(c.bucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", c.bucket, err)
	}
	return c, nil
}

// Dir is an upstream serving files from dir.
func Dir(dir string) http.RoundTripper {
	return http.NewFileTransport(http.Dir(dir))
}

// Origin is an upstream forwarding to base over HTTP.
func Origin(base string) (http.RoundTripper, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	return originTransport{base: u}, nil
}

type originTransport struct {
	base *url.URL
}

func (o originTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r.URL.Scheme = o.base.Scheme
	r.URL.Host = o.base.Host
	r.Host = o.base.Host
	return http.DefaultTransport.RoundTrip(r)
}

func (c *Cache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.URL.RequestURI()
	if r.Method == http.MethodGet {
		if e, ok := c.lookup(key); ok {
			glog.V(2).Infof("[assets]hit %s\n", key)
			write(w, e)
			return
		}
	}

	e, err := c.fetch(r)
	if err != nil {
		glog.Infof("[assets]%s %s error = %v\n", r.Method, key, err)
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusRequestTimeout)
		io.WriteString(w, Apology)
		return
	}
	if r.Method == http.MethodGet && e.Status == http.StatusOK {
		if err := c.store(key, e); err != nil {
			glog.Errorf("[assets]store %s error = %v\n", key, err)
		}
	}
	write(w, e)
}

func (c *Cache) fetch(r *http.Request) (*entry, error) {
	u := &url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.URL = u
	resp, err := c.upstream.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &entry{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (c *Cache) lookup(key string) (*entry, bool) {
	var e entry
	var found bool
	err := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(c.bucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		return cbor.Unmarshal(v, &e)
	})
	if err != nil {
		glog.Errorf("[assets]read %s error = %v\n", key, err)
		return nil, false
	}
	return &e, found
}

func (c *Cache) store(key string, e *entry) error {
	data, err := cbor.Marshal(e)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(c.bucket).Put([]byte(key), data)
	})
}

func write(w http.ResponseWriter, e *entry) {
	for k, vs := range e.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(e.Status)
	io.Copy(w, bytes.NewReader(e.Body))
}
