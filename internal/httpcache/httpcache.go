package httpcache

import (
	"bytes"
	"crypto/sha1"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"go.etcd.io/bbolt"

	"fknsrs.biz/p/ytcampaigns/internal/ctxclock"
)

// CachedResponse is the stored form of a successful GET response.
type CachedResponse struct {
	UpdatedAt  time.Time
	URL        string
	Status     string
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *CachedResponse) makeResponse(req *http.Request) *http.Response {
	return &http.Response{
		Status:        r.Status,
		StatusCode:    r.StatusCode,
		Header:        r.Header,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}

type Storage interface {
	Fetch(u *url.URL) (*CachedResponse, error)
	Save(u *url.URL, res *http.Response, now time.Time) (*CachedResponse, error)
}

var bboltBucketName = []byte("cache")

type BBoltStorage struct {
	db *bbolt.DB
}

func NewBBoltStorage(db *bbolt.DB) *BBoltStorage {
	return &BBoltStorage{db: db}
}

// makeBBoltKey hashes the whole URL, query included, so API requests for
// different videos never share an entry.
func makeBBoltKey(u *url.URL) []byte {
	h := sha1.New()
	io.WriteString(h, u.String())
	return []byte(path.Join(u.Host, hex.EncodeToString(h.Sum(nil))))
}

func (s *BBoltStorage) Fetch(u *url.URL) (*CachedResponse, error) {
	var d []byte

	if err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bboltBucketName)
		if b == nil {
			return nil
		}

		// values are only valid for the life of the transaction
		if v := b.Get(makeBBoltKey(u)); v != nil {
			d = append([]byte(nil), v...)
		}

		return nil
	}); err != nil {
		return nil, fmt.Errorf("httpcache.BBoltStorage.Fetch: %w", err)
	}

	if d == nil {
		return nil, nil
	}

	var r CachedResponse
	if err := gob.NewDecoder(bytes.NewReader(d)).Decode(&r); err != nil {
		return nil, fmt.Errorf("httpcache.BBoltStorage.Fetch: could not decode entry: %w", err)
	}

	return &r, nil
}

func (s *BBoltStorage) Save(u *url.URL, res *http.Response, now time.Time) (*CachedResponse, error) {
	d, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("httpcache.BBoltStorage.Save: could not read body: %w", err)
	}

	r := CachedResponse{
		UpdatedAt:  now,
		URL:        u.String(),
		Status:     res.Status,
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       d,
	}

	buf := bytes.NewBuffer(nil)
	if err := gob.NewEncoder(buf).Encode(r); err != nil {
		return nil, fmt.Errorf("httpcache.BBoltStorage.Save: could not encode entry: %w", err)
	}

	if err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bboltBucketName)
		if err != nil {
			return err
		}

		return b.Put(makeBBoltKey(u), buf.Bytes())
	}); err != nil {
		return nil, fmt.Errorf("httpcache.BBoltStorage.Save: %w", err)
	}

	return &r, nil
}

type Transport struct {
	transport http.RoundTripper
	storage   Storage
	maxAge    time.Duration
}

func NewTransport(transport http.RoundTripper, storage Storage, maxAge time.Duration) *Transport {
	if transport == nil {
		transport = http.DefaultTransport
	}

	if maxAge == 0 {
		maxAge = time.Hour * 24
	}

	return &Transport{
		transport: transport,
		storage:   storage,
		maxAge:    maxAge,
	}
}

// RoundTrip serves fresh cached GET responses and stores successful ones.
// Requests asking for "Cache-Control: no-cache" skip the lookup but still
// refresh the entry.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		return t.transport.RoundTrip(req)
	}

	now := ctxclock.Now(req.Context())

	if req.Header.Get("cache-control") != "no-cache" {
		if cr, err := t.storage.Fetch(req.URL); err == nil && cr != nil && now.Sub(cr.UpdatedAt) < t.maxAge {
			return cr.makeResponse(req), nil
		}
	}

	res, err := t.transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if res.StatusCode != http.StatusOK {
		return res, nil
	}

	cr, err := t.storage.Save(req.URL, res, now)
	if err != nil {
		return nil, fmt.Errorf("httpcache.Transport.RoundTrip: %w", err)
	}

	return cr.makeResponse(req), nil
}
