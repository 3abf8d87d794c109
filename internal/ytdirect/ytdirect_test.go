package ytdirect

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"fknsrs.biz/p/ytcampaigns/internal/videostats"
)

const watchPage = `<!doctype html>
<html><head><title>Launch video - YouTube</title></head>
<body>
<script nonce="x">var ytcfg = {};</script>
<script nonce="x">var ytInitialPlayerResponse = {"playabilityStatus":{"status":"OK"},"videoDetails":{"videoId":"dQw4w9WgXcQ","title":"Launch video","viewCount":"98765","shortDescription":"short"},"microformat":{"playerMicroformatRenderer":{"title":{"simpleText":"Launch video"},"description":{"simpleText":"All about it"},"publishDate":"2024-02-01T07:00:00-08:00"}}};var meta = document.createElement('meta');</script>
</body></html>`

const unavailablePage = `<html><body><script>var ytInitialPlayerResponse = {"playabilityStatus":{"status":"ERROR","reason":"Video unavailable"}};</script></body></html>`

const dateOnlyPage = `<html><body><script>var ytInitialPlayerResponse = {"videoDetails":{"videoId":"abcdefghijk","title":"Old","viewCount":"3"},"microformat":{"playerMicroformatRenderer":{"publishDate":"2019-05-04"}}};</script></body></html>`

func TestGetVideo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("v") {
		case "dQw4w9WgXcQ":
			rw.Write([]byte(watchPage))
		case "unavailable":
			rw.Write([]byte(unavailablePage))
		case "abcdefghijk":
			rw.Write([]byte(dateOnlyPage))
		case "noscript123":
			rw.Write([]byte(`<html><body>nothing here</body></html>`))
		case "broken12345":
			rw.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(rw, r)
		}
	}))
	defer srv.Close()

	published := time.Date(2024, 2, 1, 15, 0, 0, 0, time.UTC)
	oldPublished := time.Date(2019, 5, 4, 0, 0, 0, 0, time.UTC)

	for _, tc := range []struct {
		id       string
		video    *videostats.Video
		notFound bool
		err      string
	}{
		{id: "dQw4w9WgXcQ", video: &videostats.Video{ID: "dQw4w9WgXcQ", Title: "Launch video", Description: "All about it", PublishedAt: &published, ViewCount: 98765}},
		{id: "abcdefghijk", video: &videostats.Video{ID: "abcdefghijk", Title: "Old", PublishedAt: &oldPublished, ViewCount: 3}},
		{id: "unavailable", notFound: true},
		{id: "noscript123", notFound: true},
		{id: "missing1234", notFound: true},
		{id: "broken12345", err: "status code: 500"},
	} {
		t.Run(tc.id, func(t *testing.T) {
			a := assert.New(t)

			v, err := NewClient(srv.URL).GetVideo(context.Background(), tc.id)

			switch {
			case tc.notFound:
				a.Nil(v)
				a.True(errors.Is(err, videostats.ErrVideoNotFound), "%v", err)
			case tc.err != "":
				a.Nil(v)
				if a.Error(err) {
					a.Contains(err.Error(), tc.err)
				}
			default:
				if a.NoError(err) && a.NotNil(v) {
					a.True(tc.video.PublishedAt.Equal(*v.PublishedAt))
					v.PublishedAt = tc.video.PublishedAt
					a.Equal(tc.video, v)
				}
			}
		})
	}
}
