package ytapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Jeffail/gabs/v2"

	"fknsrs.biz/p/ytcampaigns/internal/ctxhttpclient"
	"fknsrs.biz/p/ytcampaigns/internal/videostats"
)

const DefaultBaseURL = "https://www.googleapis.com/youtube/v3"

// Client reads video statistics from the YouTube Data API v3.
type Client struct {
	APIKey  string
	BaseURL string
}

func NewClient(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{APIKey: apiKey, BaseURL: strings.TrimSuffix(baseURL, "/")}
}

type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("youtube api responded with status %d", e.StatusCode)
	}

	return fmt.Sprintf("youtube api responded with status %d: %s", e.StatusCode, e.Message)
}

func (c *Client) GetVideo(ctx context.Context, id string) (*videostats.Video, error) {
	u := c.BaseURL + "/videos?" + url.Values{
		"part": {"snippet,statistics"},
		"id":   {id},
		"key":  {c.APIKey},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("ytapi.Client.GetVideo: %w", err)
	}

	res, err := ctxhttpclient.GetHTTPClient(ctx).Do(req)
	if err != nil {
		return nil, fmt.Errorf("ytapi.Client.GetVideo: could not perform request: %w", err)
	}
	defer res.Body.Close()

	j, err := gabs.ParseJSONBuffer(res.Body)
	if err != nil {
		if res.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("ytapi.Client.GetVideo: %w", &APIError{StatusCode: res.StatusCode})
		}

		return nil, fmt.Errorf("ytapi.Client.GetVideo: could not parse response: %w", err)
	}

	if res.StatusCode != http.StatusOK {
		message, _ := j.Path("error.message").Data().(string)
		return nil, fmt.Errorf("ytapi.Client.GetVideo: %w", &APIError{StatusCode: res.StatusCode, Message: message})
	}

	items := j.Path("items").Children()
	if len(items) == 0 {
		return nil, fmt.Errorf("ytapi.Client.GetVideo: %q: %w", id, videostats.ErrVideoNotFound)
	}

	return parseItem(id, items[0])
}

// parseItem needs both requested parts. Counters missing from statistics
// read as zero, but a missing part means the video has no usable data.
func parseItem(id string, item *gabs.Container) (*videostats.Video, error) {
	for _, part := range []string{"snippet", "statistics"} {
		if _, ok := item.Path(part).Data().(map[string]interface{}); !ok {
			return nil, fmt.Errorf("ytapi.parseItem: %q has no %s: %w", id, part, videostats.ErrVideoNotFound)
		}
	}

	v := videostats.Video{ID: id}

	if s, ok := item.Path("id").Data().(string); ok && s != "" {
		v.ID = s
	}
	v.Title, _ = item.Path("snippet.title").Data().(string)
	v.Description, _ = item.Path("snippet.description").Data().(string)

	if s, ok := item.Path("snippet.publishedAt").Data().(string); ok && s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("ytapi.parseItem: invalid publishedAt %q: %w", s, err)
		}
		v.PublishedAt = &t
	}

	var err error
	if v.ViewCount, err = count(item, "statistics.viewCount"); err != nil {
		return nil, fmt.Errorf("ytapi.parseItem: %w", err)
	}
	if v.CommentCount, err = count(item, "statistics.commentCount"); err != nil {
		return nil, fmt.Errorf("ytapi.parseItem: %w", err)
	}

	return &v, nil
}

// count reads a statistics counter, which the API sends as a decimal
// string. Hidden counters are absent and read as zero.
func count(item *gabs.Container, path string) (int64, error) {
	switch v := item.Path(path).Data().(type) {
	case nil:
		return 0, nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("ytapi.count: invalid %s %q: %w", path, v, err)
		}
		return n, nil
	case float64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("ytapi.count: unexpected %s type %T", path, v)
	}
}
