package ytdirect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"fknsrs.biz/p/ytcampaigns/internal/ctxhttpclient"
	"fknsrs.biz/p/ytcampaigns/internal/videostats"
)

const DefaultBaseURL = "https://www.youtube.com"

// Client reads video statistics from public watch pages. It needs no API
// key, but the page carries no comment count, so CommentCount is always
// zero.
type Client struct {
	BaseURL string
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{BaseURL: strings.TrimSuffix(baseURL, "/")}
}

func getDocument(ctx context.Context, u string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("ytdirect.getDocument: %w", err)
	}

	res, err := ctxhttpclient.GetHTTPClient(ctx).Do(req)
	if err != nil {
		return nil, fmt.Errorf("ytdirect.getDocument: %w", err)
	}

	if res.StatusCode == http.StatusNotFound {
		res.Body.Close()
		return nil, fmt.Errorf("ytdirect.getDocument: %w", videostats.ErrVideoNotFound)
	}
	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		return nil, fmt.Errorf("ytdirect.getDocument: status code: %d", res.StatusCode)
	}

	doc, err := goquery.NewDocumentFromResponse(res)
	if err != nil {
		return nil, fmt.Errorf("ytdirect.getDocument: %w", err)
	}

	return doc, nil
}

const playerResponseMarker = "ytInitialPlayerResponse = "

// findPlayerResponse decodes the first JSON value assigned to
// ytInitialPlayerResponse in any inline script. Whatever follows the value
// in the same script is ignored.
func findPlayerResponse(doc *goquery.Document) (*gabs.Container, error) {
	for _, node := range doc.Find("script").Nodes {
		if node.FirstChild == nil || node.FirstChild.Type != html.TextNode {
			continue
		}

		jsContent := node.FirstChild.Data

		i := strings.Index(jsContent, playerResponseMarker)
		if i == -1 {
			continue
		}

		j, err := gabs.ParseJSONDecoder(json.NewDecoder(strings.NewReader(jsContent[i+len(playerResponseMarker):])))
		if err != nil {
			return nil, fmt.Errorf("ytdirect.findPlayerResponse: %w", err)
		}

		return j, nil
	}

	return nil, nil
}

func (c *Client) GetVideo(ctx context.Context, id string) (*videostats.Video, error) {
	doc, err := getDocument(ctx, c.BaseURL+"/watch?"+url.Values{"v": {id}}.Encode())
	if err != nil {
		return nil, fmt.Errorf("ytdirect.Client.GetVideo: %w", err)
	}

	j, err := findPlayerResponse(doc)
	if err != nil {
		return nil, fmt.Errorf("ytdirect.Client.GetVideo: %w", err)
	}
	if j == nil {
		return nil, fmt.Errorf("ytdirect.Client.GetVideo: could not find player data in page: %w", videostats.ErrVideoNotFound)
	}

	v, err := parsePlayerResponse(j)
	if err != nil {
		return nil, fmt.Errorf("ytdirect.Client.GetVideo: %w", err)
	}

	return v, nil
}

const (
	playabilityStatusPath = "playabilityStatus.status"
	videoIDPath           = "videoDetails.videoId"
	videoViewCountPath    = "videoDetails.viewCount"
	videoShortDescPath    = "videoDetails.shortDescription"
	videoDetailsTitlePath = "videoDetails.title"
	videoTitlePath        = "microformat.playerMicroformatRenderer.title.simpleText"
	videoDescriptionPath  = "microformat.playerMicroformatRenderer.description.simpleText"
	videoPublishDatePath  = "microformat.playerMicroformatRenderer.publishDate"
	videoUploadDatePath   = "microformat.playerMicroformatRenderer.uploadDate"
)

func str(j *gabs.Container, paths ...string) string {
	for _, path := range paths {
		if s, ok := j.Path(path).Data().(string); ok && s != "" {
			return s
		}
	}

	return ""
}

func parsePlayerResponse(j *gabs.Container) (*videostats.Video, error) {
	if status := str(j, playabilityStatusPath); status == "ERROR" || (status == "LOGIN_REQUIRED" && !j.ExistsP(videoIDPath)) {
		return nil, fmt.Errorf("ytdirect.parsePlayerResponse: playability status %s: %w", status, videostats.ErrVideoNotFound)
	}

	v := videostats.Video{
		ID:          str(j, videoIDPath),
		Title:       str(j, videoTitlePath, videoDetailsTitlePath),
		Description: str(j, videoDescriptionPath, videoShortDescPath),
	}

	if v.ID == "" {
		return nil, fmt.Errorf("ytdirect.parsePlayerResponse: no video details: %w", videostats.ErrVideoNotFound)
	}

	if s := str(j, videoViewCountPath); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ytdirect.parsePlayerResponse: invalid view count %q: %w", s, err)
		}
		v.ViewCount = n
	}

	if s := str(j, videoPublishDatePath, videoUploadDatePath); s != "" {
		t, err := parseDate(s)
		if err != nil {
			return nil, fmt.Errorf("ytdirect.parsePlayerResponse: %w", err)
		}
		v.PublishedAt = &t
	}

	return &v, nil
}

// parseDate accepts both the bare dates and the full timestamps that watch
// pages have used for publishDate.
func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("ytdirect.parseDate: unrecognised date %q", s)
}
