package ytutil

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	ErrInvalidVideoID   = fmt.Errorf("invalid video url or id")
	ErrInvalidChannelID = fmt.Errorf("invalid channel url or id")
)

var videoIDPattern = regexp.MustCompile(`^[-_a-zA-Z0-9]{11}$`)

func isYouTubeHost(host string) bool {
	switch strings.ToLower(host) {
	case "youtube.com", "www.youtube.com", "m.youtube.com", "music.youtube.com":
		return true
	default:
		return false
	}
}

func checkVideoID(id string) (string, error) {
	if !videoIDPattern.MatchString(id) {
		return "", fmt.Errorf("ytutil.checkVideoID: %q should be 11 characters of [-_a-zA-Z0-9]: %w", id, ErrInvalidVideoID)
	}

	return id, nil
}

// ExtractVideoID accepts a bare 11 character video id, a youtube.com
// watch, shorts, embed or live URL, or a youtu.be short link.
func ExtractVideoID(urlOrID string) (string, error) {
	urlOrID = strings.TrimSpace(urlOrID)

	if videoIDPattern.MatchString(urlOrID) {
		return urlOrID, nil
	}

	if !strings.Contains(urlOrID, "://") && (strings.HasPrefix(urlOrID, "youtu") || strings.HasPrefix(urlOrID, "www.") || strings.HasPrefix(urlOrID, "m.")) {
		urlOrID = "https://" + urlOrID
	}

	parsed, err := url.Parse(urlOrID)
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("ytutil.ExtractVideoID: could not find a known pattern in %q: %w", urlOrID, ErrInvalidVideoID)
	}

	switch {
	case isYouTubeHost(parsed.Host) && parsed.Path == "/watch":
		id := parsed.Query().Get("v")
		if id == "" {
			return "", fmt.Errorf("ytutil.ExtractVideoID: no v query parameter in youtube.com url: %w", ErrInvalidVideoID)
		}

		return checkVideoID(id)
	case isYouTubeHost(parsed.Host):
		for _, prefix := range []string{"/shorts/", "/embed/", "/live/", "/v/"} {
			if strings.HasPrefix(parsed.Path, prefix) {
				return checkVideoID(strings.SplitN(strings.TrimPrefix(parsed.Path, prefix), "/", 2)[0])
			}
		}
	case strings.EqualFold(parsed.Host, "youtu.be"):
		id := strings.TrimPrefix(parsed.Path, "/")
		if id == "" {
			return "", fmt.Errorf("ytutil.ExtractVideoID: no path content found in youtu.be url: %w", ErrInvalidVideoID)
		}

		return checkVideoID(id)
	}

	return "", fmt.Errorf("ytutil.ExtractVideoID: could not find a known pattern in %q: %w", urlOrID, ErrInvalidVideoID)
}

// ExtractChannelID pulls the UC... id out of a /channel/ URL. Anything that
// isn't a URL (a bare id, a handle) is returned trimmed but otherwise as is.
func ExtractChannelID(urlOrID string) (string, error) {
	urlOrID = strings.TrimSpace(urlOrID)
	if urlOrID == "" {
		return "", fmt.Errorf("ytutil.ExtractChannelID: empty input: %w", ErrInvalidChannelID)
	}

	if !strings.Contains(urlOrID, "://") {
		return urlOrID, nil
	}

	parsed, err := url.Parse(urlOrID)
	if err != nil || !isYouTubeHost(parsed.Host) {
		return "", fmt.Errorf("ytutil.ExtractChannelID: not a youtube.com url: %w", ErrInvalidChannelID)
	}

	if id := parsed.Query().Get("channel_id"); id != "" {
		return id, nil
	}

	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(parts) >= 2 && parts[0] == "channel" && parts[1] != "" {
		return parts[1], nil
	}

	return "", fmt.Errorf("ytutil.ExtractChannelID: could not find a channel id in %q: %w", urlOrID, ErrInvalidChannelID)
}
