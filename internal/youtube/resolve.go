package youtube

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

var videoIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/live/)([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`studio\.youtube\.com/video/([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`^([a-zA-Z0-9_-]{11})$`),
}

var (
	canonicalVideoPattern = regexp.MustCompile(`<link rel="canonical" href="[^"]*[?&]v=([a-zA-Z0-9_-]{11})`)
	embeddedVideoPattern  = regexp.MustCompile(`"videoId":\s*"([a-zA-Z0-9_-]{11})"`)
)

// ExtractVideoID pulls an 11-character video id out of the common URL
// forms (watch, youtu.be, /live/, studio) or accepts a bare id.
func ExtractVideoID(s string) (string, bool) {
	for _, p := range videoIDPatterns {
		if m := p.FindStringSubmatch(s); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// ResolveLiveVideoID finds the video id of a channel's current live stream
// by fetching its /live page. The identifier may be a handle (@name), a
// channel id (UC...), a channel URL, or a bare handle. Returns an error if
// the channel is not currently live.
func ResolveLiveVideoID(ctx context.Context, identifier string) (string, error) {
	return resolveLiveVideoID(ctx, &http.Client{Timeout: 15 * time.Second}, "", identifier)
}

func resolveLiveVideoID(ctx context.Context, client *http.Client, baseURL, identifier string) (string, error) {
	var url string
	switch {
	case strings.HasPrefix(identifier, "@"):
		url = "https://www.youtube.com/" + identifier + "/live"
	case strings.HasPrefix(identifier, "UC"):
		url = "https://www.youtube.com/channel/" + identifier + "/live"
	case strings.Contains(identifier, "youtube.com"):
		url = strings.TrimRight(identifier, "/")
		if !strings.HasSuffix(url, "/live") {
			url += "/live"
		}
	default:
		url = "https://www.youtube.com/@" + identifier + "/live"
	}
	if baseURL != "" {
		// Test servers stand in for youtube.com.
		if i := strings.Index(url, ".com"); i >= 0 {
			url = baseURL + url[i+len(".com"):]
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("channel page returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	html := string(body)

	isLive := strings.Contains(html, `"isLive":true`) || strings.Contains(html, `"isLiveBroadcast":true`)
	if !isLive {
		return "", fmt.Errorf("no live stream found for %s", identifier)
	}

	// The redirect target, the canonical link, and the embedded player data
	// are tried in that order.
	if id, ok := ExtractVideoID(resp.Request.URL.String()); ok {
		return id, nil
	}
	if m := canonicalVideoPattern.FindStringSubmatch(html); m != nil {
		return m[1], nil
	}
	if m := embeddedVideoPattern.FindStringSubmatch(html); m != nil {
		return m[1], nil
	}
	return "", fmt.Errorf("live stream for %s has no discoverable video id", identifier)
}
