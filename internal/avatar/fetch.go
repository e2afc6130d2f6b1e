// Package avatar locates a contact's avatar image across the shapes the
// provider may answer with: a direct image, an authenticated template
// endpoint, a query-token variant of it, or a JSON document pointing at the
// actual image.
package avatar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNoAvatar means every fallback was exhausted without yielding an
// image. Avatar sync is best-effort; callers treat this as "skipped", not
// as a failure.
var ErrNoAvatar = errors.New("no avatar available")

// StatusError reports a non-2xx answer from an avatar URL.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("download_failed status=%d", e.Status)
}

const (
	phonePlaceholder = "{phone}"
	maxImageBytes    = 10 << 20
)

type Image struct {
	Data        []byte
	ContentType string
}

type Fetcher struct {
	// URLTemplate is the provider endpoint with a {phone} placeholder.
	// Empty disables the template fallback.
	URLTemplate string
	ClientToken string
	HTTPClient  *http.Client
}

func NewFetcher(urlTemplate, clientToken string) *Fetcher {
	return &Fetcher{
		URLTemplate: strings.TrimSpace(urlTemplate),
		ClientToken: strings.TrimSpace(clientToken),
		HTTPClient:  &http.Client{Timeout: 20 * time.Second},
	}
}

// Fetch retrieves the avatar image. An explicit URL is fetched directly and
// its failure propagates. Without one, the template fallbacks are tried in
// order and exhaustion yields ErrNoAvatar.
func (f *Fetcher) Fetch(ctx context.Context, explicitURL, phone string) (Image, error) {
	if strings.TrimSpace(explicitURL) != "" {
		return f.get(ctx, explicitURL, "")
	}
	if f.URLTemplate == "" || !strings.Contains(f.URLTemplate, phonePlaceholder) {
		return Image{}, ErrNoAvatar
	}

	endpoint := strings.ReplaceAll(f.URLTemplate, phonePlaceholder, url.QueryEscape(phone))

	// Authenticated request first, then the query-string token variant.
	img, err := f.getFollowingJSON(ctx, endpoint, f.ClientToken)
	if err == nil {
		return img, nil
	}
	if f.ClientToken != "" {
		img, err = f.getFollowingJSON(ctx, withTokenParam(endpoint, f.ClientToken), "")
		if err == nil {
			return img, nil
		}
	}
	return Image{}, ErrNoAvatar
}

// getFollowingJSON fetches the endpoint and, when the provider answers
// with a JSON document instead of image bytes, follows the nested image
// URL with a second fetch.
func (f *Fetcher) getFollowingJSON(ctx context.Context, endpoint, bearer string) (Image, error) {
	img, err := f.get(ctx, endpoint, bearer)
	if err != nil {
		return Image{}, err
	}
	if !looksLikeJSON(img) {
		return img, nil
	}
	nested := nestedImageURL(img.Data)
	if nested == "" {
		return Image{}, ErrNoAvatar
	}
	return f.get(ctx, nested, "")
}

func (f *Fetcher) get(ctx context.Context, rawURL, bearer string) (Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Image{}, err
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return Image{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Image{}, &StatusError{Status: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return Image{}, err
	}
	if len(data) > maxImageBytes {
		return Image{}, fmt.Errorf("avatar exceeds %d bytes", maxImageBytes)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return Image{Data: data, ContentType: contentType}, nil
}

func looksLikeJSON(img Image) bool {
	if strings.Contains(strings.ToLower(img.ContentType), "json") {
		return true
	}
	trimmed := strings.TrimSpace(string(img.Data))
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}

// nestedImageURL digs an image URL out of the provider's JSON response.
// Providers disagree on the field name, so several are tried.
func nestedImageURL(raw []byte) string {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	for _, key := range []string{"profilePicUrl", "avatarUrl", "urlAvatar", "url", "image", "picture"} {
		if s, ok := doc[key].(string); ok && strings.HasPrefix(s, "http") {
			return s
		}
	}
	if result, ok := doc["result"].(map[string]any); ok {
		for _, key := range []string{"avatar", "url", "image"} {
			if s, ok := result[key].(string); ok && strings.HasPrefix(s, "http") {
				return s
			}
		}
	}
	return ""
}

func withTokenParam(endpoint, token string) string {
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + "token=" + url.QueryEscape(token)
}
