// Package media integrates external GIF search and image generation
// providers for post composition.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/sportsblock/sportsblock/internal/httputil"
	"github.com/sportsblock/sportsblock/pkg/logger"
)

const maxMediaResponse = 4 << 20

// GIF is one search result.
type GIF struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	PreviewURL string `json:"preview_url,omitempty"`
}

// GeneratedImage is the result of an image generation request.
type GeneratedImage struct {
	URL           string `json:"url"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

// Config carries the provider endpoints and credentials.
type Config struct {
	GifSearchURL string
	GifAPIKey    string
	ImageGenURL  string
	ImageGenKey  string
	Timeout      time.Duration
}

// Service is the media gateway. Either provider may be unconfigured; the
// matching method then returns an error.
type Service struct {
	cfg    Config
	client *http.Client
	log    *logger.Logger
}

// New constructs the service.
func New(cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("media")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Service{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, log: log}
}

// SearchGIFs queries the GIF provider.
func (s *Service) SearchGIFs(ctx context.Context, query string, limit int) ([]GIF, error) {
	if s.cfg.GifSearchURL == "" {
		return nil, fmt.Errorf("gif search is not configured")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query is required")
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("key", s.cfg.GifAPIKey)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("media_filter", "gif,tinygif")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.GifSearchURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	body, err := s.do(req)
	if err != nil {
		return nil, fmt.Errorf("gif search: %w", err)
	}

	results := gjson.GetBytes(body, "results")
	gifs := make([]GIF, 0, limit)
	for _, item := range results.Array() {
		gif := GIF{
			ID:         item.Get("id").String(),
			Title:      item.Get("title").String(),
			URL:        item.Get("media_formats.gif.url").String(),
			PreviewURL: item.Get("media_formats.tinygif.url").String(),
		}
		if gif.URL == "" {
			continue
		}
		gifs = append(gifs, gif)
	}
	return gifs, nil
}

// GenerateImage asks the image provider to render a prompt.
func (s *Service) GenerateImage(ctx context.Context, prompt string) (GeneratedImage, error) {
	if s.cfg.ImageGenURL == "" {
		return GeneratedImage{}, fmt.Errorf("image generation is not configured")
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return GeneratedImage{}, fmt.Errorf("prompt is required")
	}
	if len(prompt) > 1000 {
		return GeneratedImage{}, fmt.Errorf("prompt too long")
	}

	payload, err := json.Marshal(map[string]any{"prompt": prompt, "n": 1, "size": "1024x1024"})
	if err != nil {
		return GeneratedImage{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.ImageGenURL, bytes.NewReader(payload))
	if err != nil {
		return GeneratedImage{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.cfg.ImageGenKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.ImageGenKey)
	}

	body, err := s.do(req)
	if err != nil {
		return GeneratedImage{}, fmt.Errorf("image generation: %w", err)
	}

	first := gjson.GetBytes(body, "data.0")
	img := GeneratedImage{
		URL:           first.Get("url").String(),
		RevisedPrompt: first.Get("revised_prompt").String(),
	}
	if img.URL == "" {
		return GeneratedImage{}, fmt.Errorf("image provider returned no image")
	}
	return img, nil
}

func (s *Service) do(req *http.Request) ([]byte, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := httputil.ReadAllStrict(resp.Body, maxMediaResponse)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
