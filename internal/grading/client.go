package grading

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/stemsi/clonearena-backend/internal/model"
)

// ClientConfig configures the grading client.
type ClientConfig struct {
	// GradeURL is the full URL of the grading endpoint.
	GradeURL string
	// AssetBaseURL resolves relative target image paths.
	AssetBaseURL string
	Timeout      time.Duration
}

// Client submits screenshots to the grading endpoint on behalf of an attempt.
type Client struct {
	http     *resty.Client
	gradeURL string
	base     *url.URL
	log      zerolog.Logger
}

// NewClient creates a grading client.
func NewClient(cfg ClientConfig, log zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}

	base, err := url.Parse(cfg.AssetBaseURL)
	if err != nil {
		log.Warn().Err(err).Str("asset_base_url", cfg.AssetBaseURL).Msg("Invalid asset base URL")
		base = nil
	}

	return &Client{
		http:     resty.New().SetTimeout(cfg.Timeout),
		gradeURL: cfg.GradeURL,
		base:     base,
		log:      log.With().Str("component", "grading_client").Logger(),
	}
}

// GradeAttempt returns the similarity of result against the image at
// targetURL. Every failure yields model.FallbackSimilarity.
func (c *Client) GradeAttempt(ctx context.Context, targetURL string, result []byte) int {
	similarity, err := c.grade(ctx, targetURL, result)
	if err != nil {
		c.log.Error().Err(err).Str("target", targetURL).Msg("Grading failed, using fallback score")
		return model.FallbackSimilarity
	}
	return similarity
}

func (c *Client) grade(ctx context.Context, targetURL string, result []byte) (int, error) {
	if targetURL == "" {
		return 0, errors.New("no target image")
	}
	if len(result) == 0 {
		return 0, errors.New("empty result screenshot")
	}

	target, err := c.fetchTarget(ctx, targetURL)
	if err != nil {
		return 0, err
	}

	var out struct {
		Similarity *int `json:"similarity"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetMultipartField("targetScreenshot", "target", target.MIMEType, bytes.NewReader(target.Data)).
		SetMultipartField("resultScreenshot", "result.png", "image/png", bytes.NewReader(result)).
		SetResult(&out).
		Post(c.gradeURL)
	if err != nil {
		return 0, fmt.Errorf("post grade request: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("grading endpoint returned %d", resp.StatusCode())
	}
	if out.Similarity == nil {
		return 0, errors.New("grading response has no similarity")
	}
	if clamped := model.ClampSimilarity(*out.Similarity); clamped != *out.Similarity {
		c.log.Warn().Int("similarity", *out.Similarity).Int("clamped", clamped).Msg("Similarity out of range, clamping")
		return clamped, nil
	}

	return *out.Similarity, nil
}

func (c *Client) fetchTarget(ctx context.Context, targetURL string) (Image, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return Image{}, fmt.Errorf("parse target url: %w", err)
	}
	if !u.IsAbs() && c.base != nil {
		u = c.base.ResolveReference(u)
	}

	resp, err := c.http.R().SetContext(ctx).Get(u.String())
	if err != nil {
		return Image{}, fmt.Errorf("fetch target image: %w", err)
	}
	if resp.IsError() {
		return Image{}, fmt.Errorf("fetch target image: status %d", resp.StatusCode())
	}

	data := resp.Body()
	return Image{Data: data, MIMEType: imageType(resp.Header().Get("Content-Type"), data)}, nil
}

// imageType normalizes a Content-Type header, sniffing the body when the
// header is missing or not an accepted image type.
func imageType(header string, data []byte) string {
	if mt, _, err := mime.ParseMediaType(header); err == nil && AllowedMIMETypes[mt] {
		return mt
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mt
}
