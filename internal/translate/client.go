// Package translate wraps the external translation service: one HTTP call
// per caption text, fragment reassembly, and sentence-casing of the result.
package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/text/language"

	"github.com/MimeLyc/live-caption-translator/pkg/log"
)

// Config holds the configuration for the translation client.
type Config struct {
	APIURL         string
	SourceLanguage language.Tag
	TargetLanguage language.Tag
	Timeout        int // seconds
}

func (c Config) validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("translate API URL is required")
	}
	if _, err := url.Parse(c.APIURL); err != nil {
		return fmt.Errorf("invalid translate API URL: %w", err)
	}
	if c.SourceLanguage == language.Und {
		return fmt.Errorf("source language is required")
	}
	if c.TargetLanguage == language.Und {
		return fmt.Errorf("target language is required")
	}
	return nil
}

// Client calls a gtx-style translation endpoint. It is stateless and safe
// for concurrent use.
type Client struct {
	config     Config
	httpClient *http.Client
}

func NewClient(config Config) (*Client, error) {
	if config.Timeout <= 0 {
		config.Timeout = 15
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
	}, nil
}

// Translate sends one caption text to the service and returns the reassembled,
// sentence-cased translation. Transport, status and parse failures come back
// as errors; the caller decides how to degrade.
func (c *Client) Translate(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", nil
	}

	// client=gtx and dt=t are the service's format hint: plain text
	// segments, no extras.
	params := url.Values{}
	params.Set("client", "gtx")
	params.Set("sl", c.config.SourceLanguage.String())
	params.Set("tl", c.config.TargetLanguage.String())
	params.Set("dt", "t")
	params.Set("q", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.APIURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("translate request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("translate request failed with status %d: %s", resp.StatusCode, string(body))
	}

	fragments, err := parseFragments(body)
	if err != nil {
		return "", err
	}

	result := SentenceCase(joinFragments(fragments))
	log.Debug("Translated %d chars into %d fragments", len(text), len(fragments))
	return result, nil
}

// parseFragments digs the translated fragments out of the service's nested
// array response: element 0 is a list of segments, each segment's element 0
// is one translated fragment.
func parseFragments(data []byte) ([]string, error) {
	var payload []any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("malformed translate response: %w", err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("malformed translate response: empty payload")
	}

	segments, ok := payload[0].([]any)
	if !ok {
		return nil, fmt.Errorf("malformed translate response: unexpected segment list")
	}

	fragments := make([]string, 0, len(segments))
	for _, seg := range segments {
		parts, ok := seg.([]any)
		if !ok || len(parts) == 0 {
			return nil, fmt.Errorf("malformed translate response: unexpected segment shape")
		}
		fragment, ok := parts[0].(string)
		if !ok {
			return nil, fmt.Errorf("malformed translate response: non-string fragment")
		}
		fragments = append(fragments, fragment)
	}

	if len(fragments) == 0 {
		return nil, fmt.Errorf("translate response contained no fragments")
	}
	return fragments, nil
}
