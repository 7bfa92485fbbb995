package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxResponseBytes caps how much of an upstream reply is read.
const maxResponseBytes = 1 << 20

var (
	// ErrUnexpectedStatus is returned for any non-2xx upstream response.
	ErrUnexpectedStatus = errors.New("unexpected upstream status")
	// ErrMalformedResponse is returned when a 2xx body does not carry
	// candidates[0].content.parts[0].text.
	ErrMalformedResponse = errors.New("malformed upstream response")
)

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type candidate struct {
	Content *content `json:"content"`
}

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
}

// Client calls the generateContent endpoint of a single model.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewClient builds a client for model under baseURL. A nil httpClient uses
// http.DefaultClient; request deadlines come from the caller's context.
func NewClient(baseURL, model, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		endpoint:   fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(baseURL, "/"), model),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// Generate sends prompt as the only part of a single-turn request and
// returns the first candidate's first text part.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call upstream: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read upstream body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var decoded generateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(decoded.Candidates) == 0 ||
		decoded.Candidates[0].Content == nil ||
		len(decoded.Candidates[0].Content.Parts) == 0 ||
		decoded.Candidates[0].Content.Parts[0].Text == "" {
		return "", ErrMalformedResponse
	}

	return decoded.Candidates[0].Content.Parts[0].Text, nil
}
