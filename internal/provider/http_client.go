package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"

	"github.com/pborenstein/apantli/internal/apperr"
	"github.com/pborenstein/apantli/internal/transport"
)

// HTTPClient speaks the OpenAI chat-completions protocol over the shared
// transport. One instance serves all providers; the Invocation carries the
// per-call endpoint and credential.
type HTTPClient struct {
	client *http.Client
}

// NewHTTPClient builds a client over the shared tuned transport.
func NewHTTPClient() *HTTPClient {
	return &HTTPClient{client: transport.Client()}
}

func (c *HTTPClient) newRequest(ctx context.Context, inv Invocation, streaming bool) (*http.Request, error) {
	if inv.BaseURL == "" {
		return nil, apperr.Newf(apperr.KindValidation,
			"no endpoint known for provider %q; set base_url on the profile", inv.Provider)
	}
	url := strings.TrimSuffix(inv.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(inv.Body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if inv.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+inv.APIKey)
	}
	if streaming {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		// Compression is negotiated explicitly because the transport has
		// DisableCompression set for streaming accuracy.
		req.Header.Set("Accept-Encoding", "gzip, br")
	}
	return req, nil
}

// Invoke performs a blocking chat completion and returns the decoded body.
func (c *HTTPClient) Invoke(ctx context.Context, inv Invocation) ([]byte, error) {
	req, err := c.newRequest(ctx, inv, false)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := decodeBody(resp)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &apperr.StatusError{StatusCode: resp.StatusCode, Body: body}
	}
	return body, nil
}

// InvokeStream performs a streaming chat completion. The returned Stream
// yields one SSE payload per Next call.
func (c *HTTPClient) InvokeStream(ctx context.Context, inv Invocation) (Stream, error) {
	req, err := c.newRequest(ctx, inv, true)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, readErr := decodeBody(resp)
		resp.Body.Close()
		if readErr != nil {
			body = nil
		}
		return nil, &apperr.StatusError{StatusCode: resp.StatusCode, Body: body}
	}
	return newSSEStream(ctx, resp.Body), nil
}

// decodeBody reads a response body, reversing gzip or brotli encoding.
func decodeBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	}
	return io.ReadAll(reader)
}
