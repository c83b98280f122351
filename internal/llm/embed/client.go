package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Client calls the embedding service: POST /embedding {"text": ...} returns
// {"embedding": [...]}. One text per request.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewFromEnv() *Client {
	base := os.Getenv("WEBFORGE_EMBEDDING_URL")
	if base == "" {
		base = "http://localhost:8000"
	}
	return New(base)
}

func New(baseURL string) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: 30 * time.Second}}
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body, _ := json.Marshal(map[string]string{"text": text})
	var lastErr error
	backoff := 200 * time.Millisecond
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embedding", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(backoff + time.Duration(attempt)*100*time.Millisecond)
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode/100 == 5 {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("embedding http %d", resp.StatusCode)
			time.Sleep(backoff + time.Duration(attempt)*100*time.Millisecond)
			continue
		}
		if resp.StatusCode/100 != 2 {
			data, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("embedding http %d: %s", resp.StatusCode, string(data))
		}
		var out struct {
			Embedding []float32 `json:"embedding"`
		}
		err = json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		if len(out.Embedding) == 0 {
			return nil, errors.New("embedding: empty vector")
		}
		return out.Embedding, nil
	}
	return nil, lastErr
}
