// Package platform provides per-network API clients implementing the
// action dispatch boundary. Each client translates action calls into the
// network's REST or XRPC surface and maps HTTP failures onto the action
// error taxonomy: 429 and 5xx are retryable, other 4xx are rejections,
// and transport errors pass through untouched so the connectivity
// classifier can see them.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/roach88/unifeed/internal/action"
	"github.com/roach88/unifeed/internal/engine"
)

const defaultTimeout = 15 * time.Second

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultTimeout}
}

// doJSON issues the request and decodes a 2xx response body into out.
// Non-2xx statuses become classified action errors; out may be nil when
// the body is irrelevant.
func doJSON(httpClient *http.Client, req *http.Request, postID string, actionType action.Type, out any) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, postID, actionType); err != nil {
		return err
	}
	if out == nil {
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func checkStatus(resp *http.Response, postID string, actionType action.Type) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return engine.NewTransientError(postID, actionType,
			fmt.Errorf("server error: %d %s", resp.StatusCode, resp.Status))
	default:
		return engine.NewPermanentError(postID, actionType,
			fmt.Errorf("rejected: %d %s", resp.StatusCode, resp.Status))
	}
}

func newJSONRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
