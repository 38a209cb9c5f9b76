package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	sendTimeout  = 10 * time.Second
	sendRetries  = 2
	retryWait    = 500 * time.Millisecond
	retryMaxWait = 5 * time.Second
)

// newHTTPClient returns a client that retries rate-limited and 5xx answers.
func newHTTPClient() *resty.Client {
	return resty.New().
		SetTimeout(sendTimeout).
		SetRetryCount(sendRetries).
		SetRetryWaitTime(retryWait).
		SetRetryMaxWaitTime(retryMaxWait).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil || resp == nil {
				return err != nil
			}
			code := resp.StatusCode()
			return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
		})
}

// postJSON posts payload to url and treats any non-2xx status as an error
// carrying the start of the response body.
func postJSON(ctx context.Context, client *resty.Client, url string, payload any) error {
	resp, err := client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(url)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	if !resp.IsSuccess() {
		body := resp.String()
		if len(body) > 1024 {
			body = body[:1024]
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode(), body)
	}
	return nil
}
