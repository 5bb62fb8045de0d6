package primary

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"
)

// doRequest sends an authenticated request and decodes the JSON body into
// out. An expired token is refreshed once.
func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, out any) error {
	for attempt := 0; ; attempt++ {
		token, err := c.Token(ctx)
		if err != nil {
			return err
		}

		urlStr := c.baseURL + path
		if len(params) > 0 {
			urlStr += "?" + params.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, method, urlStr, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set(tokenHeader, token)

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request %s: %w", path, err)
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			c.logEntry().Warn("Token rejected, logging in again.")
			c.invalidateToken(token)
			continue
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("%s returned %s", path, resp.Status)
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
}

func (c *Client) logEntry() *logrus.Entry {
	return c.log.WithComponent("primary_rest")
}
