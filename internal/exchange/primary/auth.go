package primary

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

const tokenHeader = "X-Auth-Token"

// Token returns the cached session token, logging in when there is none.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/getToken", nil)
	if err != nil {
		return "", fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("X-Username", c.username)
	req.Header.Set("X-Password", c.password)

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("auth rejected: %s", resp.Status)
	}
	token := resp.Header.Get(tokenHeader)
	if token == "" {
		return "", fmt.Errorf("auth response without %s", tokenHeader)
	}

	c.token = token
	c.logEntry().WithField("user", c.username).Info("Authenticated with the broker.")
	return token, nil
}

func (c *Client) invalidateToken(stale string) {
	c.mu.Lock()
	if c.token == stale {
		c.token = ""
	}
	c.mu.Unlock()
}
