package primary

import (
	"net/http"
	"ratiobot/internal/config"
	"ratiobot/internal/logger"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Client is the REST side of the broker: authentication and order entry.
type Client struct {
	baseURL  string
	username string
	password string
	account  string
	marketID string

	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logger.Logger

	mu    sync.Mutex
	token string
}

func NewClient(cfg config.BrokerConfig, log *logger.Logger) *Client {
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseUrl, "/"),
		username: cfg.Username,
		password: cfg.Password,
		account:  cfg.Account,
		marketID: cfg.MarketID,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
	}
}
