package primary

import (
	"context"
	"ratiobot/internal/config"
	"ratiobot/internal/exchange"
	"ratiobot/internal/logger"
	"ratiobot/internal/models"

	"github.com/sirupsen/logrus"
)

// Gateway joins the REST client and the WS stream into an
// exchange.Gateway. Market data goes to the quote sink, order reports to
// Reports.
type Gateway struct {
	client  *Client
	stream  *Stream
	sink    exchange.QuoteSink
	reports chan models.OrderReport
	log     *logger.Logger
}

func New(cfg config.BrokerConfig, sink exchange.QuoteSink, log *logger.Logger) *Gateway {
	client := NewClient(cfg, log)
	return &Gateway{
		client:  client,
		stream:  NewStream(cfg.WSUrl, client, cfg.Instruments, log),
		sink:    sink,
		reports: make(chan models.OrderReport, 256),
		log:     log,
	}
}

// Start logs in, opens the stream and pumps its events until ctx is done.
func (g *Gateway) Start(ctx context.Context) error {
	if _, err := g.client.Token(ctx); err != nil {
		return err
	}
	if err := g.stream.Connect(ctx); err != nil {
		return err
	}
	go g.pump(ctx)
	return nil
}

func (g *Gateway) pump(ctx context.Context) {
	events := g.stream.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch ev.Type {
			case exchange.EventTypeMarketData:
				if ev.MarketData != nil && g.sink != nil {
					g.sink.Set(ev.MarketData.Symbol, *ev.MarketData)
				}
			case exchange.EventTypeReport:
				if ev.Report == nil {
					continue
				}
				select {
				case g.reports <- *ev.Report:
				case <-ctx.Done():
					return
				}
			case exchange.EventTypeReconnect:
				g.logEntry().Warn("Broker stream reconnected; pending orders are confirmed by their next report.")
			}
		}
	}
}

func (g *Gateway) SubmitOrder(ctx context.Context, req models.OrderRequest) (models.OrderAck, error) {
	return g.client.SubmitOrder(ctx, req)
}

func (g *Gateway) Reports() <-chan models.OrderReport {
	return g.reports
}

func (g *Gateway) Connected() bool {
	return g.stream.Connected()
}

func (g *Gateway) Close() {
	g.stream.Close()
}

func (g *Gateway) logEntry() *logrus.Entry {
	return g.log.WithComponent("primary")
}
