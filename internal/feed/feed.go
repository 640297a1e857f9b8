// Package feed streams newly created tokens from a PumpPortal-style
// WebSocket and turns them into candidate descriptors.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"snipebot/internal/logger"
	"snipebot/internal/models"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type Config struct {
	URL          string
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

type subscribeMessage struct {
	Method string   `json:"method"`
	Keys   []string `json:"keys,omitempty"`
}

type createMessage struct {
	Signature   string  `json:"signature"`
	Mint        string  `json:"mint"`
	TxType      string  `json:"txType"`
	Name        string  `json:"name"`
	Symbol      string  `json:"symbol"`
	SolAmount   float64 `json:"solAmount"`
	VSolInCurve float64 `json:"vSolInBondingCurve"`
	MarketCap   float64 `json:"marketCapSol"`
	Pool        string  `json:"pool"`
}

type Client struct {
	cfg    Config
	log    *logger.Logger
	dialer *websocket.Dialer
	out    chan models.TokenDescriptor
	now    func() time.Time
}

func New(cfg Config, log *logger.Logger) *Client {
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		log:    log,
		dialer: websocket.DefaultDialer,
		out:    make(chan models.TokenDescriptor, 100),
		now:    time.Now,
	}
}

func (c *Client) Candidates() <-chan models.TokenDescriptor {
	return c.out
}

func (c *Client) logEntry() *logrus.Entry {
	return c.log.WithComponent("feed").WithField("url", c.cfg.URL)
}

// Run keeps a subscription alive until ctx is canceled, then closes the
// candidates channel.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.out)

	backoff := c.cfg.ReconnectMin
	for {
		conn, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logEntry().WithError(err).Warn("Не удалось подключиться к ленте токенов.")
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = c.nextBackoff(backoff)
			continue
		}

		backoff = c.cfg.ReconnectMin
		err = c.readLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		c.logEntry().WithError(err).Warn("Соединение с лентой токенов потеряно.")
		if !sleep(ctx, backoff) {
			return nil
		}
	}
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	c.logEntry().Info("Подключение к ленте токенов.")

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("Не удалось подключиться к WS: %w", err)
	}
	conn.SetReadLimit(2 << 20)

	if err := conn.WriteJSON(subscribeMessage{Method: "subscribeNewToken"}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("Не удалось подписаться на новые токены: %w", err)
	}

	c.logEntry().Info("Подписка на новые токены установлена.")
	return conn, nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		desc, ok := c.decode(data)
		if !ok {
			continue
		}

		select {
		case c.out <- desc:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) decode(data []byte) (models.TokenDescriptor, bool) {
	var msg createMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logEntry().WithError(err).Warn("Не удалось разобрать сообщение ленты.")
		return models.TokenDescriptor{}, false
	}
	if msg.TxType != "create" || msg.Mint == "" {
		return models.TokenDescriptor{}, false
	}

	source := "pumpportal"
	if msg.Pool != "" {
		source = source + ":" + msg.Pool
	}
	return models.TokenDescriptor{
		Mint:             msg.Mint,
		Name:             msg.Name,
		Symbol:           msg.Symbol,
		InitialLiquidity: msg.VSolInCurve,
		CreatedAt:        c.now(),
		Source:           source,
	}, true
}

func (c *Client) nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > c.cfg.ReconnectMax {
		return c.cfg.ReconnectMax
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
