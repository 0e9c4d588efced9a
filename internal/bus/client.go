// Package bus publishes dictation events over NATS so desktop
// front-ends and other tools can follow the session lifecycle.
package bus

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/quillvoice/quill-core/internal/config"
	"github.com/quillvoice/quill-core/internal/protocol"
)

// Client wraps a NATS connection with event publishing helpers.
type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

func Connect(cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	options := []nats.Option{
		nats.Name("quill-daemon"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
	}

	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to NATS", slog.String("servers", url))

	return &Client{
		conn: conn,
		log:  log,
	}, nil
}

// PublishEvent pushes one dictation event onto its subject. Publish
// failures are logged, not fatal; the bus is a side channel and must
// never block dictation itself.
func (c *Client) PublishEvent(ev protocol.Event) {
	if c == nil || c.conn == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		c.log.Error("encode bus event", slog.String("error", err.Error()))
		return
	}
	subject := protocol.SubjectFor(ev.Type)
	if err := c.conn.Publish(subject, payload); err != nil {
		c.log.Warn("publish bus event",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

func (c *Client) Conn() *nats.Conn {
	return c.conn
}
