package client

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSClient is a thin wrapper over a NATS connection used by the
// notification publisher.
type NATSClient struct {
	conn *nats.Conn
}

// NewNATSClient connects to the NATS server at url.
func NewNATSClient(url string) (*NATSClient, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSClient{conn: conn}, nil
}

// Publish sends data on subject, respecting context cancellation.
func (c *NATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.conn.Publish(subject, data)
}

// Close drains and closes the connection.
func (c *NATSClient) Close() {
	if c.conn != nil {
		_ = c.conn.Drain()
	}
}
