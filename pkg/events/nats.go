package events

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/uhyunpark/minimarket/pkg/app/core/trade"
)

// NATSPublisher publishes to JetStream on {subject}.{kind}.
type NATSPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	subject string
}

// NewNATSPublisher connects and ensures the stream capturing subject.> exists.
func NewNATSPublisher(ctx context.Context, url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("minimarket"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	if err := ensureStream(ctx, js, subject); err != nil {
		nc.Close()
		return nil, err
	}
	return &NATSPublisher{nc: nc, js: js, subject: subject}, nil
}

func (p *NATSPublisher) Name() string { return "nats" }

func (p *NATSPublisher) Publish(ctx context.Context, t trade.Record) error {
	data, err := encode(t)
	if err != nil {
		return err
	}
	// Msg ID lets JetStream drop duplicates on retry
	_, err = p.js.Publish(ctx, Subject(p.subject, t), data, jetstream.WithMsgID(t.ID.String()))
	return err
}

func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}

// Subject builds the per-kind subject, e.g. minimarket.trades.ipo.
func Subject(base string, t trade.Record) string {
	return fmt.Sprintf("%s.%s", base, t.Kind)
}

func ensureStream(ctx context.Context, js jetstream.JetStream, subject string) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "MINIMARKET_TRADES",
		Subjects:  []string{subject + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create trade stream: %w", err)
	}
	return nil
}
