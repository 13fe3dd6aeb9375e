package streaming

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/harborgrid-justin/black-cross-sub000/internal/config"
	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/services"
	"github.com/harborgrid-justin/black-cross-sub000/pkg/logger"
)

// NATSClient publishes correlation events to JetStream and consumes the
// record store's change feed
type NATSClient struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	config config.NATSConfig
	logger *logger.Logger

	mu        sync.RWMutex
	connected bool
	consumers []jetstream.ConsumeContext
}

var (
	_ Transport                 = (*NATSClient)(nil)
	_ services.RecordChangeFeed = (*NATSClient)(nil)
)

// NewNATSClient connects to NATS and makes sure the stream exists
func NewNATSClient(ctx context.Context, cfg config.NATSConfig, log *logger.Logger) (*NATSClient, error) {
	log = log.WithComponent("nats")

	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "THREATS"
	}

	log.Info().Str("url", cfg.URL).Str("stream", cfg.StreamName).Msg("connecting to NATS")

	conn, err := nats.Connect(cfg.URL,
		nats.Name("threat-correlator"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	// The record store and the correlator share one stream
	streamCfg := jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Threat record changes and correlation events",
		Subjects:    []string{"threats.>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		MaxBytes:    512 * 1024 * 1024,
		Discard:     jetstream.DiscardOld,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}

	stream, err := js.CreateOrUpdateStream(ctx, streamCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	log.Info().Str("stream", stream.CachedInfo().Config.Name).Msg("NATS stream ready")

	return &NATSClient{
		conn:      conn,
		js:        js,
		stream:    stream,
		config:    cfg,
		logger:    log,
		connected: true,
	}, nil
}

// Close stops every consumer and closes the connection
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, cc := range c.consumers {
		cc.Stop()
	}
	c.consumers = nil
	if c.conn != nil {
		c.conn.Close()
		c.connected = false
	}
}

// IsConnected returns whether NATS is connected
func (c *NATSClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.conn.IsConnected()
}

// Ping round-trips to the server
func (c *NATSClient) Ping(ctx context.Context) error {
	if !c.IsConnected() {
		return errors.New("NATS not connected")
	}
	return c.conn.FlushWithContext(ctx)
}

// Publish publishes data with a JetStream acknowledgement
func (c *NATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	if !c.IsConnected() {
		return errors.New("NATS not connected")
	}
	if _, err := c.js.Publish(ctx, subject, data); err != nil {
		return err
	}
	c.logger.Debug().Str("subject", subject).Int("bytes", len(data)).Msg("published event")
	return nil
}

// changeRedeliveryDelay is how long a change the runner could not accept
// waits before JetStream redelivers it.
const changeRedeliveryDelay = 5 * time.Second

// OnRecordChanged consumes record-store change notifications through a
// durable consumer. Malformed messages are terminated. A change is acked once
// cb accepts it and nak'd with a delay when cb fails. Consumption stops when
// ctx is done.
func (c *NATSClient) OnRecordChanged(ctx context.Context, cb func(models.RecordChange) error) error {
	consumer, err := c.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       c.config.Consumer,
		Description:   "threat correlator record change feed",
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		FilterSubject: c.config.Subjects.RecordChanged,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		change, err := DecodeRecordChange(msg.Subject(), msg.Data())
		if err != nil {
			c.logger.Warn().Err(err).Str("subject", msg.Subject()).Msg("dropping malformed record change")
			_ = msg.Term()
			return
		}
		if err := settleRecordChange(msg, cb(change)); err != nil {
			c.logger.Debug().Err(err).Str("record_id", change.RecordID).Msg("failed to settle record change")
		}
	}, jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
		c.logger.Warn().Err(err).Msg("record change consumer error")
	}))
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	c.mu.Lock()
	c.consumers = append(c.consumers, cc)
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		cc.Stop()
	}()

	c.logger.Info().
		Str("consumer", c.config.Consumer).
		Str("subject", c.config.Subjects.RecordChanged).
		Msg("consuming record changes")
	return nil
}

type settler interface {
	Ack() error
	NakWithDelay(delay time.Duration) error
}

// settleRecordChange acks a handled change or asks for redelivery when the
// handler could not take it.
func settleRecordChange(msg settler, handleErr error) error {
	if handleErr != nil {
		return msg.NakWithDelay(changeRedeliveryDelay)
	}
	return msg.Ack()
}
