package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/wdudokvanheel/care-chords/internal/events"
)

// NATSBus relays events over NATS core subjects.
type NATSBus struct {
	conn   *nats.Conn
	local  *events.Bus
	logger zerolog.Logger
	nodeID string
}

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string
	// Connection options
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NewNATSBus connects to NATS. Unlike Redis there is no fallback mode: the
// client reconnects on its own once the initial connection succeeded.
func NewNATSBus(cfg NATSConfig, local *events.Bus, nodeID string, logger zerolog.Logger) (*NATSBus, error) {
	logger = logger.With().Str("component", "eventbus").Str("backend", "nats").Logger()

	opts := []nats.Option{
		nats.Name("carechords-" + nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}

	logger.Info().Str("url", conn.ConnectedUrl()).Str("node_id", nodeID).Msg("NATS event relay initialized")

	return &NATSBus{
		conn:   conn,
		local:  local,
		logger: logger,
		nodeID: nodeID,
	}, nil
}

// Run forwards local events to NATS and peer events to the local bus until
// ctx is cancelled.
func (nb *NATSBus) Run(ctx context.Context) error {
	sub, err := nb.conn.Subscribe(channelPrefix+">", nb.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe nats: %w", err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			nb.logger.Debug().Err(err).Msg("NATS unsubscribe failed")
		}
	}()

	forwardLocal(ctx, nb.local, func(et events.EventType, p events.Payload) {
		data, err := marshalMessage(et, p, nb.nodeID)
		if err != nil {
			nb.logger.Error().Err(err).Msg("failed to marshal NATS message")
			return
		}
		if err := nb.conn.Publish(channelPrefix+string(et), data); err != nil {
			nb.logger.Error().Err(err).Str("event_type", string(et)).Msg("failed to publish to NATS")
		}
	})
	return nil
}

func (nb *NATSBus) handleMessage(msg *nats.Msg) {
	m, err := unmarshalMessage(msg.Data)
	if err != nil {
		nb.logger.Error().Err(err).Str("subject", msg.Subject).Msg("failed to unmarshal NATS message")
		return
	}
	if m.NodeID == nb.nodeID {
		return
	}
	deliverLocal(nb.local, m)
}

// Close drains pending messages and closes the connection.
func (nb *NATSBus) Close() error {
	if err := nb.conn.Drain(); err != nil {
		nb.conn.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}
