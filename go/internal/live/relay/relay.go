package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/liveset/go/internal/live/hub"
	"github.com/mcdev12/liveset/go/internal/live/protocol"
)

// Config holds configuration for the NATS relay.
type Config struct {
	URL           string
	SubjectPrefix string // e.g. "live.events"
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns default relay configuration.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		SubjectPrefix: "live.events",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// wireMessage wraps an envelope with the publishing instance so a relay
// never re-delivers its own traffic.
type wireMessage struct {
	Instance string            `json:"instance"`
	Envelope protocol.Envelope `json:"envelope"`
}

// Relay bridges live event traffic across hub instances over core NATS.
// Core pub/sub carries no replay guarantee, which matches the transport
// contract: late joiners reconcile through a full snapshot fetch, and
// sessions apply messages idempotently.
type Relay struct {
	manager    *hub.Manager
	nc         *nats.Conn
	sub        *nats.Subscription
	config     Config
	instanceID string
}

// New connects a relay and registers it as the hub's inbound observer.
func New(manager *hub.Manager, config Config) (*Relay, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	r := &Relay{
		manager:    manager,
		nc:         nc,
		config:     config,
		instanceID: uuid.New().String()[:8],
	}
	manager.OnInbound(r.publish)
	return r, nil
}

// Start subscribes to every event subject under the prefix.
func (r *Relay) Start() error {
	subject := r.config.SubjectPrefix + ".>"
	sub, err := r.nc.Subscribe(subject, r.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	r.sub = sub

	log.Info().
		Str("subject", subject).
		Str("instance", r.instanceID).
		Msg("relay subscribed")
	return nil
}

// publish forwards an accepted client envelope to the other instances.
func (r *Relay) publish(eventID uuid.UUID, env protocol.Envelope) {
	if env.Relayed {
		return // loop guard: never re-publish relayed traffic
	}

	data, err := json.Marshal(wireMessage{Instance: r.instanceID, Envelope: env})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal relay message")
		return
	}

	subject := fmt.Sprintf("%s.%s", r.config.SubjectPrefix, eventID.String())
	if err := r.nc.Publish(subject, data); err != nil {
		log.Error().
			Err(err).
			Str("subject", subject).
			Str("type", string(env.Type)).
			Msg("failed to publish relay message")
	}
}

// handleMessage re-broadcasts traffic from other instances into the local
// rooms.
func (r *Relay) handleMessage(msg *nats.Msg) {
	var wire wireMessage
	if err := json.Unmarshal(msg.Data, &wire); err != nil {
		log.Warn().
			Err(err).
			Str("subject", msg.Subject).
			Msg("dropping malformed relay message")
		return
	}

	if wire.Instance == r.instanceID {
		return // own traffic echoed back
	}

	eventID, err := uuid.Parse(wire.Envelope.EventID)
	if err != nil {
		log.Warn().
			Err(err).
			Str("subject", msg.Subject).
			Msg("dropping relay message with bad event ID")
		return
	}

	wire.Envelope.Relayed = true
	r.manager.BroadcastLocal(eventID, wire.Envelope)

	log.Debug().
		Str("event_id", eventID.String()).
		Str("type", string(wire.Envelope.Type)).
		Str("from_instance", wire.Instance).
		Msg("relayed envelope into local rooms")
}

// Stop unsubscribes and closes the NATS connection.
func (r *Relay) Stop() error {
	if r.sub != nil {
		if err := r.sub.Unsubscribe(); err != nil {
			log.Error().Err(err).Msg("failed to unsubscribe relay")
		}
	}
	if r.nc != nil {
		r.nc.Close()
	}
	return nil
}
