// Package notify publishes session and job state changes to an MQTT
// broker so external tooling (render farms, review dashboards) can
// follow edit progress without polling the HTTP API.
package notify

import (
	"encoding/json"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Publisher pushes state-change events to an MQTT broker. A nil
// *Publisher is valid and drops all events, so callers never need to
// guard for the broker being unconfigured.
type Publisher struct {
	conn      mqtt.Client
	connected atomic.Bool
	log       zerolog.Logger
}

type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	Log       zerolog.Logger
}

// Connect dials the broker. Returns an error if the initial connect
// fails; after that the paho client reconnects on its own.
func Connect(opts Options) (*Publisher, error) {
	p := &Publisher{log: opts.Log}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	p.conn = mqtt.NewClient(clientOpts)
	token := p.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return p, nil
}

// StateEvent is the wire payload for a job state transition.
type StateEvent struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Operation string    `json:"operation,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PublishState publishes a state transition on redub/sessions/{id}/state.
// Fire and forget: publish failures are logged, never returned.
func (p *Publisher) PublishState(sessionID, state, operation, detail string) {
	if p == nil {
		return
	}
	ev := StateEvent{
		SessionID: sessionID,
		State:     state,
		Operation: operation,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Error().Err(err).Msg("marshal state event")
		return
	}
	topic := "redub/sessions/" + sessionID + "/state"
	token := p.conn.Publish(topic, 0, false, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			p.log.Warn().Err(err).Str("topic", topic).Msg("mqtt publish failed")
		}
	}()
}

func (p *Publisher) onConnect(_ mqtt.Client) {
	p.connected.Store(true)
	p.log.Info().Msg("mqtt connected")
}

func (p *Publisher) onConnectionLost(_ mqtt.Client, err error) {
	p.connected.Store(false)
	p.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

func (p *Publisher) IsConnected() bool {
	if p == nil {
		return false
	}
	return p.connected.Load()
}

func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.log.Info().Msg("disconnecting mqtt publisher")
	p.conn.Disconnect(1000)
}
