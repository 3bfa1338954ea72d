// Package telemetry publishes bridge activity to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/casetalink/casetalink/internal/config"
	"github.com/casetalink/casetalink/internal/events"
	"github.com/casetalink/casetalink/internal/util"
)

// Topic suffixes under the configured prefix.
const (
	topicRemote       = "remote"
	topicBridgeStatus = "bridge/status"
	topicSkipped      = "bridge/skipped"
)

const (
	qosAtLeastOnce    = 1
	disconnectQuiesce = 5000 // milliseconds
	publishTimeout    = 5 * time.Second
)

// MQTTHandler publishes button and session events to MQTT.
type MQTTHandler struct {
	mu sync.Mutex

	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	logger   zerolog.Logger

	// Metadata included in every message
	metadata map[string]interface{}

	// host is the bridge address reported in status messages.
	host string
	// lastStatus is republished retained on every (re)connect.
	statusMu   sync.Mutex
	lastStatus *events.SessionPayload
}

// NewMQTTHandler creates a new MQTT handler from the mqtt config section.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus) (*MQTTHandler, error) {
	mqttCfg := cfg.GetMQTT()

	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	h := newMQTTHandler(mqttCfg, eventBus, nil, sysInfo)
	h.host = cfg.GetBridge().Host

	// Configure MQTT client
	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("casetalink-%s", sysInfo.Hostname))
	}
	if mqttCfg.Username != "" {
		opts.SetUsername(mqttCfg.Username)
		opts.SetPassword(mqttCfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	// Brokers mark the bridge offline if this process dies without saying so.
	will, err := h.willMessage()
	if err != nil {
		return nil, fmt.Errorf("failed to build MQTT will message: %w", err)
	}
	opts.SetBinaryWill(Topic(mqttCfg.TopicPrefix, topicBridgeStatus), will, qosAtLeastOnce, true)

	// TLS configuration
	if mqttCfg.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}

		// mTLS: load client certificate
		if mqttCfg.CertFile != "" && mqttCfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(mqttCfg.CertFile, mqttCfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}

		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		h.logger.Info().Msg("MQTT connected")
		h.republishStatus()
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		h.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	return h, nil
}

func newMQTTHandler(cfg config.MQTTConfig, eventBus *events.EventBus, client mqtt.Client, sysInfo util.SystemInfo) *MQTTHandler {
	return &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		client:   client,
		logger:   util.ComponentLogger("mqtt"),
		metadata: map[string]interface{}{
			"hostname": sysInfo.Hostname,
			"os":       sysInfo.OS,
		},
	}
}

// Topic joins a prefix and suffix into an MQTT topic. An empty prefix
// publishes at the broker root.
func Topic(prefix string, parts ...string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return strings.Join(parts, "/")
	}
	return prefix + "/" + strings.Join(parts, "/")
}

// ButtonTopic returns the topic for a remote's button, e.g.
// "caseta/remote/4/power_on".
func ButtonTopic(prefix string, p events.ButtonPayload) string {
	return Topic(prefix, topicRemote, fmt.Sprintf("%d", p.RemoteID), p.Button.String())
}

// Start subscribes to bus events, connects to the MQTT broker and blocks
// until ctx is cancelled. A session status received before the broker
// connects is published once it does.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.subscribeEvents()

	h.logger.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		h.unsubscribeEvents()
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	// Block until context cancelled
	<-ctx.Done()

	h.unsubscribeEvents()
	h.publishSync(Topic(h.cfg.TopicPrefix, topicBridgeStatus), true, h.offlineStatus("shutdown"))
	h.client.Disconnect(disconnectQuiesce)
	h.logger.Info().Msg("MQTT disconnected")

	return nil
}

// offlineStatus is the bridge status published when this process stops.
func (h *MQTTHandler) offlineStatus(reason string) events.SessionPayload {
	return events.SessionPayload{
		Host:   h.host,
		State:  "offline",
		Reason: reason,
		At:     time.Now().UTC(),
	}
}

// willMessage renders the last-will status in the same envelope as every
// other status message.
func (h *MQTTHandler) willMessage() ([]byte, error) {
	return json.Marshal(h.buildMessage(h.offlineStatus("connection lost")))
}

// republishStatus sends the latest session status, if any, retained.
func (h *MQTTHandler) republishStatus() {
	h.statusMu.Lock()
	last := h.lastStatus
	h.statusMu.Unlock()

	if last != nil {
		h.publishAsync(Topic(h.cfg.TopicPrefix, topicBridgeStatus), true, *last)
	}
}

type subscription struct {
	event   events.EventType
	name    string
	handler events.HandlerFunc
}

func (h *MQTTHandler) subscriptions() []subscription {
	return []subscription{
		{events.EventButton, "mqtt.button", h.onButton},
		{events.EventSessionReady, "mqtt.sessionReady", h.onSession},
		{events.EventSessionClosed, "mqtt.sessionClosed", h.onSession},
		{events.EventMessageSkipped, "mqtt.skipped", h.onSkipped},
	}
}

func (h *MQTTHandler) subscribeEvents() {
	for _, s := range h.subscriptions() {
		h.eventBus.Subscribe(s.event, s.name, s.handler)
	}
}

func (h *MQTTHandler) unsubscribeEvents() {
	for _, s := range h.subscriptions() {
		h.eventBus.Unsubscribe(s.event, s.name)
	}
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)

	for k, v := range h.metadata {
		msg[k] = v
	}

	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	return msg
}

// publish marshals payload with the metadata and hands it to the client.
// It returns nil when nothing was sent.
func (h *MQTTHandler) publish(topic string, retained bool, payload interface{}) mqtt.Token {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.client.IsConnected() {
		h.logger.Debug().Str("topic", topic).Msg("MQTT not connected, dropping message")
		return nil
	}

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return nil
	}

	return h.client.Publish(topic, qosAtLeastOnce, retained, data)
}

func (h *MQTTHandler) publishAsync(topic string, retained bool, payload interface{}) {
	token := h.publish(topic, retained, payload)
	if token == nil {
		return
	}
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

func (h *MQTTHandler) publishSync(topic string, retained bool, payload interface{}) {
	token := h.publish(topic, retained, payload)
	if token == nil {
		return
	}
	if !token.WaitTimeout(publishTimeout) {
		h.logger.Warn().Str("topic", topic).Msg("MQTT publish timed out")
		return
	}
	if token.Error() != nil {
		h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
	}
}

// Event handlers

func (h *MQTTHandler) onButton(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.ButtonPayload)
	if !ok {
		return fmt.Errorf("unexpected button payload %T", event.Payload)
	}
	h.publishAsync(ButtonTopic(h.cfg.TopicPrefix, p), false, p)
	return nil
}

func (h *MQTTHandler) onSession(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.SessionPayload)
	if !ok {
		return fmt.Errorf("unexpected session payload %T", event.Payload)
	}

	h.statusMu.Lock()
	h.lastStatus = &p
	h.statusMu.Unlock()

	h.publishAsync(Topic(h.cfg.TopicPrefix, topicBridgeStatus), true, p)
	return nil
}

func (h *MQTTHandler) onSkipped(ctx context.Context, event events.Event) error {
	h.publishAsync(Topic(h.cfg.TopicPrefix, topicSkipped), false, event.Payload)
	return nil
}
