// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/oklog/ulid/v2"
)

// DefaultTopicPrefix is the MQTT topic prefix when none is configured.
const DefaultTopicPrefix = "waasabi"

// MQTTConfig holds the configuration for an MQTT mirror.
type MQTTConfig struct {
	// Broker is the MQTT broker URL (e.g., "tcp://broker.example.com:1883").
	Broker string
	// ClientID is the MQTT client identifier. If empty, one is generated.
	ClientID string
	// Username and Password for broker authentication; both optional.
	Username string
	Password string
	// TopicPrefix is prepended to every event kind (default: "waasabi").
	TopicPrefix string
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// publisher is the part of paho.Client the sink uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// MQTTSink publishes each event as JSON to <prefix>/<kind> at QoS 1.
type MQTTSink struct {
	client publisher
	prefix string
	logger *slog.Logger
}

var _ Sink = (*MQTTSink)(nil)

// DialMQTT connects to the broker and returns a sink. The connection
// reconnects on its own after the first successful connect.
func DialMQTT(ctx context.Context, config MQTTConfig) (*MQTTSink, error) {
	if config.Broker == "" {
		return nil, errors.New("backend: mqtt broker URL is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clientID := config.ClientID
	if clientID == "" {
		clientID = "waasabi-matrix-" + strings.ToLower(ulid.Make().String())
	}

	options := paho.NewClientOptions().
		AddBroker(config.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(2 * time.Minute).
		SetKeepAlive(60 * time.Second).
		SetCleanSession(true).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("mqtt connection lost", "broker", config.Broker, "error", err)
		}).
		SetOnConnectHandler(func(paho.Client) {
			logger.Info("mqtt connected", "broker", config.Broker)
		})
	if config.Username != "" {
		options.SetUsername(config.Username)
	}
	if config.Password != "" {
		options.SetPassword(config.Password)
	}

	client := paho.NewClient(options)
	if err := waitToken(ctx, client.Connect()); err != nil {
		return nil, fmt.Errorf("backend: connecting to mqtt broker %s: %w", config.Broker, err)
	}
	return newMQTTSink(client, config.TopicPrefix, logger), nil
}

func newMQTTSink(client publisher, prefix string, logger *slog.Logger) *MQTTSink {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &MQTTSink{client: client, prefix: prefix, logger: logger}
}

// Topic returns the MQTT topic an event kind is published to.
func (s *MQTTSink) Topic(kind string) string {
	return s.prefix + "/" + strings.Trim(kind, "/")
}

// Post publishes payload as JSON and waits for the broker's
// acknowledgement or ctx.
func (s *MQTTSink) Post(ctx context.Context, kind string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("backend: encoding mqtt payload: %w", err)
	}
	topic := s.Topic(kind)
	if err := waitToken(ctx, s.client.Publish(topic, 1, false, encoded)); err != nil {
		return fmt.Errorf("backend: publishing to %s: %w", topic, err)
	}
	s.logger.Debug("published to mqtt", "topic", topic)
	return nil
}

// Close disconnects from the broker, allowing in-flight publishes a
// quarter second to finish.
func (s *MQTTSink) Close() {
	s.client.Disconnect(250)
}

func waitToken(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
