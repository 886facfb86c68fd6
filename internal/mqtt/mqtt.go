package mqttc

import (
	"log/slog"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultBroker is used when neither the caller nor MQTT_BROKER names one.
const DefaultBroker = "tcp://127.0.0.1:1883"

// RetryInterval is how long paho waits between attempts while the broker is
// unreachable, both on the first connect and after a lost connection.
const RetryInterval = 5 * time.Second

var (
	connectWait    = 5 * time.Second
	publishTimeout = 2 * time.Second
)

type Client struct {
	Client mqtt.Client
}

// NewClientWithHandler connects to broker, falling back to MQTT_BROKER and
// then DefaultBroker. It does not block on an unreachable broker: paho keeps
// retrying in the background and onConnect runs on every (re)connect, so
// subscriptions made there survive reconnects.
func NewClientWithHandler(clientID, broker string, onConnect mqtt.OnConnectHandler) *Client {
	if broker == "" {
		broker = os.Getenv("MQTT_BROKER")
		if broker == "" {
			broker = DefaultBroker
		}
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectTimeout(5 * time.Second).
		SetConnectRetry(true).
		SetConnectRetryInterval(RetryInterval).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(RetryInterval).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			slog.Warn("mqtt connection lost", "client", clientID, "error", err)
		})

	if onConnect != nil {
		opts.SetOnConnectHandler(onConnect)
	}

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(connectWait) {
		slog.Warn("mqtt broker unreachable, retrying in background", "broker", broker)
	} else if token.Error() != nil {
		slog.Error("mqtt connect error", "broker", broker, "error", token.Error())
	}
	return &Client{Client: c}
}

func (c *Client) Publish(topic string, payload []byte) {
	c.publish(topic, payload, false)
}

// PublishRetained publishes a message the broker keeps for late subscribers.
func (c *Client) PublishRetained(topic string, payload []byte) {
	c.publish(topic, payload, true)
}

func (c *Client) publish(topic string, payload []byte, retained bool) {
	if c == nil || c.Client == nil {
		return
	}
	if !c.Client.IsConnectionOpen() {
		slog.Debug("mqtt offline, dropped publish", "topic", topic)
		return
	}
	token := c.Client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		slog.Warn("mqtt publish timed out", "topic", topic)
		return
	}
	if token.Error() != nil {
		slog.Warn("mqtt publish error", "topic", topic, "error", token.Error())
	}
}

// Disconnect waits up to quiesce milliseconds for in-flight work.
func (c *Client) Disconnect(quiesce uint) {
	if c == nil || c.Client == nil {
		return
	}
	c.Client.Disconnect(quiesce)
}
