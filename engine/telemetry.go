package engine

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Telemetry channel tags, one per published event category.
const (
	ChannelTicks   = "TICKS"
	ChannelMarkers = "MARKERS"
	ChannelSync    = "SYNC"
	ChannelBcds    = "BCDS"
	ChannelCarrier = "CARR"
	ChannelTone500 = "T500"
	ChannelTone600 = "T600"
)

// TelemetrySink publishes a JSON-encodable payload tagged with a channel.
// A nil sink is valid and Publish is simply never called against it.
type TelemetrySink interface {
	Publish(channel string, payload interface{})
	Close() error
}

// telemetryMessage is the wire envelope shared by both sink implementations.
type telemetryMessage struct {
	Channel   string      `json:"channel"`
	Timestamp int64       `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// UDPTelemetrySink is the default sink: one JSON datagram per event, fire
// and forget, no delivery guarantee and no backpressure on the detector
// pipeline.
type UDPTelemetrySink struct {
	conn *net.UDPConn
}

// NewUDPTelemetrySink dials a connectionless UDP socket at addr.
func NewUDPTelemetrySink(addr string) (*UDPTelemetrySink, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("engine: resolve telemetry addr: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("engine: dial telemetry addr: %w", err)
	}
	return &UDPTelemetrySink{conn: conn}, nil
}

// Publish writes one JSON datagram. Encoding or send errors are dropped:
// telemetry is best-effort and must never block or fail detection.
func (s *UDPTelemetrySink) Publish(channel string, payload interface{}) {
	if s == nil {
		return
	}
	data, err := json.Marshal(telemetryMessage{Channel: channel, Timestamp: time.Now().UnixMilli(), Payload: payload})
	if err != nil {
		return
	}
	s.conn.Write(data)
}

// Close closes the underlying socket.
func (s *UDPTelemetrySink) Close() error {
	if s == nil {
		return nil
	}
	return s.conn.Close()
}

// MQTTTelemetrySink publishes each channel to its own MQTT topic under the
// configured prefix, an alternative to the default UDP broadcaster for
// deployments that already run a broker.
type MQTTTelemetrySink struct {
	client mqtt.Client
	topic  string
}

func generateClientID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return "wwvclock_" + hex.EncodeToString(b)
}

// NewMQTTTelemetrySink connects to cfg.Broker and returns a sink publishing
// under cfg.Topic/<channel>.
func NewMQTTTelemetrySink(cfg MQTTConfig) (*MQTTTelemetrySink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = generateClientID()
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Println("engine: connected to MQTT telemetry broker")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("engine: MQTT telemetry connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("engine: connect MQTT telemetry broker: %w", token.Error())
	}
	return &MQTTTelemetrySink{client: client, topic: cfg.Topic}, nil
}

// Publish marshals payload to JSON and publishes it to topic/channel at QoS 0.
func (s *MQTTTelemetrySink) Publish(channel string, payload interface{}) {
	if s == nil {
		return
	}
	data, err := json.Marshal(telemetryMessage{Channel: channel, Timestamp: time.Now().UnixMilli(), Payload: payload})
	if err != nil {
		return
	}
	s.client.Publish(s.topic+"/"+channel, 0, false, data)
}

// Close disconnects from the broker.
func (s *MQTTTelemetrySink) Close() error {
	if s == nil {
		return nil
	}
	s.client.Disconnect(250)
	return nil
}
