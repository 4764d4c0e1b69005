package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig holds the broker connection and topic layout
type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	BaseTopic      string        // e.g. "zigbee2mqtt"
	StaleAfter     time.Duration // states older than this are treated as missing
	CommandTimeout time.Duration
}

// devicePayload is the JSON a device publishes on <base>/<device>
type devicePayload struct {
	Humidity    *float64 `json:"humidity"`
	Temperature *float64 `json:"temperature"`
	Occupancy   *bool    `json:"occupancy"`
	Contact     *bool    `json:"contact"`
	State       *string  `json:"state"`
	Setpoint    *float64 `json:"current_heating_setpoint"`
}

// MQTTPlatform implements Platform over Zigbee2MQTT style topics.
// Device states are cached from subscriptions; commands go to <base>/<device>/set.
type MQTTPlatform struct {
	client         mqtt.Client
	baseTopic      string
	staleAfter     time.Duration
	commandTimeout time.Duration
	now            func() time.Time

	mu     sync.RWMutex
	states map[string]*SensorState
}

// NewMQTTPlatform connects to the broker and subscribes to all device topics
func NewMQTTPlatform(cfg MQTTConfig) (*MQTTPlatform, error) {
	p := newMQTTPlatform(nil, cfg)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("MQTT: Connection lost: %v", err)
	})
	// resubscribe on every (re)connect
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Println("MQTT: Connection established")
		if err := p.subscribe(client); err != nil {
			log.Printf("MQTT: %v", err)
		}
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	p.client = client

	log.Println("MQTT Platform: Connected to broker:", cfg.Broker)
	return p, nil
}

func newMQTTPlatform(client mqtt.Client, cfg MQTTConfig) *MQTTPlatform {
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = "zigbee2mqtt"
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 5 * time.Second
	}
	return &MQTTPlatform{
		client:         client,
		baseTopic:      strings.TrimSuffix(cfg.BaseTopic, "/"),
		staleAfter:     cfg.StaleAfter,
		commandTimeout: cfg.CommandTimeout,
		now:            time.Now,
		states:         make(map[string]*SensorState),
	}
}

func (p *MQTTPlatform) subscribe(client mqtt.Client) error {
	topic := p.baseTopic + "/+"
	token := client.Subscribe(topic, 1, p.handleMessage)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, token.Error())
	}
	log.Printf("Subscribed to device topic: %s", topic)
	return nil
}

// handleMessage merges a device payload into the cached state
func (p *MQTTPlatform) handleMessage(client mqtt.Client, msg mqtt.Message) {
	deviceID := strings.TrimPrefix(msg.Topic(), p.baseTopic+"/")
	if deviceID == "" || deviceID == "bridge" || strings.Contains(deviceID, "/") {
		return
	}

	var payload devicePayload
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		log.Printf("Error unmarshaling state for %s: %v", deviceID, err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.states[deviceID]
	if !ok {
		st = &SensorState{}
		p.states[deviceID] = st
	}
	if payload.Humidity != nil {
		st.Humidity = payload.Humidity
	}
	if payload.Temperature != nil {
		st.Temperature = payload.Temperature
	}
	if payload.Occupancy != nil {
		st.Motion = payload.Occupancy
	}
	if payload.Contact != nil {
		st.Contact = payload.Contact
	}
	if payload.State != nil {
		on := strings.EqualFold(*payload.State, "ON")
		st.Switch = &on
	}
	if payload.Setpoint != nil {
		st.Setpoint = payload.Setpoint
	}
	st.UpdatedAt = p.now()
}

// GetState returns a copy of the cached state for a device
func (p *MQTTPlatform) GetState(ctx context.Context, deviceID string) (*SensorState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	st, ok := p.states[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoState, deviceID)
	}
	if age := p.now().Sub(st.UpdatedAt); age > p.staleAfter {
		return nil, fmt.Errorf("%w: %s last seen %s ago", ErrStaleState, deviceID, age.Round(time.Second))
	}

	cp := *st
	return &cp, nil
}

// TurnOn switches a device on
func (p *MQTTPlatform) TurnOn(ctx context.Context, deviceID string) bool {
	return p.publish(ctx, deviceID, map[string]interface{}{"state": "ON"})
}

// TurnOff switches a device off
func (p *MQTTPlatform) TurnOff(ctx context.Context, deviceID string) bool {
	return p.publish(ctx, deviceID, map[string]interface{}{"state": "OFF"})
}

// SetTemperature changes a thermostat setpoint
func (p *MQTTPlatform) SetTemperature(ctx context.Context, deviceID string, celsius float64) bool {
	return p.publish(ctx, deviceID, map[string]interface{}{"current_heating_setpoint": celsius})
}

func (p *MQTTPlatform) publish(ctx context.Context, deviceID string, payload map[string]interface{}) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Failed to marshal command for %s: %v", deviceID, err)
		return false
	}

	timeout := p.commandTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	topic := fmt.Sprintf("%s/%s/set", p.baseTopic, deviceID)
	token := p.client.Publish(topic, 1, false, data)
	if !token.WaitTimeout(timeout) {
		log.Printf("Timeout publishing to %s", topic)
		return false
	}
	if err := token.Error(); err != nil {
		log.Printf("Failed to publish to %s: %v", topic, err)
		return false
	}
	return true
}

// Close disconnects from the broker
func (p *MQTTPlatform) Close() {
	if p.client != nil {
		p.client.Disconnect(250)
		log.Println("MQTT Platform: Disconnected")
	}
}
