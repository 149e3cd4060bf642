// Package mqtt publishes the clock's readings to an MQTT broker, with Home
// Assistant discovery.
package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"weather-clock/internal/state"
)

const (
	// publishTimeout bounds one batch of publishes, however many topics it
	// covers.
	publishTimeout = 5 * time.Second
	queueSize      = 16
)

type Publisher struct {
	client      mqtt.Client
	topicPrefix string
	deviceID    string
	enabled     bool
	timeout     time.Duration
	log         *zap.SugaredLogger

	// Reports from tasks are published by one worker so a stalled broker
	// never holds up the task that reported.
	queue     chan func()
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

type PublisherConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	Enabled     bool
	Log         *zap.SugaredLogger
}

func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if !cfg.Enabled {
		return &Publisher{enabled: false, log: log}, nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWriteTimeout(publishTimeout).
		SetConnectionLostHandler(func(c mqtt.Client, err error) {
			log.Warnw("MQTT connection lost", "error", err)
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			log.Infow("MQTT connected", "broker", cfg.Broker)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", cfg.Broker)
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return newPublisher(client, cfg.TopicPrefix, cfg.ClientID, log), nil
}

func newPublisher(client mqtt.Client, prefix, deviceID string, log *zap.SugaredLogger) *Publisher {
	if deviceID == "" {
		deviceID = "weather-clock"
	}
	p := &Publisher{
		client:      client,
		topicPrefix: prefix,
		deviceID:    deviceID,
		enabled:     true,
		timeout:     publishTimeout,
		log:         log,
		queue:       make(chan func(), queueSize),
		quit:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Publisher) run() {
	defer close(p.stopped)
	for {
		select {
		case <-p.quit:
			return
		case job := <-p.queue:
			select {
			case <-p.quit:
				return
			default:
			}
			job()
		}
	}
}

// enqueue hands job to the worker, dropping it when the queue is full.
func (p *Publisher) enqueue(task string, job func()) {
	if !p.enabled {
		return
	}
	select {
	case p.queue <- job:
	default:
		p.log.Warnw("MQTT queue full, dropping report", "task", task)
	}
}

func (p *Publisher) topic(name string) string {
	return fmt.Sprintf("%s/%s/%s", p.topicPrefix, p.deviceID, name)
}

// Publish sends each field of the snapshot to its own topic and the whole
// snapshot, retained, to the status topic.
func (p *Publisher) Publish(snap state.Snapshot) error {
	if !p.enabled {
		return nil
	}

	fields := map[string]interface{}{
		"last_time_sync": snap.LastTimeSync,
		"clock_drift_ms": snap.ClockDrift.Milliseconds(),
	}
	if snap.HasWeather() {
		fields["temperature"] = snap.Weather.Temperature
		fields["condition"] = snap.Weather.Condition.String()
		fields["sunrise"] = snap.Weather.Sunrise
		fields["sunset"] = snap.Weather.Sunset
		fields["last_weather_fetch"] = snap.LastWeatherFetch
	}

	statusJSON, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	var msgs batch
	for name, value := range fields {
		msgs.add(p.client, p.topic(name), false, fmt.Sprintf("%v", value))
	}
	msgs.add(p.client, p.topic("status"), true, statusJSON)

	errs := msgs.wait(p.timeout)
	last := len(errs) - 1
	for i, err := range errs[:last] {
		if err != nil {
			p.log.Warnw("Failed to publish", "topic", msgs.topics[i], "error", err)
		}
	}
	if errs[last] != nil {
		return fmt.Errorf("failed to publish status: %w", errs[last])
	}
	return nil
}

// PublishError reports a failed task run on <prefix>/<device>/<task>/error.
func (p *Publisher) PublishError(task string, taskErr error) error {
	if !p.enabled {
		return nil
	}
	return p.send(p.topic(task+"/error"), false, taskErr.Error())
}

func (p *Publisher) PublishHomeAssistantDiscovery() error {
	if !p.enabled {
		return nil
	}

	sensors := []struct {
		Name        string
		ID          string
		Unit        string
		DeviceClass string
	}{
		{"Temperature", "temperature", "", "temperature"},
		{"Condition", "condition", "", ""},
		{"Sunrise", "sunrise", "", "timestamp"},
		{"Sunset", "sunset", "", "timestamp"},
		{"Last Weather Fetch", "last_weather_fetch", "", "timestamp"},
		{"Last Time Sync", "last_time_sync", "", "timestamp"},
		{"Clock Drift", "clock_drift_ms", "ms", "duration"},
	}

	var msgs batch
	for _, sensor := range sensors {
		discoveryTopic := fmt.Sprintf("homeassistant/sensor/%s/%s/config", p.deviceID, sensor.ID)

		config := map[string]interface{}{
			"name":        fmt.Sprintf("Weather Clock %s", sensor.Name),
			"unique_id":   fmt.Sprintf("%s_%s", p.deviceID, sensor.ID),
			"state_topic": p.topic(sensor.ID),
			"device": map[string]interface{}{
				"identifiers":  []string{p.deviceID},
				"name":         "Weather Clock",
				"manufacturer": "weather-clock",
				"model":        "HT16K33 LED clock",
			},
		}
		if sensor.Unit != "" {
			config["unit_of_measurement"] = sensor.Unit
		}
		if sensor.DeviceClass == "timestamp" {
			config["value_template"] = "{{ as_datetime(value | int) }}"
		}
		if sensor.DeviceClass != "" {
			config["device_class"] = sensor.DeviceClass
		}

		payload, err := json.Marshal(config)
		if err != nil {
			return fmt.Errorf("failed to marshal discovery for %s: %w", sensor.ID, err)
		}
		msgs.add(p.client, discoveryTopic, true, payload)
	}

	for i, err := range msgs.wait(p.timeout) {
		if err != nil {
			return fmt.Errorf("failed to publish discovery for %s: %w", sensors[i].ID, err)
		}
	}
	return nil
}

// TaskSucceeded queues the snapshot for publishing and returns at once.
func (p *Publisher) TaskSucceeded(task string, _ time.Duration, snap state.Snapshot) {
	p.enqueue(task, func() {
		if err := p.Publish(snap); err != nil {
			p.log.Warnw("Failed to publish snapshot", "task", task, "error", err)
		}
	})
}

// TaskFailed queues the error for publishing and returns at once.
func (p *Publisher) TaskFailed(task string, _ time.Duration, err error) {
	if err == nil {
		return
	}
	p.enqueue(task, func() {
		if perr := p.PublishError(task, err); perr != nil {
			p.log.Warnw("Failed to publish task error", "task", task, "error", perr)
		}
	})
}

func (p *Publisher) IsConnected() bool {
	if !p.enabled {
		return false
	}
	return p.client.IsConnected()
}

// Close stops the worker, abandoning queued reports, and disconnects.
func (p *Publisher) Close() {
	if !p.enabled || p.client == nil {
		return
	}
	p.closeOnce.Do(func() {
		close(p.quit)
		<-p.stopped
		p.client.Disconnect(1000)
	})
}

func (p *Publisher) send(topic string, retained bool, payload interface{}) error {
	var msgs batch
	msgs.add(p.client, topic, retained, payload)
	return msgs.wait(p.timeout)[0]
}

// batch collects publish tokens so they can be awaited under one deadline.
type batch struct {
	topics []string
	tokens []mqtt.Token
}

func (b *batch) add(client mqtt.Client, topic string, retained bool, payload interface{}) {
	b.topics = append(b.topics, topic)
	b.tokens = append(b.tokens, client.Publish(topic, 0, retained, payload))
}

// wait returns one error per publish, in the order they were added. Once
// timeout has passed, publishes still in flight are reported as timed out.
func (b *batch) wait(timeout time.Duration) []error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	errs := make([]error, len(b.tokens))
	expired := false
	for i, token := range b.tokens {
		if !expired {
			select {
			case <-token.Done():
				errs[i] = token.Error()
				continue
			case <-timer.C:
				expired = true
			}
		}
		select {
		case <-token.Done():
			errs[i] = token.Error()
		default:
			errs[i] = fmt.Errorf("publish to %s timed out", b.topics[i])
		}
	}
	return errs
}
