package messaging

import (
	"sync"
	"time"

	"github.com/iot-for-tillgenglighet/messaging-golang/pkg/messaging"
	"github.com/iot-for-tillgenglighet/messaging-golang/pkg/messaging/telemetry"

	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/application/notify"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/application/store"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/domain"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/infrastructure/logging"
)

const (
	DeviceChangedTopic = "dashboard.device.changed"
	NotificationTopic  = "dashboard.notification"
)

//MessagingContext is an interface that allows mocking of messaging.Context parameters
type MessagingContext interface {
	PublishOnTopic(message messaging.TopicMessage) error
}

//DeviceChanged is published whenever a device view changes or a device is removed
type DeviceChanged struct {
	Kind       string            `json:"kind"`
	DeviceID   string            `json:"deviceId"`
	SpaceID    string            `json:"spaceId,omitempty"`
	Status     string            `json:"status,omitempty"`
	Device     *store.DeviceView `json:"device,omitempty"`
	ObservedAt string            `json:"observedAt"`
}

func (m *DeviceChanged) TopicName() string   { return DeviceChangedTopic }
func (m *DeviceChanged) ContentType() string { return "application/json" }

//NotificationPublished carries a user notification onto the message bus
type NotificationPublished struct {
	notify.Notification
}

func (m *NotificationPublished) TopicName() string   { return NotificationTopic }
func (m *NotificationPublished) ContentType() string { return "application/json" }

//Publisher forwards dashboard events to RabbitMQ topics
type Publisher struct {
	messenger MessagingContext
	log       logging.Logger

	mu    sync.Mutex
	temps map[string]float64
}

func NewPublisher(messenger MessagingContext, log logging.Logger) *Publisher {
	return &Publisher{messenger: messenger, log: log, temps: map[string]float64{}}
}

//Notify implements notify.Notifier
func (p *Publisher) Notify(n notify.Notification) {
	if err := p.messenger.PublishOnTopic(&NotificationPublished{Notification: n}); err != nil {
		p.log.Errorf("Failed to publish notification %s: %s", n.ID, err.Error())
	}
}

//OnChange publishes single device changes. Bulk loads are not published.
func (p *Publisher) OnChange(c store.Change) {
	if c.Kind == store.ChangeLoaded || c.DeviceID == "" {
		return
	}

	msg := &DeviceChanged{
		Kind:       string(c.Kind),
		DeviceID:   c.DeviceID,
		SpaceID:    c.SpaceID,
		Device:     c.Device,
		ObservedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if c.Device != nil {
		msg.Status = c.Device.Status.Key
	}

	if err := p.messenger.PublishOnTopic(msg); err != nil {
		p.log.Errorf("Failed to publish change of device %s: %s", c.DeviceID, err.Error())
	}

	p.postTemperatureTelemetry(c)
}

//postTemperatureTelemetry publishes the reading of a temperature device on the shared
//telemetry topic each time it differs from the last one published for that device
func (p *Publisher) postTemperatureTelemetry(c store.Change) {
	p.mu.Lock()
	if c.Kind == store.ChangeRemoved {
		delete(p.temps, c.DeviceID)
		p.mu.Unlock()
		return
	}

	if c.Device == nil || len(c.Device.CurrentValue) == 0 {
		p.mu.Unlock()
		return
	}

	reading, ok := c.Device.Telemetry().(domain.TemperatureTelemetry)
	if !ok {
		p.mu.Unlock()
		return
	}

	if last, seen := p.temps[c.DeviceID]; seen && last == reading.Temperature {
		p.mu.Unlock()
		return
	}
	p.temps[c.DeviceID] = reading.Temperature
	p.mu.Unlock()

	msg := &telemetry.Temperature{
		IoTHubMessage: messaging.IoTHubMessage{
			Origin:    messaging.IoTHubMessageOrigin{Device: c.DeviceID},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
		Temp: reading.Temperature,
	}

	if err := p.messenger.PublishOnTopic(msg); err != nil {
		p.log.Errorf("Failed to publish temperature of device %s: %s", c.DeviceID, err.Error())
	}
}
