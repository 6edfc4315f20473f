package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

//Level of a notification
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

//Notification is a user visible message about the outcome of an action
type Notification struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Action    string    `json:"action"`
	DeviceID  string    `json:"device_id,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

//New creates a notification with a fresh id and timestamp
func New(level Level, action, deviceID, message string) Notification {
	return Notification{
		ID:        uuid.NewString(),
		Level:     level,
		Action:    action,
		DeviceID:  deviceID,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
}

//Notifier delivers notifications to users
type Notifier interface {
	Notify(n Notification)
}

//Multi fans a notification out to several notifiers
type Multi []Notifier

func (m Multi) Notify(n Notification) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(n)
		}
	}
}

//Recorder keeps every notification it receives
type Recorder struct {
	mu  sync.Mutex
	all []Notification
}

func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, n)
}

//All returns a copy of the recorded notifications
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.all...)
}

//Errors returns the recorded notifications with level error
func (r *Recorder) Errors() []Notification {
	errs := []Notification{}
	for _, n := range r.All() {
		if n.Level == LevelError {
			errs = append(errs, n)
		}
	}
	return errs
}
