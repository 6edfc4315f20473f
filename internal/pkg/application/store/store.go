package store

import (
	"errors"
	"sync"

	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/domain"
)

var (
	//ErrUnknownDevice is returned for ids the store does not hold
	ErrUnknownDevice = errors.New("unknown device")
	//ErrBusy is returned when a device already has a mutation in flight
	ErrBusy = errors.New("device has a pending request")
)

//ChangeKind tells listeners what happened to the store
type ChangeKind string

const (
	ChangeLoaded  ChangeKind = "loaded"
	ChangeUpdated ChangeKind = "updated"
	ChangeRemoved ChangeKind = "removed"
)

//Change is delivered to subscribers after every mutation
type Change struct {
	Kind     ChangeKind   `json:"kind"`
	SpaceID  string       `json:"space_id,omitempty"`
	DeviceID string       `json:"device_id,omitempty"`
	Device   *DeviceView  `json:"device,omitempty"`
	Devices  []DeviceView `json:"devices,omitempty"`
}

//DeviceView is the merged device plus the store's request state
type DeviceView struct {
	domain.Device
	Busy       bool `json:"busy"`
	Actionable bool `json:"actionable"`
}

type entry struct {
	summary *domain.DeviceRecord
	detail  *domain.DeviceRecord
	spaceID string
	busy    bool
}

func (e *entry) view() DeviceView {
	d := domain.MergeDevice(e.summary, e.detail)
	return DeviceView{
		Device:     d,
		Busy:       e.busy,
		Actionable: d.Status.ControlsEnabled && !e.busy,
	}
}

//Store is the single normalized state of all devices the dashboard has loaded, keyed by
//device id. List and detail views both read merged views from it, so a change made through
//Update is visible to both at once.
type Store struct {
	mu          sync.RWMutex
	devices     map[string]*entry
	spaces      map[string][]string
	subscribers []func(Change)
}

func New() *Store {
	return &Store{
		devices: map[string]*entry{},
		spaces:  map[string][]string{},
	}
}

//Subscribe registers fn to be called after every change. fn runs on the goroutine that made
//the change, after the store lock has been released.
func (s *Store) Subscribe(fn func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

//Load replaces the devices of one space with freshly fetched summaries. Details fetched
//earlier are dropped since the new summaries are fresher; in flight markers are kept.
func (s *Store) Load(spaceID string, summaries []domain.DeviceRecord) []DeviceView {
	s.mu.Lock()

	previous := map[string]*entry{}
	for _, id := range s.spaces[spaceID] {
		if e, ok := s.devices[id]; ok && e.spaceID == spaceID {
			previous[id] = e
			delete(s.devices, id)
		}
	}

	ids := make([]string, 0, len(summaries))
	seen := map[string]bool{}
	for i := range summaries {
		summary := summaries[i].Clone()
		if summary.DeviceID == "" || seen[summary.DeviceID] {
			continue
		}
		seen[summary.DeviceID] = true

		e := &entry{summary: summary, spaceID: spaceID}
		if old, ok := previous[summary.DeviceID]; ok {
			e.busy = old.busy
		} else if old, ok := s.devices[summary.DeviceID]; ok {
			// the device moved here from another space
			s.removeFromSpace(old.spaceID, summary.DeviceID)
			e.busy = old.busy
		}

		s.devices[summary.DeviceID] = e
		ids = append(ids, summary.DeviceID)
	}
	s.spaces[spaceID] = ids

	views := s.listLocked(spaceID)
	subscribers := s.subscribers
	s.mu.Unlock()

	publish(subscribers, Change{Kind: ChangeLoaded, SpaceID: spaceID, Devices: views})
	return views
}

//Add inserts or replaces a single device, appending it to its space list
func (s *Store) Add(record domain.DeviceRecord) (DeviceView, error) {
	if record.DeviceID == "" {
		return DeviceView{}, ErrUnknownDevice
	}

	s.mu.Lock()
	spaceID := ""
	if record.SpaceID != nil {
		spaceID = *record.SpaceID
	}

	if old, ok := s.devices[record.DeviceID]; ok {
		s.removeFromSpace(old.spaceID, record.DeviceID)
	}

	e := &entry{summary: record.Clone(), spaceID: spaceID}
	s.devices[record.DeviceID] = e
	s.spaces[spaceID] = append(s.spaces[spaceID], record.DeviceID)

	v := e.view()
	subscribers := s.subscribers
	s.mu.Unlock()

	publish(subscribers, Change{Kind: ChangeUpdated, SpaceID: spaceID, DeviceID: record.DeviceID, Device: &v})
	return v, nil
}

//SetDetail attaches a detail response to a device. The merged view is recomputed on read.
func (s *Store) SetDetail(deviceID string, detail *domain.DeviceRecord) (DeviceView, error) {
	return s.mutate(deviceID, func(e *entry) error {
		e.detail = detail.Clone()
		return nil
	})
}

//Update is the single mutation entry point for a device. fn is applied to the summary and,
//when present, to the detail so that neither copy can disagree with the other.
func (s *Store) Update(deviceID string, fn func(r *domain.DeviceRecord)) (DeviceView, error) {
	return s.mutate(deviceID, func(e *entry) error {
		summary := e.summary.Clone()
		fn(summary)
		e.summary = summary

		if e.detail != nil {
			detail := e.detail.Clone()
			fn(detail)
			e.detail = detail
		}
		return nil
	})
}

//Begin marks a device as having a request in flight. It fails with ErrBusy if one is already
//pending.
func (s *Store) Begin(deviceID string) (DeviceView, error) {
	return s.mutate(deviceID, func(e *entry) error {
		if e.busy {
			return ErrBusy
		}
		e.busy = true
		return nil
	})
}

//End clears the in flight marker set by Begin
func (s *Store) End(deviceID string) {
	s.mutate(deviceID, func(e *entry) error {
		e.busy = false
		return nil
	})
}

//Remove drops a device from the store
func (s *Store) Remove(deviceID string) bool {
	s.mu.Lock()
	e, ok := s.devices[deviceID]
	if !ok {
		s.mu.Unlock()
		return false
	}

	delete(s.devices, deviceID)
	s.removeFromSpace(e.spaceID, deviceID)
	subscribers := s.subscribers
	s.mu.Unlock()

	publish(subscribers, Change{Kind: ChangeRemoved, SpaceID: e.spaceID, DeviceID: deviceID})
	return true
}

//Move reassigns a device to another space list
func (s *Store) Move(deviceID, spaceID string) (DeviceView, error) {
	return s.mutate(deviceID, func(e *entry) error {
		if e.spaceID != spaceID {
			s.removeFromSpace(e.spaceID, deviceID)
			s.spaces[spaceID] = append(s.spaces[spaceID], deviceID)
			e.spaceID = spaceID
		}
		return nil
	})
}

//Device returns the merged view of one device
func (s *Store) Device(deviceID string) (DeviceView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.devices[deviceID]
	if !ok {
		return DeviceView{}, false
	}
	return e.view(), true
}

//List returns the merged views of the devices of a space in load order
func (s *Store) List(spaceID string) []DeviceView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(spaceID)
}

//All returns every device in the store
func (s *Store) All() []DeviceView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	views := make([]DeviceView, 0, len(s.devices))
	for _, e := range s.devices {
		views = append(views, e.view())
	}
	return views
}

func (s *Store) listLocked(spaceID string) []DeviceView {
	ids := s.spaces[spaceID]
	views := make([]DeviceView, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.devices[id]; ok {
			views = append(views, e.view())
		}
	}
	return views
}

func (s *Store) mutate(deviceID string, fn func(e *entry) error) (DeviceView, error) {
	s.mu.Lock()
	old, ok := s.devices[deviceID]
	if !ok {
		s.mu.Unlock()
		return DeviceView{}, ErrUnknownDevice
	}

	e := *old
	if err := fn(&e); err != nil {
		s.mu.Unlock()
		return old.view(), err
	}
	s.devices[deviceID] = &e

	v := e.view()
	subscribers := s.subscribers
	s.mu.Unlock()

	publish(subscribers, Change{Kind: ChangeUpdated, SpaceID: e.spaceID, DeviceID: deviceID, Device: &v})
	return v, nil
}

func (s *Store) removeFromSpace(spaceID, deviceID string) {
	ids := s.spaces[spaceID]
	kept := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != deviceID {
			kept = append(kept, id)
		}
	}
	s.spaces[spaceID] = kept
}

func publish(subscribers []func(Change), c Change) {
	for _, fn := range subscribers {
		fn(c)
	}
}
