package devices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/application/notify"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/application/store"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/domain"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/infrastructure/logging"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/infrastructure/platform"
)

var (
	//ErrControlsDisabled is returned when a device is unlinked or locked
	ErrControlsDisabled = errors.New("device controls are disabled")
	//ErrDeviceLocked is returned for mutations that a lock forbids
	ErrDeviceLocked = errors.New("device is locked")
)

//Actions recorded in the device event history
const (
	ActionPowerOn  = "power_on"
	ActionPowerOff = "power_off"
	ActionLock     = "lock"
	ActionUnlock   = "unlock"
	ActionMove     = "move"
	ActionLink     = "link"
	ActionDelete   = "delete"
	ActionDetail   = "detail"
)

//Platform is the part of the remote REST platform the controller needs
type Platform interface {
	Device(ctx context.Context, serialNumber string) (*domain.DeviceRecord, error)
	SetPower(ctx context.Context, deviceID string, on bool) error
	Lock(ctx context.Context, deviceID string) (*platform.LockResult, error)
	Unlock(ctx context.Context, deviceID string) (*platform.LockResult, error)
	MoveDevice(ctx context.Context, deviceID string, req platform.MoveRequest) error
	LinkDevice(ctx context.Context, req platform.LinkRequest) (*domain.DeviceRecord, error)
	DeleteDevice(ctx context.Context, deviceID, groupID string) error
}

//EventRecorder keeps the history of device actions
type EventRecorder interface {
	RecordDeviceEvent(deviceID, action string, success bool, message string, snapshot interface{}) error
}

//Controller performs user initiated device mutations against the platform and keeps the
//shared store in step with their outcome
type Controller struct {
	platform Platform
	store    *store.Store
	notifier notify.Notifier
	events   EventRecorder
	log      logging.Logger
	now      func() time.Time
}

//NewController creates a controller. events may be nil.
func NewController(p Platform, s *store.Store, n notify.Notifier, events EventRecorder, log logging.Logger) *Controller {
	return &Controller{
		platform: p,
		store:    s,
		notifier: n,
		events:   events,
		log:      log,
		now:      time.Now,
	}
}

//Detail fetches the detail record of a device and attaches it to the store. When the fetch
//fails the summary based view is returned together with the error.
func (c *Controller) Detail(ctx context.Context, deviceID string) (store.DeviceView, error) {
	current, ok := c.store.Device(deviceID)
	if !ok {
		return store.DeviceView{}, store.ErrUnknownDevice
	}

	key := current.SerialNumber
	if key == "" {
		key = current.DeviceID
	}

	detail, err := c.platform.Device(ctx, key)
	if err != nil {
		c.log.Warnf("Failed to fetch detail of device %s: %s", deviceID, err.Error())
		return current, err
	}

	return c.store.SetDetail(deviceID, detail)
}

//TogglePower flips the power state locally right away and then tells the platform. A failed
//platform call is reported but does not roll the local state back.
func (c *Controller) TogglePower(ctx context.Context, deviceID string) (store.DeviceView, error) {
	current, ok := c.store.Device(deviceID)
	if !ok {
		return store.DeviceView{}, store.ErrUnknownDevice
	}

	target := !current.PowerStatus
	action := ActionPowerOff
	if target {
		action = ActionPowerOn
	}

	if !current.Status.ControlsEnabled {
		c.fail(action, deviceID, ErrControlsDisabled, current)
		return current, ErrControlsDisabled
	}

	if _, err := c.store.Begin(deviceID); err != nil {
		c.fail(action, deviceID, err, current)
		return current, err
	}

	view, err := c.store.Update(deviceID, func(r *domain.DeviceRecord) {
		on := target
		r.PowerStatus = &on
	})
	if err != nil {
		c.store.End(deviceID)
		return view, err
	}

	err = c.platform.SetPower(ctx, deviceID, target)
	c.store.End(deviceID)
	view, gone := c.settled(action, deviceID)

	if err != nil {
		c.fail(action, deviceID, err, current)
		return view, err
	}
	if gone != nil {
		return view, gone
	}

	c.record(deviceID, action, true, "", view)
	return view, nil
}

//ToggleLock locks an unlocked device and unlocks a locked one
func (c *Controller) ToggleLock(ctx context.Context, deviceID string) (store.DeviceView, error) {
	current, ok := c.store.Device(deviceID)
	if !ok {
		return store.DeviceView{}, store.ErrUnknownDevice
	}
	return c.SetLock(ctx, deviceID, current.LockStatus != domain.Locked)
}

//SetLock asks the platform to lock or unlock a device. Local state only changes once the
//platform has accepted the request.
func (c *Controller) SetLock(ctx context.Context, deviceID string, lock bool) (store.DeviceView, error) {
	current, ok := c.store.Device(deviceID)
	if !ok {
		return store.DeviceView{}, store.ErrUnknownDevice
	}

	action := ActionUnlock
	call := c.platform.Unlock
	if lock {
		action = ActionLock
		call = c.platform.Lock
	}

	if _, err := c.store.Begin(deviceID); err != nil {
		c.fail(action, deviceID, err, current)
		return current, err
	}

	result, err := call(ctx, deviceID)
	if err != nil {
		c.store.End(deviceID)
		view, _ := c.settled(action, deviceID)
		c.fail(action, deviceID, err, current)
		return view, err
	}

	lockedAt := c.now().UTC()
	if result != nil && result.LockedAt != nil {
		lockedAt = *result.LockedAt
	}

	_, err = c.store.Update(deviceID, func(r *domain.DeviceRecord) {
		status := domain.Unlocked
		r.LockedAt = nil
		if lock {
			status = domain.Locked
			at := lockedAt
			r.LockedAt = &at
		}
		r.LockStatus = &status
	})
	c.store.End(deviceID)
	if err != nil {
		c.log.WithField("device", deviceID).Warnf("Device left the store during %s", action)
		return store.DeviceView{}, err
	}

	view, err := c.settled(action, deviceID)
	if err != nil {
		return view, err
	}

	message := "Đã mở khóa thiết bị"
	if lock {
		message = "Đã khóa thiết bị"
	}
	c.succeed(action, deviceID, message, view)

	return view, nil
}

//Move reassigns a device to another space and optionally renames it
func (c *Controller) Move(ctx context.Context, deviceID, spaceID, name string) (store.DeviceView, error) {
	current, ok := c.store.Device(deviceID)
	if !ok {
		return store.DeviceView{}, store.ErrUnknownDevice
	}

	if current.LockStatus == domain.Locked {
		c.fail(ActionMove, deviceID, ErrDeviceLocked, current)
		return current, ErrDeviceLocked
	}

	if _, err := c.store.Begin(deviceID); err != nil {
		c.fail(ActionMove, deviceID, err, current)
		return current, err
	}

	err := c.platform.MoveDevice(ctx, deviceID, platform.MoveRequest{SpaceID: spaceID, Name: name})
	if err != nil {
		c.store.End(deviceID)
		view, _ := c.settled(ActionMove, deviceID)
		c.fail(ActionMove, deviceID, err, current)
		return view, err
	}

	_, err = c.store.Update(deviceID, func(r *domain.DeviceRecord) {
		space := spaceID
		r.SpaceID = &space
		if name != "" {
			n := name
			r.Name = &n
		}
	})
	if err == nil {
		_, err = c.store.Move(deviceID, spaceID)
	}
	c.store.End(deviceID)
	if err != nil {
		c.log.WithField("device", deviceID).Warnf("Device left the store during %s", ActionMove)
		return store.DeviceView{}, err
	}

	view, err := c.settled(ActionMove, deviceID)
	if err != nil {
		return view, err
	}

	c.succeed(ActionMove, deviceID, "Đã cập nhật thiết bị", view)
	return view, nil
}

//Link pairs a new device into a space and adds it to the store
func (c *Controller) Link(ctx context.Context, req platform.LinkRequest) (store.DeviceView, error) {
	record, err := c.platform.LinkDevice(ctx, req)
	if err != nil {
		c.fail(ActionLink, req.SerialNumber, err, req)
		return store.DeviceView{}, err
	}

	if record.SerialNumber == "" {
		record.SerialNumber = req.SerialNumber
	}
	if record.DeviceID == "" {
		record.DeviceID = record.SerialNumber
	}
	if record.SpaceID == nil || *record.SpaceID == "" {
		space := req.SpaceID
		record.SpaceID = &space
	}
	if record.Name == nil && req.Name != "" {
		name := req.Name
		record.Name = &name
	}

	view, err := c.store.Add(*record)
	if err != nil {
		return view, fmt.Errorf("adding linked device: %w", err)
	}

	c.succeed(ActionLink, view.DeviceID, "Đã thêm thiết bị", view)
	return view, nil
}

//Delete removes a device on the platform and then drops it from the store
func (c *Controller) Delete(ctx context.Context, deviceID, groupID string) error {
	current, ok := c.store.Device(deviceID)
	if !ok {
		return store.ErrUnknownDevice
	}

	if current.LockStatus == domain.Locked {
		c.fail(ActionDelete, deviceID, ErrDeviceLocked, current)
		return ErrDeviceLocked
	}

	if _, err := c.store.Begin(deviceID); err != nil {
		c.fail(ActionDelete, deviceID, err, current)
		return err
	}

	if err := c.platform.DeleteDevice(ctx, deviceID, groupID); err != nil {
		c.store.End(deviceID)
		c.fail(ActionDelete, deviceID, err, current)
		return err
	}

	c.store.Remove(deviceID)
	c.succeed(ActionDelete, deviceID, "Đã xóa thiết bị", current)
	return nil
}

func (c *Controller) fail(action, deviceID string, err error, snapshot interface{}) {
	message := UserMessage(err)
	c.log.WithField("device", deviceID).WithField("action", action).Errorf("Device action failed: %s", err.Error())
	c.notifier.Notify(notify.New(notify.LevelError, action, deviceID, message))
	c.record(deviceID, action, false, message, snapshot)
}

//settled re-reads a device once its platform call has returned. A device that left the store
//while the call was in flight yields ErrUnknownDevice.
func (c *Controller) settled(action, deviceID string) (store.DeviceView, error) {
	view, ok := c.store.Device(deviceID)
	if !ok {
		c.log.WithField("device", deviceID).Warnf("Device left the store during %s", action)
		return store.DeviceView{}, store.ErrUnknownDevice
	}
	return view, nil
}

func (c *Controller) succeed(action, deviceID, message string, snapshot interface{}) {
	c.notifier.Notify(notify.New(notify.LevelInfo, action, deviceID, message))
	c.record(deviceID, action, true, message, snapshot)
}

func (c *Controller) record(deviceID, action string, success bool, message string, snapshot interface{}) {
	if c.events == nil {
		return
	}

	if err := c.events.RecordDeviceEvent(deviceID, action, success, message, snapshot); err != nil {
		c.log.Errorf("Failed to record %s event for device %s: %s", action, deviceID, err.Error())
	}
}

//UserMessage maps an action error to the text shown to the user
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrControlsDisabled):
		return "Thiết bị chưa liên kết hoặc đã bị khóa"
	case errors.Is(err, ErrDeviceLocked):
		return "Thiết bị đã bị khóa"
	case errors.Is(err, store.ErrBusy):
		return "Thiết bị đang xử lý một yêu cầu khác"
	case errors.Is(err, store.ErrUnknownDevice):
		return "Không tìm thấy thiết bị"
	case errors.Is(err, platform.ErrTransport):
		return platform.FallbackMessage
	default:
		return platform.UserMessage(err)
	}
}
