package devices

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/application/notify"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/application/store"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/domain"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/infrastructure/logging"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/infrastructure/platform"
)

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}

func TestThatTogglePowerUpdatesListAndDetail(t *testing.T) {
	ctrl, s, p, rec, _ := newControllerForTest(record("x", domain.Linked, domain.Unlocked, false), record("y", domain.Linked, domain.Unlocked, false))
	s.SetDetail("x", &domain.DeviceRecord{FirmwareVersion: strPtr("v2")})

	view, err := ctrl.TogglePower(context.Background(), "x")
	require.NoError(t, err)

	detail, _ := s.Device("x")
	list := s.List("s1")

	assert.True(t, view.PowerStatus)
	assert.True(t, detail.PowerStatus)
	assert.True(t, list[0].PowerStatus)
	assert.False(t, list[1].PowerStatus)
	assert.False(t, detail.Busy)
	assert.Equal(t, []bool{true}, p.powerCalls)
	assert.Empty(t, rec.All())
}

func TestThatTogglePowerIsRefusedWhenControlsAreDisabled(t *testing.T) {
	for _, r := range []domain.DeviceRecord{
		record("x", domain.Unlinked, domain.Unlocked, false),
		record("x", domain.Linked, domain.Locked, false),
	} {
		ctrl, s, p, rec, _ := newControllerForTest(r)

		_, err := ctrl.TogglePower(context.Background(), "x")
		assert.True(t, errors.Is(err, ErrControlsDisabled))

		view, _ := s.Device("x")
		assert.False(t, view.PowerStatus)
		assert.Empty(t, p.powerCalls)
		assert.Len(t, rec.Errors(), 1)
	}
}

func TestThatFailedPowerCallIsNotifiedButKept(t *testing.T) {
	ctrl, s, p, rec, events := newControllerForTest(record("x", domain.Linked, domain.Unlocked, false))
	p.powerErr = &platform.APIError{Status: 500, Message: "Thiết bị không phản hồi"}

	_, err := ctrl.TogglePower(context.Background(), "x")
	require.Error(t, err)

	view, _ := s.Device("x")
	assert.True(t, view.PowerStatus)
	require.Len(t, rec.Errors(), 1)
	assert.Equal(t, "Thiết bị không phản hồi", rec.Errors()[0].Message)
	assert.Equal(t, []string{"x:power_on:false"}, events.events)
}

func TestThatPowerToggleIsRejectedWhileARequestIsPending(t *testing.T) {
	ctrl, s, p, rec, events := newControllerForTest(record("x", domain.Linked, domain.Unlocked, false))

	_, err := s.Begin("x")
	require.NoError(t, err)

	_, err = ctrl.TogglePower(context.Background(), "x")
	assert.True(t, errors.Is(err, store.ErrBusy))
	assert.Empty(t, p.powerCalls)
	require.Len(t, rec.Errors(), 1)
	assert.Equal(t, "Thiết bị đang xử lý một yêu cầu khác", rec.Errors()[0].Message)
	assert.Equal(t, []string{"x:power_on:false"}, events.events)
}

func TestThatLockReportsUnknownDeviceWhenTheSpaceIsReloadedMeanwhile(t *testing.T) {
	ctrl, s, p, rec, events := newControllerForTest(record("x", domain.Linked, domain.Unlocked, false))
	p.onLock = func() { s.Load("s1", nil) }

	view, err := ctrl.SetLock(context.Background(), "x", true)
	assert.True(t, errors.Is(err, store.ErrUnknownDevice))
	assert.Empty(t, view.DeviceID)
	assert.Empty(t, rec.All())
	assert.Empty(t, events.events)

	_, ok := s.Device("x")
	assert.False(t, ok)
}

func TestThatMoveReportsUnknownDeviceWhenTheSpaceIsReloadedMeanwhile(t *testing.T) {
	ctrl, s, p, rec, events := newControllerForTest(record("x", domain.Linked, domain.Unlocked, false))
	p.onMove = func() { s.Load("s1", nil) }

	_, err := ctrl.Move(context.Background(), "x", "s2", "")
	assert.True(t, errors.Is(err, store.ErrUnknownDevice))
	assert.Empty(t, rec.All())
	assert.Empty(t, events.events)
	assert.Empty(t, s.List("s2"))
}

func TestThatPowerToggleReportsUnknownDeviceWhenTheSpaceIsReloadedMeanwhile(t *testing.T) {
	ctrl, s, p, _, events := newControllerForTest(record("x", domain.Linked, domain.Unlocked, false))
	p.onPower = func() { s.Load("s1", nil) }

	_, err := ctrl.TogglePower(context.Background(), "x")
	assert.True(t, errors.Is(err, store.ErrUnknownDevice))
	assert.Equal(t, []bool{true}, p.powerCalls)
	assert.Empty(t, events.events)
}

func TestThatFailedLockLeavesStateAndNotifiesOnce(t *testing.T) {
	ctrl, s, p, rec, _ := newControllerForTest(record("x", domain.Linked, domain.Unlocked, true))
	p.lockErr = &platform.APIError{Status: 403, Message: "Không có quyền khóa thiết bị"}

	_, err := ctrl.ToggleLock(context.Background(), "x")
	require.Error(t, err)

	view, _ := s.Device("x")
	assert.Equal(t, domain.Unlocked, view.LockStatus)
	assert.Nil(t, view.LockedAt)
	assert.False(t, view.Busy)
	require.Len(t, rec.All(), 1)
	assert.Equal(t, notify.LevelError, rec.All()[0].Level)
	assert.Equal(t, "Không có quyền khóa thiết bị", rec.All()[0].Message)
}

func TestThatSuccessfulLockFlipsStateAndStampsLockedAt(t *testing.T) {
	ctrl, s, _, rec, _ := newControllerForTest(record("x", domain.Linked, domain.Unlocked, true))
	s.SetDetail("x", &domain.DeviceRecord{FirmwareVersion: strPtr("v2")})
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	ctrl.now = func() time.Time { return fixed }

	view, err := ctrl.ToggleLock(context.Background(), "x")
	require.NoError(t, err)

	assert.Equal(t, domain.Locked, view.LockStatus)
	require.NotNil(t, view.LockedAt)
	assert.True(t, view.LockedAt.Equal(fixed))
	assert.False(t, view.Status.ControlsEnabled)
	assert.Equal(t, domain.Locked, s.List("s1")[0].LockStatus)
	assert.Empty(t, rec.Errors())

	view, err = ctrl.ToggleLock(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, domain.Unlocked, view.LockStatus)
	assert.Nil(t, view.LockedAt)
}

func TestThatServerLockTimestampWins(t *testing.T) {
	ctrl, _, p, _, _ := newControllerForTest(record("x", domain.Linked, domain.Unlocked, true))
	serverTime := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	p.lockResult = &platform.LockResult{LockStatus: domain.Locked, LockedAt: &serverTime}

	view, err := ctrl.SetLock(context.Background(), "x", true)
	require.NoError(t, err)
	assert.True(t, view.LockedAt.Equal(serverTime))
}

func TestDeleteRemovesOnlyAfterPlatformSucceeds(t *testing.T) {
	ctrl, s, p, rec, _ := newControllerForTest(record("x", domain.Linked, domain.Unlocked, true))
	p.deleteErr = errors.New("boom")

	require.Error(t, ctrl.Delete(context.Background(), "x", "g1"))
	_, ok := s.Device("x")
	assert.True(t, ok)

	p.deleteErr = nil
	require.NoError(t, ctrl.Delete(context.Background(), "x", "g1"))
	_, ok = s.Device("x")
	assert.False(t, ok)
	assert.Len(t, rec.Errors(), 1)
}

func TestThatLockedDevicesCannotBeMovedOrDeleted(t *testing.T) {
	ctrl, _, p, _, _ := newControllerForTest(record("x", domain.Linked, domain.Locked, true))

	_, err := ctrl.Move(context.Background(), "x", "s2", "")
	assert.True(t, errors.Is(err, ErrDeviceLocked))
	assert.True(t, errors.Is(ctrl.Delete(context.Background(), "x", "g1"), ErrDeviceLocked))
	assert.Empty(t, p.moves)
}

func TestMoveUpdatesSpaceAndName(t *testing.T) {
	ctrl, s, p, _, _ := newControllerForTest(record("x", domain.Linked, domain.Unlocked, true))

	view, err := ctrl.Move(context.Background(), "x", "s2", "Đèn phòng khách")
	require.NoError(t, err)

	assert.Equal(t, "s2", view.SpaceID)
	assert.Equal(t, "Đèn phòng khách", view.Name)
	assert.Empty(t, s.List("s1"))
	assert.Len(t, s.List("s2"), 1)
	assert.Equal(t, []string{"x->s2"}, p.moves)
}

func TestLinkAddsDeviceToItsSpace(t *testing.T) {
	ctrl, s, p, _, _ := newControllerForTest()
	p.linked = &domain.DeviceRecord{DeviceID: "new"}

	view, err := ctrl.Link(context.Background(), platform.LinkRequest{SerialNumber: "SN-new", SpaceID: "s3"})
	require.NoError(t, err)

	assert.Equal(t, "SN-new", view.SerialNumber)
	assert.Equal(t, "s3", view.SpaceID)
	assert.Len(t, s.List("s3"), 1)
}

func TestDetailFallsBackToSummaryOnFailure(t *testing.T) {
	ctrl, _, p, _, _ := newControllerForTest(record("x", domain.Linked, domain.Unlocked, true))
	p.detailErr = errors.New("timeout")

	view, err := ctrl.Detail(context.Background(), "x")
	assert.Error(t, err)
	assert.Equal(t, domain.DefaultFirmwareVersion, view.FirmwareVersion)

	p.detailErr = nil
	p.detail = &domain.DeviceRecord{FirmwareVersion: strPtr("v3")}
	view, err = ctrl.Detail(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "v3", view.FirmwareVersion)
	assert.Equal(t, "SN-x", p.detailKey)
}

func newControllerForTest(records ...domain.DeviceRecord) (*Controller, *store.Store, *platformMock, *notify.Recorder, *eventsMock) {
	s := store.New()
	s.Load("s1", records)

	p := &platformMock{}
	rec := &notify.Recorder{}
	events := &eventsMock{}

	return NewController(p, s, rec, events, logging.NewLogger()), s, p, rec, events
}

func record(id string, link domain.LinkStatus, lock domain.LockStatus, power bool) domain.DeviceRecord {
	space := "s1"
	return domain.DeviceRecord{
		DeviceID:     id,
		SerialNumber: "SN-" + id,
		LinkStatus:   &link,
		LockStatus:   &lock,
		PowerStatus:  &power,
		SpaceID:      &space,
	}
}

func strPtr(s string) *string { return &s }

type platformMock struct {
	powerCalls []bool
	powerErr   error
	lockResult *platform.LockResult
	lockErr    error
	moves      []string
	linked     *domain.DeviceRecord
	deleteErr  error
	detail     *domain.DeviceRecord
	detailErr  error
	detailKey  string

	onPower func()
	onLock  func()
	onMove  func()
}

func (p *platformMock) Device(ctx context.Context, serialNumber string) (*domain.DeviceRecord, error) {
	p.detailKey = serialNumber
	return p.detail, p.detailErr
}

func (p *platformMock) SetPower(ctx context.Context, deviceID string, on bool) error {
	p.powerCalls = append(p.powerCalls, on)
	if p.onPower != nil {
		p.onPower()
	}
	return p.powerErr
}

func (p *platformMock) Lock(ctx context.Context, deviceID string) (*platform.LockResult, error) {
	if p.onLock != nil {
		p.onLock()
	}
	return p.lockResult, p.lockErr
}

func (p *platformMock) Unlock(ctx context.Context, deviceID string) (*platform.LockResult, error) {
	return &platform.LockResult{LockStatus: domain.Unlocked}, p.lockErr
}

func (p *platformMock) MoveDevice(ctx context.Context, deviceID string, req platform.MoveRequest) error {
	p.moves = append(p.moves, deviceID+"->"+req.SpaceID)
	if p.onMove != nil {
		p.onMove()
	}
	return nil
}

func (p *platformMock) LinkDevice(ctx context.Context, req platform.LinkRequest) (*domain.DeviceRecord, error) {
	return p.linked, nil
}

func (p *platformMock) DeleteDevice(ctx context.Context, deviceID, groupID string) error {
	return p.deleteErr
}

type eventsMock struct {
	events []string
}

func (e *eventsMock) RecordDeviceEvent(deviceID, action string, success bool, message string, snapshot interface{}) error {
	if success {
		e.events = append(e.events, deviceID+":"+action+":true")
	} else {
		e.events = append(e.events, deviceID+":"+action+":false")
	}
	return nil
}
