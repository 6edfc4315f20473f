package application

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/application/navigation"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/application/store"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/domain"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/infrastructure/config"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/infrastructure/logging"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/infrastructure/platform"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/infrastructure/repositories/models"
)

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}

func TestThatWorkspaceMintsASession(t *testing.T) {
	router, _, _ := newRouterForTest(newPlatformMock())

	w := request(router, "GET", "/api/groups/g1/workspace", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(SessionHeader))

	view := navigation.View{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, navigation.HouseList, view.State)
	require.Len(t, view.Houses, 1)
	assert.Equal(t, 1, view.Houses[0].SpaceCount)
}

func TestThatNavigatingToASpaceListsItsDevices(t *testing.T) {
	router, db, _ := newRouterForTest(newPlatformMock())

	view := navigateToSpace(t, router)

	assert.Equal(t, navigation.DeviceList, view.State)
	require.Len(t, view.Devices, 2)
	assert.Equal(t, "s1", db.spaceID)

	w := request(router, "POST", "/api/groups/g1/workspace/back", "session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(navigation.SpaceList), db.state)
}

func TestThatUnknownHouseIsNotFound(t *testing.T) {
	router, _, _ := newRouterForTest(newPlatformMock())

	w := request(router, "POST", "/api/groups/g1/workspace/houses/nope", "session", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestThatPowerToggleOnLockedDeviceIsAConflict(t *testing.T) {
	p := newPlatformMock()
	router, db, _ := newRouterForTest(p)
	navigateToSpace(t, router)

	w := request(router, "POST", "/api/devices/locked/power", "session", nil)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "message")
	assert.Equal(t, 0, p.powerCalls)
	require.Len(t, db.events, 1)
	assert.False(t, db.events[0].Success)
}

func TestThatPowerToggleReturnsTheUpdatedDevice(t *testing.T) {
	p := newPlatformMock()
	router, _, _ := newRouterForTest(p)
	navigateToSpace(t, router)

	w := request(router, "POST", "/api/devices/lamp/power", "session", nil)

	require.Equal(t, http.StatusOK, w.Code)
	device := domain.Device{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &device))
	assert.True(t, device.PowerStatus)
	assert.Equal(t, domain.StatusActive, device.Status.Key)
}

func TestThatPlatformErrorsKeepTheirStatusAndMessage(t *testing.T) {
	p := newPlatformMock()
	p.lockErr = &platform.APIError{Status: http.StatusForbidden, Message: "Không có quyền"}
	router, _, _ := newRouterForTest(p)
	navigateToSpace(t, router)

	w := request(router, "POST", "/api/devices/lamp/lock", "session", nil)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "Không có quyền")
}

func TestThatTransportErrorsAreBadGateway(t *testing.T) {
	p := newPlatformMock()
	router, _, _ := newRouterForTest(p)
	navigateToSpace(t, router)
	p.lockErr = platform.ErrTransport

	w := request(router, "POST", "/api/devices/lamp/lock", "session", nil)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), platform.FallbackMessage)
}

func TestThatFailedDetailFetchReturnsTheSummaryView(t *testing.T) {
	p := newPlatformMock()
	p.detailErr = platform.ErrTransport
	router, _, _ := newRouterForTest(p)
	navigateToSpace(t, router)

	w := request(router, "GET", "/api/devices/lamp", "session", nil)

	require.Equal(t, http.StatusOK, w.Code)
	device := domain.Device{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &device))
	assert.Equal(t, domain.DefaultFirmwareVersion, device.FirmwareVersion)
}

func TestThatUnknownDeviceIsNotFound(t *testing.T) {
	router, _, _ := newRouterForTest(newPlatformMock())

	w := request(router, "GET", "/api/devices/ghost", "session", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestThatMoveRequiresASpace(t *testing.T) {
	router, _, _ := newRouterForTest(newPlatformMock())
	navigateToSpace(t, router)

	w := request(router, "PUT", "/api/devices/lamp/space", "session", []byte(`{"name":"x"}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestThatLinkedDeviceIsCreated(t *testing.T) {
	router, _, _ := newRouterForTest(newPlatformMock())
	navigateToSpace(t, router)

	w := request(router, "POST", "/api/devices/link", "session", []byte(`{"serial_number":"SN-9","space_id":"s1"}`))

	require.Equal(t, http.StatusCreated, w.Code)
	device := domain.Device{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &device))
	assert.Equal(t, "SN-9", device.Name)
}

func TestThatDeleteRemovesTheDevice(t *testing.T) {
	router, _, d := newRouterForTest(newPlatformMock())
	navigateToSpace(t, router)

	w := request(router, "DELETE", "/api/devices/lamp?groupId=g1", "session", nil)

	assert.Equal(t, http.StatusNoContent, w.Code)
	_, ok := d.store.Device("lamp")
	assert.False(t, ok)
}

func TestThatDeviceEventsAreListed(t *testing.T) {
	router, db, _ := newRouterForTest(newPlatformMock())
	db.events = []models.DeviceEvent{{DeviceID: "lamp", Action: "lock", Success: true}}

	w := request(router, "GET", "/api/devices/lamp/events?limit=5", "session", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, db.limit)
	assert.Contains(t, w.Body.String(), "lock")
}

func TestThatBearerTokenIsForwardedToThePlatform(t *testing.T) {
	p := newPlatformMock()
	router, _, _ := newRouterForTest(p)

	req, _ := http.NewRequest("GET", "/api/groups/g1/workspace", nil)
	req.Header.Set("Authorization", "Bearer user-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-token", p.token)
}

func TestQueryEntitiesListsCachedDevices(t *testing.T) {
	router, _, _ := newRouterForTest(newPlatformMock())
	navigateToSpace(t, router)

	w := request(router, "GET", "/ngsi-ld/v1/entities?type=Device", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "lamp")
}

func TestThatContextSourceOnlyProvidesDevices(t *testing.T) {
	_, _, d := newRouterForTest(newPlatformMock())
	cs := contextSource{store: d.store, log: logging.NewLogger()}

	assert.True(t, cs.ProvidesEntitiesWithMatchingID("urn:ngsi-ld:Device:x"))
	assert.False(t, cs.ProvidesType("DeviceModel"))
}

func TestThatDeviceValueCarriesTelemetryAndConfig(t *testing.T) {
	thermometer := domain.TemplateTemperature
	alarm := domain.TemplateAlarm

	for _, c := range []struct {
		record   domain.DeviceRecord
		contains []string
	}{
		{domain.DeviceRecord{DeviceID: "t1", TemplateType: &thermometer, CurrentValue: []byte(`{"temperature":21.5,"humidity":40}`)}, []string{"template=temperature", ";t=21.5;h=40"}},
		{domain.DeviceRecord{DeviceID: "a1", TemplateType: &alarm, CurrentValue: []byte(`{"alarmActive":true}`), Attribute: []byte(`{"alarm_volume":3,"delay":10}`)}, []string{";armed=true", ";volume=3;delay=10"}},
	} {
		record := c.record
		view := store.DeviceView{Device: domain.MergeDevice(&record, nil)}
		device := toFiwareDevice(view)

		assert.Equal(t, "urn:ngsi-ld:Device:"+record.DeviceID, device.ID)
		for _, part := range c.contains {
			assert.Contains(t, device.Value.Value, part)
		}
	}
}

func TestThatOriginCheckerHonoursTheAllowList(t *testing.T) {
	assert.Nil(t, originChecker([]string{"*"}))

	check := originChecker([]string{"https://admin.example.com"})
	req, _ := http.NewRequest("GET", "/api/ws", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))

	req.Header.Set("Origin", "https://admin.example.com")
	assert.True(t, check(req))
}

func TestThatHealthReportsConnectedClients(t *testing.T) {
	router, _, _ := newRouterForTest(newPlatformMock())

	w := request(router, "GET", "/health", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	health := struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 0, health.Clients)
}

func navigateToSpace(t *testing.T, router *RequestRouter) navigation.View {
	for _, path := range []string{
		"/api/groups/g1/workspace/houses/h1",
		"/api/groups/g1/workspace/spaces/s1",
	} {
		w := request(router, "POST", path, "session", nil)
		require.Equal(t, http.StatusOK, w.Code, path)
	}

	w := request(router, "GET", "/api/groups/g1/workspace", "session", nil)
	view := navigation.View{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	return view
}

func request(router *RequestRouter, method, path, session string, body []byte) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, bytes.NewBuffer(body))
	if session != "" {
		req.Header.Set(SessionHeader, session)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func newRouterForTest(p *platformMock) (*RequestRouter, *dbMock, *dashboard) {
	cfg := &config.Config{}
	cfg.Service.AllowedOrigins = []string{"*"}
	cfg.Platform.CountConcurrency = 2

	db := &dbMock{}
	d := newDashboard(cfg, logging.NewLogger(), p, nil, db)
	return createRequestRouter(cfg, d), db, d
}

func strPtr(s string) *string { return &s }

func deviceRecord(id string, lock domain.LockStatus) domain.DeviceRecord {
	link := domain.Linked
	power := false
	return domain.DeviceRecord{
		DeviceID:     id,
		SerialNumber: id,
		Name:         strPtr(strings.ToUpper(id)),
		LinkStatus:   &link,
		LockStatus:   &lock,
		PowerStatus:  &power,
		SpaceID:      strPtr("s1"),
	}
}

type platformMock struct {
	houses     []domain.House
	spaces     []domain.Space
	devices    []domain.DeviceRecord
	detailErr  error
	lockErr    error
	powerCalls int
	token      string
}

func newPlatformMock() *platformMock {
	return &platformMock{
		houses: []domain.House{{HouseID: "h1", Name: "Nhà"}},
		spaces: []domain.Space{{SpaceID: "s1", HouseID: "h1", Name: "Phòng khách"}},
		devices: []domain.DeviceRecord{
			deviceRecord("lamp", domain.Unlocked),
			deviceRecord("locked", domain.Locked),
		},
	}
}

func (p *platformMock) Houses(ctx context.Context, groupID string) ([]domain.House, error) {
	p.token, _ = platform.TokenFromContext(ctx)
	return p.houses, nil
}

func (p *platformMock) Spaces(ctx context.Context, houseID string) ([]domain.Space, error) {
	return p.spaces, nil
}

func (p *platformMock) Devices(ctx context.Context, spaceID, groupID string) ([]domain.DeviceRecord, error) {
	result := []domain.DeviceRecord{}
	for _, d := range p.devices {
		result = append(result, *d.Clone())
	}
	return result, nil
}

func (p *platformMock) Device(ctx context.Context, serialNumber string) (*domain.DeviceRecord, error) {
	if p.detailErr != nil {
		return nil, p.detailErr
	}
	return &domain.DeviceRecord{DeviceID: serialNumber, FirmwareVersion: strPtr("2.1.0")}, nil
}

func (p *platformMock) SetPower(ctx context.Context, deviceID string, on bool) error {
	p.powerCalls++
	return nil
}

func (p *platformMock) Lock(ctx context.Context, deviceID string) (*platform.LockResult, error) {
	if p.lockErr != nil {
		return nil, p.lockErr
	}
	return &platform.LockResult{LockStatus: domain.Locked}, nil
}

func (p *platformMock) Unlock(ctx context.Context, deviceID string) (*platform.LockResult, error) {
	if p.lockErr != nil {
		return nil, p.lockErr
	}
	return &platform.LockResult{LockStatus: domain.Unlocked}, nil
}

func (p *platformMock) MoveDevice(ctx context.Context, deviceID string, req platform.MoveRequest) error {
	return nil
}

func (p *platformMock) LinkDevice(ctx context.Context, req platform.LinkRequest) (*domain.DeviceRecord, error) {
	return &domain.DeviceRecord{SerialNumber: req.SerialNumber}, nil
}

func (p *platformMock) DeleteDevice(ctx context.Context, deviceID, groupID string) error {
	return nil
}

type dbMock struct {
	state   string
	houseID string
	spaceID string
	events  []models.DeviceEvent
	limit   int
}

func (db *dbMock) GetWorkspacePosition(sessionID, groupID string) (string, string, string, bool, error) {
	return db.state, db.houseID, db.spaceID, db.state != "", nil
}

func (db *dbMock) SaveWorkspacePosition(sessionID, groupID, state, houseID, spaceID string) error {
	db.state, db.houseID, db.spaceID = state, houseID, spaceID
	return nil
}

func (db *dbMock) RecordDeviceEvent(deviceID, action string, success bool, message string, snapshot interface{}) error {
	db.events = append(db.events, models.DeviceEvent{DeviceID: deviceID, Action: action, Success: success, Message: message})
	return nil
}

func (db *dbMock) GetDeviceEvents(deviceID string, limit int) ([]models.DeviceEvent, error) {
	db.limit = limit
	return db.events, nil
}
