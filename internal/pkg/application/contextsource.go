package application

import (
	"errors"
	"fmt"
	"strings"

	"github.com/iot-for-tillgenglighet/ngsi-ld-golang/pkg/datamodels/fiware"
	ngsi "github.com/iot-for-tillgenglighet/ngsi-ld-golang/pkg/ngsi-ld"

	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/application/store"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/domain"
	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/infrastructure/logging"
)

var errReadOnly = errors.New("the dashboard exposes a read only view of its devices")

func createContextRegistry(log logging.Logger, s *store.Store) ngsi.ContextRegistry {
	contextRegistry := ngsi.NewContextRegistry()
	ctxSource := contextSource{store: s, log: log}
	contextRegistry.Register(&ctxSource)
	return contextRegistry
}

//contextSource exposes the devices held by the store as NGSI-LD Device entities
type contextSource struct {
	store *store.Store
	log   logging.Logger
}

func (cs contextSource) ProvidesEntitiesWithMatchingID(entityID string) bool {
	return strings.HasPrefix(entityID, fiware.DeviceIDPrefix)
}

func (cs contextSource) ProvidesAttribute(attributeName string) bool {
	return attributeName == "value"
}

func (cs contextSource) ProvidesType(typeName string) bool {
	return typeName == "Device"
}

func (cs *contextSource) CreateEntity(typeName, entityID string, req ngsi.Request) error {
	cs.log.Warnf("Refusing to create %s entity %s", typeName, entityID)
	return errReadOnly
}

func (cs *contextSource) UpdateEntityAttributes(entityID string, req ngsi.Request) error {
	cs.log.Warnf("Refusing to update attributes of %s", entityID)
	return errReadOnly
}

func (cs *contextSource) GetEntities(query ngsi.Query, callback ngsi.QueryEntitiesCallback) error {
	if query == nil {
		return errors.New("GetEntities: query may not be nil")
	}

	for _, typeName := range query.EntityTypes() {
		if typeName != "Device" {
			continue
		}

		for _, device := range cs.store.All() {
			if err := callback(toFiwareDevice(device)); err != nil {
				return err
			}
		}
	}

	return nil
}

func (cs *contextSource) RetrieveEntity(entityID string, req ngsi.Request) (ngsi.Entity, error) {
	deviceID := strings.TrimPrefix(entityID, fiware.DeviceIDPrefix)

	device, ok := cs.store.Device(deviceID)
	if !ok {
		return nil, fmt.Errorf("no device with id %s", deviceID)
	}

	return toFiwareDevice(device), nil
}

//toFiwareDevice encodes the dashboard state of a device into the value attribute using the
//same key=value;key=value form the sensors report in
func toFiwareDevice(d store.DeviceView) *fiware.Device {
	power := "off"
	if d.PowerStatus {
		power = "on"
	}

	value := fmt.Sprintf("status=%s;power=%s;link=%s;lock=%s;template=%s",
		d.Status.Key, power, d.LinkStatus, d.LockStatus, d.TemplateType)

	if len(d.CurrentValue) > 0 {
		value += telemetryValue(d.Telemetry())
	}
	if len(d.Attribute) > 0 {
		value += configValue(d.Config())
	}

	return fiware.NewDevice(d.DeviceID, value)
}

func telemetryValue(t domain.Telemetry) string {
	switch v := t.(type) {
	case domain.TemperatureTelemetry:
		return fmt.Sprintf(";t=%.1f;h=%.0f", v.Temperature, v.Humidity)
	case domain.LightTelemetry:
		return fmt.Sprintf(";brightness=%d", v.Brightness)
	case domain.SmokeTelemetry:
		return fmt.Sprintf(";gas=%.0f", v.GasPPM)
	case domain.AlarmTelemetry:
		return fmt.Sprintf(";armed=%t", v.Armed)
	}
	return ""
}

func configValue(c domain.Config) string {
	switch v := c.(type) {
	case domain.SmokeConfig:
		if v.Sensitivity != "" {
			return ";sensitivity=" + v.Sensitivity
		}
	case domain.AlarmConfig:
		return fmt.Sprintf(";volume=%d;delay=%d", v.Volume, v.Delay)
	}
	return ""
}
