package domain

import (
	"encoding/json"
	"time"
)

//LinkStatus tells if a device has completed network pairing with the platform
type LinkStatus string

//LockStatus is the administrative hold state of a device
type LockStatus string

//TemplateType classifies a device and selects its icon, telemetry shape and detail panel
type TemplateType string

const (
	Linked   LinkStatus = "linked"
	Unlinked LinkStatus = "unlinked"

	Locked   LockStatus = "locked"
	Unlocked LockStatus = "unlocked"

	TemplateLight       TemplateType = "light"
	TemplateSmoke       TemplateType = "smoke"
	TemplateTemperature TemplateType = "temperature"
	TemplateAlarm       TemplateType = "alarm"
	TemplateDefault     TemplateType = "default"
)

//DeviceRecord is a device as returned by the platform, either from a list endpoint (summary)
//or from the per device endpoint (detail). All fields are optional so that a merge can tell
//a missing value from a zero value.
type DeviceRecord struct {
	DeviceID        string          `json:"device_id"`
	SerialNumber    string          `json:"serial_number,omitempty"`
	Name            *string         `json:"name,omitempty"`
	TemplateType    *TemplateType   `json:"template_type,omitempty"`
	LinkStatus      *LinkStatus     `json:"link_status,omitempty"`
	PowerStatus     *bool           `json:"power_status,omitempty"`
	LockStatus      *LockStatus     `json:"lock_status,omitempty"`
	LockedAt        *time.Time      `json:"locked_at,omitempty"`
	FirmwareVersion *string         `json:"firmware_version,omitempty"`
	Category        *string         `json:"category,omitempty"`
	CurrentValue    json.RawMessage `json:"current_value,omitempty"`
	Attribute       json.RawMessage `json:"attribute,omitempty"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
	SpaceID         *string         `json:"space_id,omitempty"`
	HubID           *string         `json:"hub_id,omitempty"`
	GroupID         *string         `json:"group_id,omitempty"`
}

//Clone returns a deep copy of the record, or nil for a nil record
func (r *DeviceRecord) Clone() *DeviceRecord {
	if r == nil {
		return nil
	}

	c := *r
	c.Name = cloneString(r.Name)
	c.FirmwareVersion = cloneString(r.FirmwareVersion)
	c.Category = cloneString(r.Category)
	c.SpaceID = cloneString(r.SpaceID)
	c.HubID = cloneString(r.HubID)
	c.GroupID = cloneString(r.GroupID)
	c.CurrentValue = cloneRaw(r.CurrentValue)
	c.Attribute = cloneRaw(r.Attribute)
	c.Capabilities = cloneRaw(r.Capabilities)

	if r.TemplateType != nil {
		t := *r.TemplateType
		c.TemplateType = &t
	}
	if r.LinkStatus != nil {
		l := *r.LinkStatus
		c.LinkStatus = &l
	}
	if r.PowerStatus != nil {
		p := *r.PowerStatus
		c.PowerStatus = &p
	}
	if r.LockStatus != nil {
		l := *r.LockStatus
		c.LockStatus = &l
	}
	if r.LockedAt != nil {
		t := *r.LockedAt
		c.LockedAt = &t
	}

	return &c
}

//Device is the fully populated view model of a device. It is produced by MergeDevice and
//never carries an empty display field.
type Device struct {
	DeviceID        string          `json:"device_id"`
	SerialNumber    string          `json:"serial_number"`
	Name            string          `json:"name"`
	TemplateType    TemplateType    `json:"template_type"`
	LinkStatus      LinkStatus      `json:"link_status"`
	PowerStatus     bool            `json:"power_status"`
	LockStatus      LockStatus      `json:"lock_status"`
	LockedAt        *time.Time      `json:"locked_at"`
	FirmwareVersion string          `json:"firmware_version"`
	Category        string          `json:"category"`
	CurrentValue    json.RawMessage `json:"current_value"`
	Attribute       json.RawMessage `json:"attribute"`
	Capabilities    json.RawMessage `json:"capabilities"`
	SpaceID         string          `json:"space_id"`
	HubID           string          `json:"hub_id,omitempty"`
	GroupID         string          `json:"group_id,omitempty"`
	Status          Status          `json:"status"`
	Icon            Icon            `json:"icon"`
	Panel           string          `json:"panel"`
}

//Telemetry decodes the current value bag into the variant matching the device template
func (d Device) Telemetry() Telemetry {
	return DecodeTelemetry(d.TemplateType, d.CurrentValue)
}

//Config decodes the attribute bag into the variant matching the device template
func (d Device) Config() Config {
	return DecodeConfig(d.TemplateType, d.Attribute)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	c := make(json.RawMessage, len(raw))
	copy(c, raw)
	return c
}
