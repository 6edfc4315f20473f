package domain

import (
	"encoding/json"
)

//Telemetry is the live state of a device, one variant per template type
type Telemetry interface {
	Template() TemplateType
}

//Config is the configuration of a device, one variant per template type
type Config interface {
	Template() TemplateType
}

type LightTelemetry struct {
	Brightness int    `json:"brightness"`
	Color      string `json:"color"`
	Power      bool   `json:"power"`
}

type SmokeTelemetry struct {
	GasPPM  float64 `json:"gas"`
	Battery int     `json:"battery"`
}

type TemperatureTelemetry struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Battery     int     `json:"battery"`
}

type AlarmTelemetry struct {
	Armed   bool `json:"alarmActive"`
	Battery int  `json:"battery"`
}

//GenericTelemetry keeps the bag of templates without a known shape
type GenericTelemetry struct {
	Values map[string]interface{}
}

func (LightTelemetry) Template() TemplateType       { return TemplateLight }
func (SmokeTelemetry) Template() TemplateType       { return TemplateSmoke }
func (TemperatureTelemetry) Template() TemplateType { return TemplateTemperature }
func (AlarmTelemetry) Template() TemplateType       { return TemplateAlarm }
func (GenericTelemetry) Template() TemplateType     { return TemplateDefault }

type SmokeConfig struct {
	Sensitivity string `json:"sensitivity"`
}

type AlarmConfig struct {
	Volume int `json:"alarm_volume"`
	Delay  int `json:"delay"`
}

//GenericConfig keeps the attribute bag of templates without a known configuration shape
type GenericConfig struct {
	TemplateType TemplateType
	Values       map[string]interface{}
}

func (SmokeConfig) Template() TemplateType     { return TemplateSmoke }
func (AlarmConfig) Template() TemplateType     { return TemplateAlarm }
func (c GenericConfig) Template() TemplateType { return c.TemplateType }

//DecodeTelemetry decodes a current value bag. A malformed bag yields the zero variant.
func DecodeTelemetry(t TemplateType, raw json.RawMessage) Telemetry {
	switch t {
	case TemplateLight:
		v := LightTelemetry{}
		decodeLenient(raw, &v)
		return v
	case TemplateSmoke:
		v := SmokeTelemetry{}
		decodeLenient(raw, &v)
		return v
	case TemplateTemperature:
		v := TemperatureTelemetry{}
		decodeLenient(raw, &v)
		return v
	case TemplateAlarm:
		v := AlarmTelemetry{}
		decodeLenient(raw, &v)
		return v
	default:
		v := GenericTelemetry{Values: map[string]interface{}{}}
		decodeLenient(raw, &v.Values)
		return v
	}
}

//DecodeConfig decodes an attribute bag. A malformed bag yields the zero variant.
func DecodeConfig(t TemplateType, raw json.RawMessage) Config {
	switch t {
	case TemplateSmoke:
		v := SmokeConfig{}
		decodeLenient(raw, &v)
		return v
	case TemplateAlarm:
		v := AlarmConfig{}
		decodeLenient(raw, &v)
		return v
	default:
		v := GenericConfig{TemplateType: t, Values: map[string]interface{}{}}
		decodeLenient(raw, &v.Values)
		return v
	}
}

//PanelFor names the detail sub panel rendered for a template
func PanelFor(t TemplateType) string {
	switch t {
	case TemplateLight, TemplateSmoke, TemplateTemperature, TemplateAlarm:
		return string(t)
	default:
		return "generic"
	}
}

func decodeLenient(raw json.RawMessage, into interface{}) {
	if !isPresent(raw) {
		return
	}
	// partially decoded fields are kept, type mismatches are ignored
	_ = json.Unmarshal(raw, into)
}
