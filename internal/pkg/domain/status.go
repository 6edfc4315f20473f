package domain

//Status is the badge and control state derived from a device's status triple
type Status struct {
	Key             string `json:"key"`
	Label           string `json:"label"`
	Color           string `json:"color"`
	Icon            string `json:"icon"`
	ControlsEnabled bool   `json:"controls_enabled"`
}

const (
	StatusLocked   = "locked"
	StatusUnlinked = "unlinked"
	StatusOff      = "off"
	StatusActive   = "active"
)

//DeriveStatus maps link, power and lock state to a badge. Locked takes precedence over
//unlinked, which takes precedence over powered off. Values outside the known sets count as
//locked and unlinked.
func DeriveStatus(link LinkStatus, power bool, lock LockStatus) Status {
	s := Status{
		ControlsEnabled: ControlsEnabled(link, lock),
	}

	switch {
	case lock != Unlocked:
		s.Key, s.Label, s.Color, s.Icon = StatusLocked, "Đã khóa", "red", "lock"
	case link != Linked:
		s.Key, s.Label, s.Color, s.Icon = StatusUnlinked, "Chưa liên kết", "gray", "link-off"
	case !power:
		s.Key, s.Label, s.Color, s.Icon = StatusOff, "Đã tắt", "amber", "power-off"
	default:
		s.Key, s.Label, s.Color, s.Icon = StatusActive, "Hoạt động", "green", "power"
	}

	return s
}

//ControlsEnabled reports whether power and other mutating controls may be used
func ControlsEnabled(link LinkStatus, lock LockStatus) bool {
	return link == Linked && lock == Unlocked
}

//Icon is the template specific icon and gradient of a device card
type Icon struct {
	Name     string `json:"name"`
	Gradient string `json:"gradient"`
}

//TemplateIcon returns the icon for a device template, falling back to the default template
func TemplateIcon(t TemplateType) Icon {
	switch t {
	case TemplateLight:
		return Icon{Name: "lightbulb", Gradient: "yellow-orange"}
	case TemplateSmoke:
		return Icon{Name: "flame", Gradient: "red-orange"}
	case TemplateTemperature:
		return Icon{Name: "thermometer", Gradient: "blue-cyan"}
	case TemplateAlarm:
		return Icon{Name: "siren", Gradient: "purple-pink"}
	default:
		return Icon{Name: "cpu", Gradient: "gray-slate"}
	}
}
