package domain

//House belongs to one group and contains spaces
type House struct {
	HouseID string `json:"house_id"`
	GroupID string `json:"group_id"`
	Name    string `json:"name"`
	Icon    string `json:"icon,omitempty"`
	Color   string `json:"color,omitempty"`
}

//Space is a room like container of devices inside a house
type Space struct {
	SpaceID string `json:"space_id"`
	HouseID string `json:"house_id"`
	Name    string `json:"name"`
	Icon    string `json:"icon,omitempty"`
	Color   string `json:"color,omitempty"`
}

//UnknownCount marks a derived count whose fetch failed
const UnknownCount = -1

//HouseSummary is a house together with its derived number of spaces
type HouseSummary struct {
	House
	SpaceCount int `json:"space_count"`
}

//SpaceSummary is a space together with its derived number of devices
type SpaceSummary struct {
	Space
	DeviceCount int `json:"device_count"`
}
