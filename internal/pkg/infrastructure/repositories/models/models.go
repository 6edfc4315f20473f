package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

//Workspace is the database model storing where a dashboard session was in the hierarchy of a group
type Workspace struct {
	gorm.Model
	SessionID string `gorm:"uniqueIndex:idx_workspace_session_group"`
	GroupID   string `gorm:"uniqueIndex:idx_workspace_session_group"`
	State     string
	HouseID   string
	SpaceID   string
}

//DeviceEvent stores the outcome of an action taken on a device from the dashboard
type DeviceEvent struct {
	gorm.Model
	DeviceID   string `gorm:"index:events_from_device"`
	Action     string
	Success    bool
	Message    string
	Snapshot   datatypes.JSON
	OccurredAt time.Time
}
