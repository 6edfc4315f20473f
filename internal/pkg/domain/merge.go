package domain

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	DefaultFirmwareVersion = "N/A"
	DefaultTemplateType    = TemplateSmoke
	DefaultCategory        = "SAFETY"
)

var emptyObject = json.RawMessage(`{}`)

//MergeDevice combines a summary record from a list endpoint with a detail record from the
//per device endpoint. Detail values win field by field, the summary fills the gaps and hard
//defaults fill whatever is still missing. Either record may be nil.
func MergeDevice(summary, detail *DeviceRecord) Device {
	if summary == nil {
		summary = &DeviceRecord{}
	}
	if detail == nil {
		detail = &DeviceRecord{}
	}

	d := Device{
		DeviceID:        firstNonEmpty(detail.DeviceID, summary.DeviceID),
		SerialNumber:    firstNonEmpty(detail.SerialNumber, summary.SerialNumber),
		FirmwareVersion: pickString(detail.FirmwareVersion, summary.FirmwareVersion, DefaultFirmwareVersion),
		Category:        pickString(detail.Category, summary.Category, DefaultCategory),
		CurrentValue:    pickObject(detail.CurrentValue, summary.CurrentValue),
		Attribute:       pickObject(detail.Attribute, summary.Attribute),
		Capabilities:    pickObject(detail.Capabilities, summary.Capabilities),
		SpaceID:         pickString(detail.SpaceID, summary.SpaceID, ""),
		HubID:           pickString(detail.HubID, summary.HubID, ""),
		GroupID:         pickString(detail.GroupID, summary.GroupID, ""),
		TemplateType:    DefaultTemplateType,
		LinkStatus:      Unlinked,
		LockStatus:      Unlocked,
	}

	d.Name = pickString(detail.Name, summary.Name, d.SerialNumber)

	if t := pickTemplate(detail.TemplateType, summary.TemplateType); t != "" {
		d.TemplateType = t
	}
	if l := detail.LinkStatus; l != nil && *l != "" {
		d.LinkStatus = NormalizeLink(*l)
	} else if l := summary.LinkStatus; l != nil && *l != "" {
		d.LinkStatus = NormalizeLink(*l)
	}
	if l := detail.LockStatus; l != nil && *l != "" {
		d.LockStatus = NormalizeLock(*l)
	} else if l := summary.LockStatus; l != nil && *l != "" {
		d.LockStatus = NormalizeLock(*l)
	}
	if detail.PowerStatus != nil {
		d.PowerStatus = *detail.PowerStatus
	} else if summary.PowerStatus != nil {
		d.PowerStatus = *summary.PowerStatus
	}
	if detail.LockedAt != nil {
		d.LockedAt = copyTime(detail.LockedAt)
	} else {
		d.LockedAt = copyTime(summary.LockedAt)
	}

	d.Status = DeriveStatus(d.LinkStatus, d.PowerStatus, d.LockStatus)
	d.Icon = TemplateIcon(d.TemplateType)
	d.Panel = PanelFor(d.TemplateType)

	return d
}

//NormalizeLink folds case and maps anything but "linked" to Unlinked
func NormalizeLink(l LinkStatus) LinkStatus {
	if LinkStatus(strings.ToLower(strings.TrimSpace(string(l)))) == Linked {
		return Linked
	}
	return Unlinked
}

//NormalizeLock folds case and maps anything but "unlocked" to Locked
func NormalizeLock(l LockStatus) LockStatus {
	if LockStatus(strings.ToLower(strings.TrimSpace(string(l)))) == Unlocked {
		return Unlocked
	}
	return Locked
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func pickString(detail, summary *string, fallback string) string {
	if detail != nil && *detail != "" {
		return *detail
	}
	if summary != nil && *summary != "" {
		return *summary
	}
	return fallback
}

func pickTemplate(detail, summary *TemplateType) TemplateType {
	if detail != nil && *detail != "" {
		return *detail
	}
	if summary != nil && *summary != "" {
		return *summary
	}
	return ""
}

func pickObject(detail, summary json.RawMessage) json.RawMessage {
	if isPresent(detail) {
		return cloneRaw(detail)
	}
	if isPresent(summary) {
		return cloneRaw(summary)
	}
	return cloneRaw(emptyObject)
}

func isPresent(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
