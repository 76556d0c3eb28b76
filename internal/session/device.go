package session

import (
	"strings"
	"time"

	"github.com/ksti/meeting-room/internal/domain"
)

// DeviceStatus is the administrative state of a device.
type DeviceStatus string

const (
	DeviceActive   DeviceStatus = "active"
	DeviceDisabled DeviceStatus = "disabled"
)

// DeviceInfo is what a client reports about itself at login.
type DeviceInfo struct {
	Identifier string
	Name       string
	Platform   string
	OS         string
	OSVersion  string
}

func (i DeviceInfo) normalized() DeviceInfo {
	return DeviceInfo{
		Identifier: strings.TrimSpace(i.Identifier),
		Name:       strings.TrimSpace(i.Name),
		Platform:   strings.TrimSpace(i.Platform),
		OS:         strings.TrimSpace(i.OS),
		OSVersion:  strings.TrimSpace(i.OSVersion),
	}
}

func (i DeviceInfo) validate() error {
	v := domain.NewValidation(ErrInvalidDevice)
	if i.Identifier == "" {
		v.Add("device_identifier", "device identifier is required")
	}
	if i.Name == "" {
		v.Add("device_name", "device name is required")
	}
	return v.Err()
}

// Device is one user agent of a user. It references at most one live
// credential.
type Device struct {
	id             string
	userID         string
	info           DeviceInfo
	createdAt      time.Time
	lastActivityAt time.Time
	status         DeviceStatus
	credentialID   string
}

func newDevice(id, userID string, info DeviceInfo, now time.Time) *Device {
	return &Device{
		id:             id,
		userID:         userID,
		info:           info,
		createdAt:      now,
		lastActivityAt: now,
		status:         DeviceActive,
	}
}

func (d *Device) ID() string                { return d.id }
func (d *Device) UserID() string            { return d.userID }
func (d *Device) Identifier() string        { return d.info.Identifier }
func (d *Device) Info() DeviceInfo          { return d.info }
func (d *Device) CreatedAt() time.Time      { return d.createdAt }
func (d *Device) LastActivityAt() time.Time { return d.lastActivityAt }
func (d *Device) Status() DeviceStatus      { return d.status }
func (d *Device) CredentialID() string      { return d.credentialID }
func (d *Device) IsActive() bool            { return d.status == DeviceActive }

// touch records activity and refreshes the reported metadata. The identifier
// never changes.
func (d *Device) touch(info DeviceInfo, now time.Time) {
	if info.Name != "" {
		d.info.Name = info.Name
	}
	if info.Platform != "" {
		d.info.Platform = info.Platform
	}
	if info.OS != "" {
		d.info.OS = info.OS
	}
	if info.OSVersion != "" {
		d.info.OSVersion = info.OSVersion
	}
	d.lastActivityAt = now
}

func (d *Device) attach(credentialID string) { d.credentialID = credentialID }

func (d *Device) disable() { d.status = DeviceDisabled }

// olderThan orders devices by creation time, then by id.
func (d *Device) olderThan(other *Device) bool {
	if d.createdAt.Equal(other.createdAt) {
		return d.id < other.id
	}
	return d.createdAt.Before(other.createdAt)
}

// DeviceRecord is the flat form stores persist.
type DeviceRecord struct {
	ID             string
	UserID         string
	Identifier     string
	Name           string
	Platform       string
	OS             string
	OSVersion      string
	CreatedAt      time.Time
	LastActivityAt time.Time
	Status         DeviceStatus
	CredentialID   string
}

// Record returns the persisted form of d.
func (d *Device) Record() DeviceRecord {
	return DeviceRecord{
		ID:             d.id,
		UserID:         d.userID,
		Identifier:     d.info.Identifier,
		Name:           d.info.Name,
		Platform:       d.info.Platform,
		OS:             d.info.OS,
		OSVersion:      d.info.OSVersion,
		CreatedAt:      d.createdAt,
		LastActivityAt: d.lastActivityAt,
		Status:         d.status,
		CredentialID:   d.credentialID,
	}
}

// RestoreDevice rebuilds a device from its persisted form.
func RestoreDevice(r DeviceRecord) *Device {
	status := r.Status
	if status == "" {
		status = DeviceActive
	}
	return &Device{
		id:     r.ID,
		userID: r.UserID,
		info: DeviceInfo{
			Identifier: r.Identifier,
			Name:       r.Name,
			Platform:   r.Platform,
			OS:         r.OS,
			OSVersion:  r.OSVersion,
		},
		createdAt:      r.CreatedAt,
		lastActivityAt: r.LastActivityAt,
		status:         status,
		credentialID:   r.CredentialID,
	}
}

// OldestDevice picks the eviction candidate among devices, skipping
// excludeID. It returns nil when no candidate remains.
func OldestDevice(devices []*Device, excludeID string) *Device {
	var oldest *Device
	for _, d := range devices {
		if d == nil || d.id == excludeID {
			continue
		}
		if oldest == nil || d.olderThan(oldest) {
			oldest = d
		}
	}
	return oldest
}
