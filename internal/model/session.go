package model

import "time"

type DeviceType string

const (
	DeviceTypeMobile  DeviceType = "mobile"
	DeviceTypeTablet  DeviceType = "tablet"
	DeviceTypeDesktop DeviceType = "desktop"
	DeviceTypeOther   DeviceType = "other"
)

// ParseDeviceType maps client-supplied values onto the known set; anything
// unrecognized is reported as DeviceTypeOther.
func ParseDeviceType(s string) DeviceType {
	switch DeviceType(s) {
	case DeviceTypeMobile, DeviceTypeTablet, DeviceTypeDesktop:
		return DeviceType(s)
	default:
		return DeviceTypeOther
	}
}

type Permissions struct {
	Playback bool `json:"playback"`
	Volume   bool `json:"volume"`
	Playlist bool `json:"playlist"`
	Queue    bool `json:"queue"`
}

type DeviceInfo struct {
	Name string     `json:"deviceName"`
	Type DeviceType `json:"deviceType"`
}

// Session is one live client connection. Values handed out by the registry
// are copies; the registry owns the original.
type Session struct {
	ID            string      `json:"id"`
	Authenticated bool        `json:"authenticated"`
	DeviceName    string      `json:"name"`
	DeviceType    DeviceType  `json:"deviceType"`
	RemoteAddr    string      `json:"remoteAddr,omitempty"`
	ConnectedAt   time.Time   `json:"connectedAt"`
	LastActivity  time.Time   `json:"lastActivity"`
	Permissions   Permissions `json:"permissions"`
}

func (s *Session) Device() DeviceInfo {
	return DeviceInfo{Name: s.DeviceName, Type: s.DeviceType}
}
