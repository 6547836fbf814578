package models

// DeviceState is the durable per-device state owned by its coordinator.
type DeviceState struct {
	IsOn         bool  `json:"isOn"`
	IsHeating    bool  `json:"isHeating"`
	LastSeenAtMs int64 `json:"lastSeen"`
}

// DeviceStatus is the public on/heating snapshot.
type DeviceStatus struct {
	IsOn      bool `json:"isOn" example:"true"`
	IsHeating bool `json:"isHeating" example:"false"`
}

// Status projects the state to its public snapshot.
func (s DeviceState) Status() DeviceStatus {
	return DeviceStatus{IsOn: s.IsOn, IsHeating: s.IsHeating}
}
