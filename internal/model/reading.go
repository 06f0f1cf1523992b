package model

// Reading is a sensor sample. A zero Timestamp means the platform stamps the
// reading on arrival. Values holds one entry unless the sensor manifest
// declares a delimiter, in which case the entries are joined with it on the
// wire.
type Reading struct {
	Reference string
	Timestamp int64 // seconds since epoch; 0 = platform-stamped
	Values    []string
}

// ActuatorState is the wire state of an actuator.
type ActuatorState string

// Actuator states.
const (
	ActuatorStateReady ActuatorState = "READY"
	ActuatorStateBusy  ActuatorState = "BUSY"
	ActuatorStateError ActuatorState = "ERROR"
)

// ActuatorStatus reports the current value and state of one actuator slot.
type ActuatorStatus struct {
	Reference string
	Value     string
	State     ActuatorState
}

// ConfigurationItem is the current value set of one configuration slot.
type ConfigurationItem struct {
	Reference string
	Values    []string
}

// Alarm is a device event; Value is the wire representation (typically "ON"
// or "OFF").
type Alarm struct {
	Reference string
	Value     string
	Timestamp int64
}
