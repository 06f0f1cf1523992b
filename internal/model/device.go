// Package model holds the domain types shared by the gateway services:
// devices and their templates, readings, statuses, messages and the
// firmware / file-transfer vocabulary.
package model

// DataType classifies sensor, actuator and configuration values.
type DataType string

// Data types.
const (
	DataTypeBoolean DataType = "BOOLEAN"
	DataTypeNumeric DataType = "NUMERIC"
	DataTypeString  DataType = "STRING"
)

func (t DataType) digestCode() string {
	switch t {
	case DataTypeBoolean:
		return "B"
	case DataTypeNumeric:
		return "N"
	case DataTypeString:
		return "S"
	default:
		return "?"
	}
}

// AlarmSeverity classifies alarm manifests.
type AlarmSeverity string

// Alarm severities.
const (
	AlarmSeverityAlert    AlarmSeverity = "ALERT"
	AlarmSeverityCritical AlarmSeverity = "CRITICAL"
	AlarmSeverityError    AlarmSeverity = "ERROR"
)

func (s AlarmSeverity) digestCode() string {
	switch s {
	case AlarmSeverityAlert:
		return "A"
	case AlarmSeverityCritical:
		return "C"
	case AlarmSeverityError:
		return "E"
	default:
		return "?"
	}
}

// DeviceState is the presence state of a device as tracked by the status
// service.
type DeviceState string

// Device states.
const (
	DeviceStateConnected DeviceState = "CONNECTED"
	DeviceStateOffline   DeviceState = "OFFLINE"
)

// SubdeviceManagement selects who owns the child-device fleet: the platform
// (child registrations are rejected locally) or the gateway.
type SubdeviceManagement string

// Subdevice management modes.
const (
	SubdeviceManagementPlatform SubdeviceManagement = "PLATFORM"
	SubdeviceManagementGateway  SubdeviceManagement = "GATEWAY"
)

// Device is a registered device: the gateway itself or one of its children.
type Device struct {
	Key      string
	Password string
	Template *DeviceTemplate
}

// DeviceTemplate (a.k.a. manifest) describes the capabilities of a device.
// Two templates are equivalent iff their Digest is equal.
type DeviceTemplate struct {
	Name                   string                  `json:"name" yaml:"name"`
	Description            string                  `json:"description" yaml:"description"`
	Protocol               string                  `json:"protocol" yaml:"protocol"`
	FirmwareUpdateProtocol string                  `json:"firmwareUpdateType" yaml:"firmwareUpdateType"`
	Sensors                []SensorManifest        `json:"sensors,omitempty" yaml:"sensors,omitempty"`
	Actuators              []ActuatorManifest      `json:"actuators,omitempty" yaml:"actuators,omitempty"`
	Alarms                 []AlarmManifest         `json:"alarms,omitempty" yaml:"alarms,omitempty"`
	Configurations         []ConfigurationManifest `json:"configurations,omitempty" yaml:"configurations,omitempty"`
	TypeParameters         map[string]string       `json:"typeParameters,omitempty" yaml:"typeParameters,omitempty"`
}

// SensorManifest describes one sensor slot of a template.
type SensorManifest struct {
	Name        string   `json:"name" yaml:"name"`
	Reference   string   `json:"reference" yaml:"reference"`
	Description string   `json:"description" yaml:"description"`
	Unit        string   `json:"unit" yaml:"unit"`
	ReadingType string   `json:"readingType" yaml:"readingType"`
	DataType    DataType `json:"dataType" yaml:"dataType"`
	Precision   uint     `json:"precision" yaml:"precision"`
	Minimum     float64  `json:"minimum" yaml:"minimum"`
	Maximum     float64  `json:"maximum" yaml:"maximum"`
	Delimiter   string   `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`
	Labels      []string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// ActuatorManifest describes one actuator slot of a template.
type ActuatorManifest struct {
	Name        string   `json:"name" yaml:"name"`
	Reference   string   `json:"reference" yaml:"reference"`
	Description string   `json:"description" yaml:"description"`
	Unit        string   `json:"unit" yaml:"unit"`
	ReadingType string   `json:"readingType" yaml:"readingType"`
	DataType    DataType `json:"dataType" yaml:"dataType"`
	Precision   uint     `json:"precision" yaml:"precision"`
	Minimum     float64  `json:"minimum" yaml:"minimum"`
	Maximum     float64  `json:"maximum" yaml:"maximum"`
	Delimiter   string   `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`
	Labels      []string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// AlarmManifest describes one alarm slot of a template.
type AlarmManifest struct {
	Name        string        `json:"name" yaml:"name"`
	Reference   string        `json:"reference" yaml:"reference"`
	Message     string        `json:"message" yaml:"message"`
	Description string        `json:"description" yaml:"description"`
	Severity    AlarmSeverity `json:"severity" yaml:"severity"`
}

// ConfigurationManifest describes one configuration slot of a template.
type ConfigurationManifest struct {
	Name         string   `json:"name" yaml:"name"`
	Reference    string   `json:"reference" yaml:"reference"`
	Description  string   `json:"description" yaml:"description"`
	DataType     DataType `json:"dataType" yaml:"dataType"`
	Minimum      float64  `json:"minimum" yaml:"minimum"`
	Maximum      float64  `json:"maximum" yaml:"maximum"`
	Delimiter    string   `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`
	DefaultValue string   `json:"defaultValue,omitempty" yaml:"defaultValue,omitempty"`
	Labels       []string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// Size is the number of values a configuration item for this slot carries.
func (m *ConfigurationManifest) Size() int {
	if len(m.Labels) > 1 {
		return len(m.Labels)
	}
	return 1
}

// SensorByReference returns the sensor manifest with the given reference, or
// nil if the template has none.
func (t *DeviceTemplate) SensorByReference(ref string) *SensorManifest {
	for i := range t.Sensors {
		if t.Sensors[i].Reference == ref {
			return &t.Sensors[i]
		}
	}
	return nil
}

// ActuatorByReference returns the actuator manifest with the given reference,
// or nil if the template has none.
func (t *DeviceTemplate) ActuatorByReference(ref string) *ActuatorManifest {
	for i := range t.Actuators {
		if t.Actuators[i].Reference == ref {
			return &t.Actuators[i]
		}
	}
	return nil
}

// AlarmByReference returns the alarm manifest with the given reference, or
// nil if the template has none.
func (t *DeviceTemplate) AlarmByReference(ref string) *AlarmManifest {
	for i := range t.Alarms {
		if t.Alarms[i].Reference == ref {
			return &t.Alarms[i]
		}
	}
	return nil
}

// ConfigurationByReference returns the configuration manifest with the given
// reference, or nil if the template has none.
func (t *DeviceTemplate) ConfigurationByReference(ref string) *ConfigurationManifest {
	for i := range t.Configurations {
		if t.Configurations[i].Reference == ref {
			return &t.Configurations[i]
		}
	}
	return nil
}

// HasReference reports whether any sensor, actuator, alarm or configuration
// slot of the template uses the given reference.
func (t *DeviceTemplate) HasReference(ref string) bool {
	return t.SensorByReference(ref) != nil || t.ActuatorByReference(ref) != nil ||
		t.AlarmByReference(ref) != nil || t.ConfigurationByReference(ref) != nil
}
