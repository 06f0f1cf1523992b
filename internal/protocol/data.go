package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/edgebridge/gateway/internal/model"
)

// Name of the JSON gateway protocol as templates declare it.
const JSONProtocolName = "JsonProtocol"

// JSONData is the data sub-protocol: readings, events, actuation and
// configuration traffic for subdevices speaking the JSON gateway protocol.
// It is stateless; the resolver routes on it.
type JSONData struct{}

// Name returns the protocol name templates must declare to be routed here.
func (JSONData) Name() string { return JSONProtocolName }

var dataDeviceTypes = []string{typeSensorReading, typeEvents, typeActuatorStatus, typeConfigurationCurrent}
var dataPlatformTypes = []string{typeActuatorSet, typeActuatorGet, typeConfigurationSet, typeConfigurationGet}

// PlatformChannels returns the platform-side subscription filters of the data
// sub-protocol.
func (JSONData) PlatformChannels(gatewayKey string) []string {
	channels := make([]string, 0, len(dataPlatformTypes))
	for _, t := range dataPlatformTypes {
		channels = append(channels, topicJoin(PlatformToDevice, t, gatewayPathPrefix, gatewayKey, multiLevel))
	}
	return channels
}

// DeviceChannels returns the device-side subscription filters of the data
// sub-protocol.
func (JSONData) DeviceChannels() []string {
	channels := make([]string, 0, len(dataDeviceTypes))
	for _, t := range dataDeviceTypes {
		channels = append(channels, topicJoin(DeviceToPlatform, t, devicePathPrefix, multiLevel))
	}
	return channels
}

// OwnsChannel reports whether the channel belongs to this sub-protocol's data
// traffic, on either side.
func (JSONData) OwnsChannel(channel string) bool {
	levels := topicSplit(channel)
	if len(levels) < 2 {
		return false
	}
	all := make([]string, 0, len(dataDeviceTypes)+len(dataPlatformTypes))
	all = append(all, dataDeviceTypes...)
	all = append(all, dataPlatformTypes...)
	for _, t := range all {
		if levels[1] == t {
			return true
		}
	}
	return false
}

// DeviceKey extracts the device key addressed by a data channel.
func (JSONData) DeviceKey(channel string) (string, error) { return DeviceKeyFromChannel(channel) }

// Reference extracts the reference addressed by a data channel, if present.
func (JSONData) Reference(channel string) (string, bool) { return ReferenceFromChannel(channel) }

// RouteToPlatform rewrites a device-side data channel into its platform-side
// form.
func (JSONData) RouteToPlatform(channel, gatewayKey string) (string, error) {
	return RouteDeviceToPlatform(channel, gatewayKey)
}

// RouteToDevice rewrites a platform-side data channel into its device-side
// form.
func (JSONData) RouteToDevice(channel string) (string, error) {
	return RoutePlatformToDevice(channel)
}

// ContentReference extracts the "reference" field from a JSON payload, when
// the payload declares one. Used to validate readings and events against the
// sender's template.
func (JSONData) ContentReference(content []byte) (string, bool) {
	var probe struct {
		Reference *string `json:"reference"`
	}
	if err := json.Unmarshal(content, &probe); err != nil || probe.Reference == nil {
		return "", false
	}
	return *probe.Reference, true
}

type readingPayload struct {
	Reference string `json:"reference"`
	UTC       int64  `json:"utc"`
	Data      string `json:"data"`
}

// MakeReadingMessage builds a platform-bound sensor reading. Values are
// joined with the delimiter when one is declared by the manifest.
func MakeReadingMessage(gatewayKey, deviceKey string, reading model.Reading, delimiter string) (*model.Message, error) {
	if len(reading.Values) == 0 {
		return nil, fmt.Errorf("%w: reading %q has no values", ErrMalformed, reading.Reference)
	}
	data := reading.Values[0]
	if len(reading.Values) > 1 {
		if delimiter == "" {
			return nil, fmt.Errorf("%w: multi-value reading %q without delimiter", ErrMalformed, reading.Reference)
		}
		data = strings.Join(reading.Values, delimiter)
	}
	content, err := json.Marshal(readingPayload{Reference: reading.Reference, UTC: reading.Timestamp, Data: data})
	if err != nil {
		return nil, err
	}
	return model.NewMessage(gatewayDeviceChannel(DeviceToPlatform, typeSensorReading, gatewayKey, deviceKey), content), nil
}

// MakeAlarmMessage builds a platform-bound event.
func MakeAlarmMessage(gatewayKey, deviceKey string, alarm model.Alarm) (*model.Message, error) {
	content, err := json.Marshal(readingPayload{Reference: alarm.Reference, UTC: alarm.Timestamp, Data: alarm.Value})
	if err != nil {
		return nil, err
	}
	return model.NewMessage(gatewayDeviceChannel(DeviceToPlatform, typeEvents, gatewayKey, deviceKey), content), nil
}

type actuatorStatusPayload struct {
	Value  string `json:"value"`
	Status string `json:"status"`
}

// MakeActuatorStatusMessage builds a platform-bound actuator status for one
// reference.
func MakeActuatorStatusMessage(gatewayKey, deviceKey string, status model.ActuatorStatus) (*model.Message, error) {
	content, err := json.Marshal(actuatorStatusPayload{Value: status.Value, Status: string(status.State)})
	if err != nil {
		return nil, err
	}
	channel := topicJoin(
		gatewayDeviceChannel(DeviceToPlatform, typeActuatorStatus, gatewayKey, deviceKey),
		referencePathPrefix, status.Reference,
	)
	return model.NewMessage(channel, content), nil
}

// MakeConfigurationCurrentMessage builds a platform-bound snapshot of the
// device's configuration. Multi-value items are joined with the delimiter
// declared by their manifest.
func MakeConfigurationCurrentMessage(gatewayKey, deviceKey string, items []model.ConfigurationItem, delimiters map[string]string) (*model.Message, error) {
	values := make(map[string]string, len(items))
	for _, item := range items {
		if len(item.Values) > 1 {
			delim := delimiters[item.Reference]
			if delim == "" {
				return nil, fmt.Errorf("%w: multi-value configuration %q without delimiter", ErrMalformed, item.Reference)
			}
			values[item.Reference] = strings.Join(item.Values, delim)
			continue
		}
		if len(item.Values) == 1 {
			values[item.Reference] = item.Values[0]
		}
	}
	content, err := json.Marshal(struct {
		Values map[string]string `json:"values"`
	}{values})
	if err != nil {
		return nil, err
	}
	return model.NewMessage(gatewayDeviceChannel(DeviceToPlatform, typeConfigurationCurrent, gatewayKey, deviceKey), content), nil
}

// PlatformActuationChannels returns the platform-side filters addressing the
// gateway's own actuators and configuration.
func PlatformActuationChannels(gatewayKey string) []string {
	return []string{
		topicJoin(gatewayDeviceChannel(PlatformToDevice, typeActuatorSet, gatewayKey, gatewayKey), multiLevel),
		topicJoin(gatewayDeviceChannel(PlatformToDevice, typeActuatorGet, gatewayKey, gatewayKey), multiLevel),
		gatewayDeviceChannel(PlatformToDevice, typeConfigurationSet, gatewayKey, gatewayKey),
		gatewayDeviceChannel(PlatformToDevice, typeConfigurationGet, gatewayKey, gatewayKey),
	}
}

// ChannelType returns the message type level of a channel.
func ChannelType(channel string) string {
	levels := topicSplit(channel)
	if len(levels) < 2 {
		return ""
	}
	return levels[1]
}

// IsActuatorSet reports whether the channel carries an actuation request.
func IsActuatorSet(channel string) bool { return ChannelType(channel) == typeActuatorSet }

// IsActuatorGet reports whether the channel carries an actuator status query.
func IsActuatorGet(channel string) bool { return ChannelType(channel) == typeActuatorGet }

// IsConfigurationSet reports whether the channel carries a configuration
// update.
func IsConfigurationSet(channel string) bool { return ChannelType(channel) == typeConfigurationSet }

// IsConfigurationGet reports whether the channel carries a configuration
// query.
func IsConfigurationGet(channel string) bool { return ChannelType(channel) == typeConfigurationGet }

// ParseActuatorSet extracts the requested value from an actuation request.
func ParseActuatorSet(content []byte) (string, error) {
	var payload struct {
		Value *string `json:"value"`
	}
	if err := json.Unmarshal(content, &payload); err != nil || payload.Value == nil {
		return "", fmt.Errorf("%w: actuator set payload", ErrMalformed)
	}
	return *payload.Value, nil
}

// ParseConfigurationSet extracts the requested values, keyed by reference.
// Values arrive pre-joined; the caller splits them with the manifest
// delimiter.
func ParseConfigurationSet(content []byte) (map[string]string, error) {
	var payload struct {
		Values map[string]string `json:"values"`
	}
	if err := json.Unmarshal(content, &payload); err != nil || payload.Values == nil {
		return nil, fmt.Errorf("%w: configuration set payload", ErrMalformed)
	}
	return payload.Values, nil
}
