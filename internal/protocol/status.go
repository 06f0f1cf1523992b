package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/edgebridge/gateway/internal/model"
)

type statusPayload struct {
	State model.DeviceState `json:"state"`
}

// DeviceStatusChannels returns the device-side filters carrying presence
// events: explicit status publications and broker last wills.
func DeviceStatusChannels() []string {
	return []string{
		topicJoin(DeviceToPlatform, typeStatus, devicePathPrefix, singleLevel),
		topicJoin(DeviceToPlatform, typeLastWill, devicePathPrefix, singleLevel),
	}
}

// PlatformStatusChannels returns the platform-side filters of the status
// sub-protocol.
func PlatformStatusChannels(gatewayKey string) []string {
	return []string{gatewayChannel(PlatformToDevice, typeDeviceStatusRequest, gatewayKey)}
}

// IsLastWill reports whether a device-side channel is a last-will
// publication (the device went away without a disconnect).
func IsLastWill(channel string) bool { return ChannelType(channel) == typeLastWill }

// ParseDeviceState decodes an explicit status publication.
func ParseDeviceState(content []byte) (model.DeviceState, error) {
	var payload statusPayload
	if err := json.Unmarshal(content, &payload); err != nil || payload.State == "" {
		return "", fmt.Errorf("%w: device status", ErrMalformed)
	}
	return payload.State, nil
}

// MakeDeviceStatusMessage builds the platform-bound status report for one
// child device.
func MakeDeviceStatusMessage(gatewayKey, deviceKey string, state model.DeviceState) (*model.Message, error) {
	content, err := json.Marshal(statusPayload{State: state})
	if err != nil {
		return nil, err
	}
	return model.NewMessage(gatewayDeviceChannel(DeviceToPlatform, typeDeviceStatus, gatewayKey, deviceKey), content), nil
}

// MakeDeviceStateMessage builds a device-side status publication; used by
// tests to simulate module presence traffic.
func MakeDeviceStateMessage(deviceKey string, state model.DeviceState) (*model.Message, error) {
	content, err := json.Marshal(statusPayload{State: state})
	if err != nil {
		return nil, err
	}
	return model.NewMessage(deviceChannel(DeviceToPlatform, typeStatus, deviceKey), content), nil
}

// LastWillChannel returns the platform-side last-will channel of the gateway.
func LastWillChannel(gatewayKey string) string {
	return gatewayChannel(DeviceToPlatform, typeLastWill, gatewayKey)
}

// DeviceLastWillChannel returns the device-side last-will channel for one
// device key.
func DeviceLastWillChannel(deviceKey string) string {
	return deviceChannel(DeviceToPlatform, typeLastWill, deviceKey)
}
