package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/edgebridge/gateway/internal/model"
)

// PlatformFirmwareChannels returns the platform-side filters carrying
// firmware update commands for the gateway and its children.
func PlatformFirmwareChannels(gatewayKey string) []string {
	return []string{topicJoin(gatewayChannel(PlatformToDevice, typeFirmwareInstall, gatewayKey), multiLevel)}
}

// DeviceFirmwareChannels returns the device-side filters carrying firmware
// status and version reports from children.
func DeviceFirmwareChannels() []string {
	return []string{
		topicJoin(DeviceToPlatform, typeFirmwareStatus, devicePathPrefix, singleLevel),
		topicJoin(DeviceToPlatform, typeFirmwareVersion, devicePathPrefix, singleLevel),
	}
}

// IsFirmwareStatus reports whether the channel carries a firmware status.
func IsFirmwareStatus(channel string) bool { return ChannelType(channel) == typeFirmwareStatus }

// IsFirmwareVersion reports whether the channel carries a firmware version.
func IsFirmwareVersion(channel string) bool { return ChannelType(channel) == typeFirmwareVersion }

// ParseFirmwareCommand decodes a firmware update command.
func ParseFirmwareCommand(content []byte) (model.FirmwareCommand, error) {
	var cmd model.FirmwareCommand
	if err := json.Unmarshal(content, &cmd); err != nil || cmd.Command == "" {
		return model.FirmwareCommand{}, fmt.Errorf("%w: firmware command", ErrMalformed)
	}
	return cmd, nil
}

// MakeFirmwareCommandMessage builds a platform-side firmware command; used by
// tests.
func MakeFirmwareCommandMessage(gatewayKey, deviceKey string, cmd model.FirmwareCommand) (*model.Message, error) {
	content, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	return model.NewMessage(gatewayDeviceChannel(PlatformToDevice, typeFirmwareInstall, gatewayKey, deviceKey), content), nil
}

// MakeFirmwareCommandForwardMessage re-addresses a firmware command to a
// child device.
func MakeFirmwareCommandForwardMessage(deviceKey string, content []byte) *model.Message {
	return model.NewMessage(deviceChannel(PlatformToDevice, typeFirmwareInstall, deviceKey), content)
}

type firmwareStatusPayload struct {
	Status model.FirmwareStatus `json:"status"`
	Error  model.ErrorCode      `json:"error,omitempty"`
}

// MakeFirmwareStatusMessage builds the platform-bound firmware status. The
// gateway's own status is addressed without a subdevice pair.
func MakeFirmwareStatusMessage(gatewayKey, deviceKey string, status model.FirmwareStatus, code model.ErrorCode) (*model.Message, error) {
	content, err := json.Marshal(firmwareStatusPayload{Status: status, Error: code})
	if err != nil {
		return nil, err
	}
	channel := gatewayChannel(DeviceToPlatform, typeFirmwareStatus, gatewayKey)
	if deviceKey != gatewayKey {
		channel = gatewayDeviceChannel(DeviceToPlatform, typeFirmwareStatus, gatewayKey, deviceKey)
	}
	return model.NewMessage(channel, content), nil
}

// ParseFirmwareStatus decodes a firmware status report.
func ParseFirmwareStatus(content []byte) (model.FirmwareStatus, model.ErrorCode, error) {
	var payload firmwareStatusPayload
	if err := json.Unmarshal(content, &payload); err != nil || payload.Status == "" {
		return "", "", fmt.Errorf("%w: firmware status", ErrMalformed)
	}
	return payload.Status, payload.Error, nil
}

// MakeFirmwareVersionMessage builds the platform-bound firmware version
// report; the content is the bare version string.
func MakeFirmwareVersionMessage(gatewayKey, deviceKey, version string) *model.Message {
	channel := gatewayChannel(DeviceToPlatform, typeFirmwareVersion, gatewayKey)
	if deviceKey != gatewayKey {
		channel = gatewayDeviceChannel(DeviceToPlatform, typeFirmwareVersion, gatewayKey, deviceKey)
	}
	return model.NewMessage(channel, []byte(version))
}
