// Package protocol implements the JSON gateway protocol: the channel grammar
// shared by both broker sides and the codecs for the data, registration,
// status, keep-alive, firmware-update and file-transfer sub-protocols.
//
// Channels are slash-delimited. The first level carries the direction (d2p =
// device to platform, p2d = platform to device), the second the message type.
// Platform-side channels address the gateway with a "g/{gatewayKey}" pair and
// optionally a subdevice with "d/{deviceKey}"; device-side channels carry the
// "d/{deviceKey}" pair only.
package protocol

import (
	"errors"
	"fmt"
)

// Direction prefixes.
const (
	DeviceToPlatform = "d2p"
	PlatformToDevice = "p2d"
)

// Path prefixes introducing addressed entities.
const (
	gatewayPathPrefix   = "g"
	devicePathPrefix    = "d"
	referencePathPrefix = "r"
)

// Message type levels.
const (
	typeSensorReading        = "sensor_reading"
	typeEvents               = "events"
	typeActuatorSet          = "actuator_set"
	typeActuatorGet          = "actuator_get"
	typeActuatorStatus       = "actuator_status"
	typeConfigurationSet     = "configuration_set"
	typeConfigurationGet     = "configuration_get"
	typeConfigurationCurrent = "configuration_current"
	typeRegisterDevice       = "register_device"
	typeReregisterDevice     = "reregister_device"
	typeDeleteDevice         = "delete_device"
	typeFirmwareInstall      = "firmware_update_install"
	typeFirmwareStatus       = "firmware_update_status"
	typeFirmwareVersion      = "firmware_version_update"
	typeFileUploadInitiate   = "file_upload_initiate"
	typeFileUploadStatus     = "file_upload_status"
	typeFilePacketRequest    = "file_upload_packet_request"
	typeFileUploadBinary     = "file_upload_binary"
	typeFileUploadAbort      = "file_upload_abort"
	typeFileDelete           = "file_delete"
	typeFilePurge            = "file_purge"
	typeFileListRequest      = "file_list_request"
	typeFileListResponse     = "file_list_response"
	typeFileListUpdate       = "file_list_update"
	typeFileListConfirm      = "file_list_confirm"
	typePing                 = "ping"
	typePong                 = "pong"
	typeLastWill             = "lastwill"
	typeStatus               = "status"
	typeDeviceStatus         = "device_status"
	typeDeviceStatusRequest  = "device_status_request"
)

// Sentinel errors returned by extractors.
var (
	ErrNoMatch   = errors.New("protocol: channel does not match")
	ErrMalformed = errors.New("protocol: malformed message")
)

// gatewayChannel builds "{direction}/{type}/g/{gatewayKey}".
func gatewayChannel(direction, msgType, gatewayKey string) string {
	return topicJoin(direction, msgType, gatewayPathPrefix, gatewayKey)
}

// gatewayDeviceChannel builds "{direction}/{type}/g/{gatewayKey}/d/{deviceKey}".
func gatewayDeviceChannel(direction, msgType, gatewayKey, deviceKey string) string {
	return topicJoin(direction, msgType, gatewayPathPrefix, gatewayKey, devicePathPrefix, deviceKey)
}

// deviceChannel builds "{direction}/{type}/d/{deviceKey}".
func deviceChannel(direction, msgType, deviceKey string) string {
	return topicJoin(direction, msgType, devicePathPrefix, deviceKey)
}

// DeviceKeyFromChannel extracts the device key addressed by a channel: the
// level following the last "d" path prefix.
func DeviceKeyFromChannel(channel string) (string, error) {
	levels := topicSplit(channel)
	for i := len(levels) - 2; i >= 2; i-- {
		if levels[i] == devicePathPrefix {
			return levels[i+1], nil
		}
	}
	return "", fmt.Errorf("%w: no device key in %q", ErrNoMatch, channel)
}

// GatewayKeyFromChannel extracts the gateway key addressed by a channel.
func GatewayKeyFromChannel(channel string) (string, error) {
	levels := topicSplit(channel)
	for i := 2; i < len(levels)-1; i++ {
		if levels[i] == gatewayPathPrefix {
			return levels[i+1], nil
		}
	}
	return "", fmt.Errorf("%w: no gateway key in %q", ErrNoMatch, channel)
}

// ReferenceFromChannel extracts the reference addressed by a channel, if any.
func ReferenceFromChannel(channel string) (string, bool) {
	levels := topicSplit(channel)
	for i := 2; i < len(levels)-1; i++ {
		if levels[i] == referencePathPrefix {
			return levels[i+1], true
		}
	}
	return "", false
}

// RouteDeviceToPlatform rewrites a device-side channel
// ("{dir}/{type}/d/{deviceKey}...") into its platform-side form by inserting
// the gateway address pair after the message type.
func RouteDeviceToPlatform(channel, gatewayKey string) (string, error) {
	levels := topicSplit(channel)
	if len(levels) < 4 || levels[2] != devicePathPrefix {
		return "", fmt.Errorf("%w: %q is not a device-side channel", ErrNoMatch, channel)
	}
	routed := make([]string, 0, len(levels)+2)
	routed = append(routed, levels[0], levels[1], gatewayPathPrefix, gatewayKey)
	routed = append(routed, levels[2:]...)
	return topicJoin(routed...), nil
}

// RoutePlatformToDevice rewrites a platform-side channel
// ("{dir}/{type}/g/{gatewayKey}/d/{deviceKey}...") into its device-side form
// by stripping the gateway address pair.
func RoutePlatformToDevice(channel string) (string, error) {
	levels := topicSplit(channel)
	if len(levels) < 6 || levels[2] != gatewayPathPrefix || levels[4] != devicePathPrefix {
		return "", fmt.Errorf("%w: %q is not a gateway-addressed channel", ErrNoMatch, channel)
	}
	routed := make([]string, 0, len(levels)-2)
	routed = append(routed, levels[0], levels[1])
	routed = append(routed, levels[4:]...)
	return topicJoin(routed...), nil
}
