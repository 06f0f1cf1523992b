package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/edgebridge/gateway/internal/model"
)

// RegistrationRequest is the payload of a device registration request.
type RegistrationRequest struct {
	Name     string                `json:"name"`
	Key      string                `json:"key"`
	Template *model.DeviceTemplate `json:"manifest"`
}

// RegistrationResultOK is the platform's positive registration result.
const RegistrationResultOK = "OK"

type registrationResponsePayload struct {
	Result string `json:"result"`
}

// DeviceRegistrationChannels returns the device-side filters carrying
// registration requests.
func DeviceRegistrationChannels() []string {
	return []string{topicJoin(DeviceToPlatform, typeRegisterDevice, devicePathPrefix, singleLevel)}
}

// PlatformRegistrationChannels returns the platform-side filters carrying
// registration responses and reregistration requests for this gateway.
func PlatformRegistrationChannels(gatewayKey string) []string {
	return []string{
		topicJoin(gatewayChannel(PlatformToDevice, typeRegisterDevice, gatewayKey), multiLevel),
		gatewayChannel(PlatformToDevice, typeReregisterDevice, gatewayKey),
	}
}

// IsRegistrationResponse reports whether the channel carries a registration
// response.
func IsRegistrationResponse(channel string) bool { return ChannelType(channel) == typeRegisterDevice }

// IsReregistrationRequest reports whether the channel carries a platform
// reregistration request.
func IsReregistrationRequest(channel string) bool {
	return ChannelType(channel) == typeReregisterDevice
}

// ParseRegistrationRequest decodes a registration request payload.
func ParseRegistrationRequest(content []byte) (RegistrationRequest, error) {
	var req RegistrationRequest
	if err := json.Unmarshal(content, &req); err != nil {
		return RegistrationRequest{}, fmt.Errorf("%w: registration request: %v", ErrMalformed, err)
	}
	if req.Key == "" || req.Template == nil {
		return RegistrationRequest{}, fmt.Errorf("%w: registration request misses key or manifest", ErrMalformed)
	}
	return req, nil
}

// MakeRegistrationRequestMessage builds the platform-bound registration
// request. The gateway's own request is addressed without a subdevice pair.
func MakeRegistrationRequestMessage(gatewayKey string, req RegistrationRequest) (*model.Message, error) {
	content, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	channel := gatewayChannel(DeviceToPlatform, typeRegisterDevice, gatewayKey)
	if req.Key != gatewayKey {
		channel = gatewayDeviceChannel(DeviceToPlatform, typeRegisterDevice, gatewayKey, req.Key)
	}
	return model.NewMessage(channel, content), nil
}

// RegistrationResponseKey extracts the device key a registration response is
// for; responses without a subdevice pair concern the gateway itself.
func RegistrationResponseKey(channel, gatewayKey string) string {
	if key, err := DeviceKeyFromChannel(channel); err == nil {
		return key
	}
	return gatewayKey
}

// ParseRegistrationResponse decodes the platform's registration result.
func ParseRegistrationResponse(content []byte) (string, error) {
	var payload registrationResponsePayload
	if err := json.Unmarshal(content, &payload); err != nil || payload.Result == "" {
		return "", fmt.Errorf("%w: registration response", ErrMalformed)
	}
	return payload.Result, nil
}

// MakeRegistrationResponseMessage builds a registration response payload for
// tests and for forwarding synthesized responses.
func MakeRegistrationResponseMessage(channel, result string) (*model.Message, error) {
	content, err := json.Marshal(registrationResponsePayload{Result: result})
	if err != nil {
		return nil, err
	}
	return model.NewMessage(channel, content), nil
}

// PlatformRegistrationResponseChannel returns the platform-side channel a
// response for the given device arrives on.
func PlatformRegistrationResponseChannel(gatewayKey, deviceKey string) string {
	if deviceKey == gatewayKey {
		return gatewayChannel(PlatformToDevice, typeRegisterDevice, gatewayKey)
	}
	return gatewayDeviceChannel(PlatformToDevice, typeRegisterDevice, gatewayKey, deviceKey)
}

// MakeRegistrationResponseForwardMessage re-addresses a platform registration
// response to the child device it concerns.
func MakeRegistrationResponseForwardMessage(deviceKey string, content []byte) *model.Message {
	return model.NewMessage(deviceChannel(PlatformToDevice, typeRegisterDevice, deviceKey), content)
}

// MakeDeviceDeletionRequestMessage builds the platform-bound deletion request
// for one device.
func MakeDeviceDeletionRequestMessage(gatewayKey, deviceKey string) *model.Message {
	return model.NewMessage(gatewayDeviceChannel(DeviceToPlatform, typeDeleteDevice, gatewayKey, deviceKey), nil)
}

// MakeReregistrationAckMessage acknowledges a platform reregistration
// request.
func MakeReregistrationAckMessage(gatewayKey string) *model.Message {
	return model.NewMessage(gatewayChannel(DeviceToPlatform, typeReregisterDevice, gatewayKey), nil)
}

// MakeReregistrationPromptMessage prompts one child device to register again.
func MakeReregistrationPromptMessage(deviceKey string) *model.Message {
	return model.NewMessage(deviceChannel(PlatformToDevice, typeReregisterDevice, deviceKey), nil)
}

// DeviceRegistrationRequestChannel returns the device-side channel a child
// publishes its registration request on. Exposed for tests and the
// reregistration prompt path.
func DeviceRegistrationRequestChannel(deviceKey string) string {
	return deviceChannel(DeviceToPlatform, typeRegisterDevice, deviceKey)
}
