package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgebridge/gateway/internal/logger"
	"github.com/edgebridge/gateway/internal/model"
	"github.com/edgebridge/gateway/internal/protocol"
)

type dataFixture struct {
	svc      *DataService
	store    *fakeDeviceStore
	platform *fakePublisher
	device   *fakePublisher
}

func newDataFixture(t *testing.T, management model.SubdeviceManagement) *dataFixture {
	t.Helper()
	f := &dataFixture{
		store:    newFakeDeviceStore(),
		platform: &fakePublisher{},
		device:   &fakePublisher{},
	}
	f.svc = NewDataService(logger.Null(), testGatewayKey, management,
		protocol.JSONData{}, f.store, f.platform, f.device)
	return f
}

func (f *dataFixture) seedDevice(t *testing.T, key string) {
	t.Helper()
	require.NoError(t, f.store.Save(&model.Device{Key: key, Template: testTemplate(protocol.JSONProtocolName)}))
}

func TestDataReadingForwardedToPlatform(t *testing.T) {
	f := newDataFixture(t, model.SubdeviceManagementGateway)
	f.seedDevice(t, "child_X")

	content := []byte(`{"reference":"T","utc":1700000000,"data":"23.4"}`)
	f.svc.DeviceMessageReceived(model.NewMessage("d2p/sensor_reading/d/child_X", content))

	msgs := f.platform.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "d2p/sensor_reading/g/GW/d/child_X", msgs[0].Channel)
	require.Equal(t, content, msgs[0].Content)
	require.Equal(t, 0, f.device.count())
}

func TestDataChannelReferenceValidated(t *testing.T) {
	tests := []struct {
		name    string
		channel string
		want    int
	}{
		{"actuator in template", "d2p/actuator_status/d/child_X/r/V", 1},
		{"actuator not in template", "d2p/actuator_status/d/child_X/r/Z", 0},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newDataFixture(t, model.SubdeviceManagementGateway)
			f.seedDevice(t, "child_X")

			f.svc.DeviceMessageReceived(model.NewMessage(test.channel, []byte(`{"value":"true","status":"READY"}`)))
			require.Equal(t, test.want, f.platform.count())
		})
	}
}

func TestDataContentReferenceValidated(t *testing.T) {
	f := newDataFixture(t, model.SubdeviceManagementGateway)
	f.seedDevice(t, "child_X")

	f.svc.DeviceMessageReceived(model.NewMessage("d2p/sensor_reading/d/child_X",
		[]byte(`{"reference":"Z","utc":1700000000,"data":"1"}`)))
	require.Equal(t, 0, f.platform.count())
}

func TestDataUnknownDevicePromptsWhenGatewayManaged(t *testing.T) {
	f := newDataFixture(t, model.SubdeviceManagementGateway)

	f.svc.DeviceMessageReceived(model.NewMessage("d2p/sensor_reading/d/ghost",
		[]byte(`{"reference":"T","utc":1,"data":"1"}`)))

	require.Equal(t, 0, f.platform.count())
	prompts := f.device.messages()
	require.Len(t, prompts, 1)
	require.Equal(t, "p2d/reregister_device/d/ghost", prompts[0].Channel)
}

func TestDataUnknownDeviceDroppedWhenPlatformManaged(t *testing.T) {
	f := newDataFixture(t, model.SubdeviceManagementPlatform)

	f.svc.DeviceMessageReceived(model.NewMessage("d2p/sensor_reading/d/ghost",
		[]byte(`{"reference":"T","utc":1,"data":"1"}`)))

	require.Equal(t, 0, f.platform.count())
	require.Equal(t, 0, f.device.count())
}

func TestDataPlatformCommandRoutedToDevice(t *testing.T) {
	f := newDataFixture(t, model.SubdeviceManagementGateway)

	content := []byte(`{"value":"ON"}`)
	f.svc.PlatformMessageReceived(model.NewMessage("p2d/actuator_set/g/GW/d/child_X/r/V", content))

	msgs := f.device.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "p2d/actuator_set/d/child_X/r/V", msgs[0].Channel)
	require.Equal(t, content, msgs[0].Content)
}

func TestDataUnroutablePlatformMessageDropped(t *testing.T) {
	f := newDataFixture(t, model.SubdeviceManagementGateway)

	// No subdevice pair: the channel cannot be rewritten to the device side.
	f.svc.PlatformMessageReceived(model.NewMessage("p2d/actuator_set/g/GW", []byte(`{"value":"ON"}`)))
	require.Equal(t, 0, f.device.count())
}

func TestResolverRoutesToOwningProtocol(t *testing.T) {
	store := newFakeDeviceStore()
	platform := &fakePublisher{}
	device := &fakePublisher{}
	require.NoError(t, store.Save(&model.Device{Key: "child_X", Template: testTemplate(protocol.JSONProtocolName)}))

	svc := NewDataService(logger.Null(), testGatewayKey, model.SubdeviceManagementGateway,
		protocol.JSONData{}, store, platform, device)
	r := NewResolver(logger.Null())
	r.Register(protocol.JSONData{}, svc)

	r.DeviceMessageReceived(model.NewMessage("d2p/sensor_reading/d/child_X",
		[]byte(`{"reference":"T","utc":1,"data":"1"}`)))
	require.Equal(t, 1, platform.count())

	r.PlatformMessageReceived(model.NewMessage("p2d/actuator_set/g/GW/d/child_X/r/V", []byte(`{"value":"ON"}`)))
	require.Equal(t, 1, device.count())

	// A channel no registered protocol owns is dropped.
	r.PlatformMessageReceived(model.NewMessage("p2d/firmware_update_install/g/GW", []byte(`{}`)))
	require.Equal(t, 1, device.count())
}

func TestResolverAggregatesChannels(t *testing.T) {
	r := NewResolver(logger.Null())
	r.Register(protocol.JSONData{}, nil)

	platform := r.PlatformChannels(testGatewayKey)
	require.Contains(t, platform, "p2d/actuator_set/g/GW/#")
	require.Contains(t, platform, "p2d/configuration_set/g/GW/#")

	device := r.DeviceChannels()
	require.Contains(t, device, "d2p/sensor_reading/d/#")
	require.Contains(t, device, "d2p/configuration_current/d/#")
}
