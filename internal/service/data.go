package service

import (
	"github.com/sirupsen/logrus"

	"github.com/edgebridge/gateway/internal/model"
	"github.com/edgebridge/gateway/internal/protocol"
)

// DataProtocol is one sub-protocol's channel convention: ownership tests for
// the resolver, key/reference extraction and the channel rewriting between
// the platform and device sides.
type DataProtocol interface {
	Name() string
	PlatformChannels(gatewayKey string) []string
	DeviceChannels() []string
	OwnsChannel(channel string) bool
	DeviceKey(channel string) (string, error)
	Reference(channel string) (string, bool)
	ContentReference(content []byte) (string, bool)
	RouteToPlatform(channel, gatewayKey string) (string, error)
	RouteToDevice(channel string) (string, error)
}

var _ DataProtocol = protocol.JSONData{}

// DataService forwards data messages of one sub-protocol between the sides.
// Device-to-platform traffic is admitted only for devices present in the
// repository whose template carries the declared reference.
type DataService struct {
	lg         *logrus.Entry
	gatewayKey string
	management model.SubdeviceManagement
	proto      DataProtocol
	devices    DeviceStore
	platform   Publisher
	device     Publisher
}

// NewDataService builds the data service for one sub-protocol.
func NewDataService(lg *logrus.Entry, gatewayKey string, management model.SubdeviceManagement,
	proto DataProtocol, devices DeviceStore, platform, device Publisher) *DataService {
	return &DataService{
		lg:         lg,
		gatewayKey: gatewayKey,
		management: management,
		proto:      proto,
		devices:    devices,
		platform:   platform,
		device:     device,
	}
}

// DeviceMessageReceived admits and forwards a device-side data message to
// the platform.
func (s *DataService) DeviceMessageReceived(msg *model.Message) {
	deviceKey, err := s.proto.DeviceKey(msg.Channel)
	if err != nil {
		s.lg.WithField("channel", msg.Channel).Warn("data message without device key dropped")
		return
	}

	device, err := s.devices.FindByDeviceKey(deviceKey)
	if err != nil {
		s.lg.WithField("device", deviceKey).WithError(err).Error("device lookup failed, message dropped")
		return
	}
	if device == nil {
		s.handleUnknownDevice(deviceKey)
		return
	}

	ref, ok := s.proto.Reference(msg.Channel)
	if !ok {
		ref, ok = s.proto.ContentReference(msg.Content)
	}
	if ok && !device.Template.HasReference(ref) {
		s.lg.WithFields(logrus.Fields{"device": deviceKey, "reference": ref}).
			Warn("reference not in device template, message dropped")
		return
	}

	channel, err := s.proto.RouteToPlatform(msg.Channel, s.gatewayKey)
	if err != nil {
		s.lg.WithField("channel", msg.Channel).Warn("unroutable device message dropped")
		return
	}
	s.platform.AddMessage(model.NewMessage(channel, msg.Content))
}

// PlatformMessageReceived rewrites a platform-side command to the device
// convention and forwards it.
func (s *DataService) PlatformMessageReceived(msg *model.Message) {
	channel, err := s.proto.RouteToDevice(msg.Channel)
	if err != nil {
		s.lg.WithField("channel", msg.Channel).Warn("unroutable platform message dropped")
		return
	}
	s.device.AddMessage(model.NewMessage(channel, msg.Content))
}

func (s *DataService) handleUnknownDevice(deviceKey string) {
	if s.management == model.SubdeviceManagementGateway {
		s.lg.WithField("device", deviceKey).Info("unknown device, prompting registration")
		s.device.AddMessage(protocol.MakeReregistrationPromptMessage(deviceKey))
		return
	}
	s.lg.WithField("device", deviceKey).Warn("message from unknown device dropped")
}

type resolverEntry struct {
	proto   DataProtocol
	service *DataService
}

// Resolver maps incoming data channels onto the registered sub-protocols.
// Register all protocols before dispatch starts; the entry list is not
// locked afterwards.
type Resolver struct {
	lg      *logrus.Entry
	entries []resolverEntry
}

// NewResolver builds an empty resolver.
func NewResolver(lg *logrus.Entry) *Resolver {
	return &Resolver{lg: lg}
}

// Register adds a sub-protocol and its data service. Registration order is
// the resolution order.
func (r *Resolver) Register(proto DataProtocol, svc *DataService) {
	r.entries = append(r.entries, resolverEntry{proto: proto, service: svc})
}

// PlatformChannels returns the platform-side filters of every registered
// protocol.
func (r *Resolver) PlatformChannels(gatewayKey string) []string {
	var channels []string
	for _, e := range r.entries {
		channels = append(channels, e.proto.PlatformChannels(gatewayKey)...)
	}
	return channels
}

// DeviceChannels returns the device-side filters of every registered
// protocol.
func (r *Resolver) DeviceChannels() []string {
	var channels []string
	for _, e := range r.entries {
		channels = append(channels, e.proto.DeviceChannels()...)
	}
	return channels
}

// PlatformMessageReceived routes a platform-side message to the owning
// protocol's data service.
func (r *Resolver) PlatformMessageReceived(msg *model.Message) {
	if e := r.resolve(msg.Channel); e != nil {
		e.service.PlatformMessageReceived(msg)
	}
}

// DeviceMessageReceived routes a device-side message to the owning
// protocol's data service.
func (r *Resolver) DeviceMessageReceived(msg *model.Message) {
	if e := r.resolve(msg.Channel); e != nil {
		e.service.DeviceMessageReceived(msg)
	}
}

func (r *Resolver) resolve(channel string) *resolverEntry {
	for i := range r.entries {
		if r.entries[i].proto.OwnsChannel(channel) {
			return &r.entries[i]
		}
	}
	r.lg.WithField("channel", channel).Warn("no protocol owns channel, message dropped")
	return nil
}
