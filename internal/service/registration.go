package service

import (
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/edgebridge/gateway/internal/model"
	"github.com/edgebridge/gateway/internal/protocol"
)

type pendingRegistration struct {
	request          protocol.RegistrationRequest
	awaitingResponse bool // false: postponed until the gateway is registered
}

// DeviceRegistrationService relays registration requests from the device
// side to the platform and stores devices on positive responses. Child
// requests are held back until the gateway itself is registered, and
// requests that would not change the stored template are dropped.
type DeviceRegistrationService struct {
	lg         *logrus.Entry
	gatewayKey string
	management model.SubdeviceManagement
	devices    DeviceStore
	platform   Publisher
	device     Publisher

	// Set during wiring, before dispatch starts.
	onDeviceRegistered func(deviceKey string, isGateway bool)

	mu      sync.Mutex
	pending map[string]*pendingRegistration
}

// NewDeviceRegistrationService builds the registration service.
func NewDeviceRegistrationService(lg *logrus.Entry, gatewayKey string, management model.SubdeviceManagement,
	devices DeviceStore, platform, device Publisher) *DeviceRegistrationService {
	return &DeviceRegistrationService{
		lg:         lg,
		gatewayKey: gatewayKey,
		management: management,
		devices:    devices,
		platform:   platform,
		device:     device,
		pending:    make(map[string]*pendingRegistration),
	}
}

// SetDeviceRegisteredHandler registers the callback fired after a device is
// stored following a positive platform response.
func (s *DeviceRegistrationService) SetDeviceRegisteredHandler(fn func(deviceKey string, isGateway bool)) {
	s.onDeviceRegistered = fn
}

// RegisterGateway submits the gateway's own registration from the configured
// manifest. Called on every platform connect; the template digest check
// makes it idempotent.
func (s *DeviceRegistrationService) RegisterGateway(name string, template *model.DeviceTemplate) {
	if template == nil {
		return
	}
	s.handleRequest(protocol.RegistrationRequest{Name: name, Key: s.gatewayKey, Template: template})
}

// DeviceMessageReceived handles a registration request published by a device
// module.
func (s *DeviceRegistrationService) DeviceMessageReceived(msg *model.Message) {
	deviceKey, err := protocol.DeviceKeyFromChannel(msg.Channel)
	if err != nil {
		s.lg.WithField("channel", msg.Channel).Warn("registration request without device key dropped")
		return
	}
	req, err := protocol.ParseRegistrationRequest(msg.Content)
	if err != nil {
		s.lg.WithField("device", deviceKey).WithError(err).Warn("malformed registration request dropped")
		return
	}
	if req.Key != deviceKey {
		s.lg.WithFields(logrus.Fields{"device": deviceKey, "key": req.Key}).
			Warn("registration request key differs from channel, dropped")
		return
	}
	s.handleRequest(req)
}

// PlatformMessageReceived handles registration responses and reregistration
// requests from the platform.
func (s *DeviceRegistrationService) PlatformMessageReceived(msg *model.Message) {
	switch {
	case protocol.IsReregistrationRequest(msg.Channel):
		s.handleReregistration()
	case protocol.IsRegistrationResponse(msg.Channel):
		s.handleResponse(msg)
	default:
		s.lg.WithField("channel", msg.Channel).Info("unexpected registration channel, message dropped")
	}
}

// DeleteDevicesOtherThan removes every stored device whose key is not kept
// and requests its deletion from the platform. Removing the gateway clears
// the whole fleet.
func (s *DeviceRegistrationService) DeleteDevicesOtherThan(keep []string) {
	keys, err := s.devices.FindAllDeviceKeys()
	if err != nil {
		s.lg.WithError(err).Error("device key listing failed")
		return
	}

	var removed []string
	wipe := false
	for _, key := range keys {
		if slices.Contains(keep, key) {
			continue
		}
		removed = append(removed, key)
		if key == s.gatewayKey {
			wipe = true
		}
	}

	if wipe {
		removed = keys
		if err := s.devices.RemoveAll(); err != nil {
			s.lg.WithError(err).Error("device removal failed")
			return
		}
	} else {
		for _, key := range removed {
			if err := s.devices.Remove(key); err != nil {
				s.lg.WithField("device", key).WithError(err).Error("device removal failed")
			}
		}
	}

	for _, key := range removed {
		s.lg.WithField("device", key).Info("requesting device deletion")
		s.platform.AddMessage(protocol.MakeDeviceDeletionRequestMessage(s.gatewayKey, key))
	}
}

func (s *DeviceRegistrationService) handleRequest(req protocol.RegistrationRequest) {
	if req.Key != s.gatewayKey {
		if s.management == model.SubdeviceManagementPlatform {
			s.lg.WithField("device", req.Key).Warn("platform manages subdevices, registration request dropped")
			return
		}
		gw, err := s.devices.FindByDeviceKey(s.gatewayKey)
		if err != nil {
			s.lg.WithError(err).Error("gateway lookup failed, registration request dropped")
			return
		}
		if gw == nil {
			s.lg.WithField("device", req.Key).Info("gateway not registered yet, registration request postponed")
			s.mu.Lock()
			s.pending[req.Key] = &pendingRegistration{request: req}
			s.mu.Unlock()
			return
		}
		if gw.Template != nil && req.Template.Protocol != gw.Template.Protocol {
			s.lg.WithFields(logrus.Fields{"device": req.Key, "protocol": req.Template.Protocol}).
				Warn("protocol differs from gateway template, registration request dropped")
			return
		}
	}

	existing, err := s.devices.FindByDeviceKey(req.Key)
	if err != nil {
		s.lg.WithField("device", req.Key).WithError(err).Error("device lookup failed, registration request dropped")
		return
	}
	if existing != nil && existing.Template != nil && existing.Template.Digest() == req.Template.Digest() {
		s.lg.WithField("device", req.Key).Debug("device already registered with equal template, request dropped")
		return
	}

	s.mu.Lock()
	if p, ok := s.pending[req.Key]; ok && p.awaitingResponse {
		s.mu.Unlock()
		s.lg.WithField("device", req.Key).Debug("registration already awaiting response, request dropped")
		return
	}
	s.pending[req.Key] = &pendingRegistration{request: req, awaitingResponse: true}
	s.mu.Unlock()

	out, err := protocol.MakeRegistrationRequestMessage(s.gatewayKey, req)
	if err != nil {
		s.lg.WithField("device", req.Key).WithError(err).Error("failed to encode registration request")
		s.mu.Lock()
		delete(s.pending, req.Key)
		s.mu.Unlock()
		return
	}
	s.lg.WithField("device", req.Key).Info("forwarding registration request")
	s.platform.AddMessage(out)
}

func (s *DeviceRegistrationService) handleReregistration() {
	s.lg.Info("platform requested reregistration")
	s.platform.AddMessage(protocol.MakeReregistrationAckMessage(s.gatewayKey))

	keys, err := s.devices.FindAllDeviceKeys()
	if err != nil {
		s.lg.WithError(err).Error("device key listing failed")
		return
	}
	for _, key := range keys {
		if key == s.gatewayKey {
			continue
		}
		s.device.AddMessage(protocol.MakeReregistrationPromptMessage(key))
	}
}

func (s *DeviceRegistrationService) handleResponse(msg *model.Message) {
	deviceKey := protocol.RegistrationResponseKey(msg.Channel, s.gatewayKey)
	result, err := protocol.ParseRegistrationResponse(msg.Content)
	if err != nil {
		s.lg.WithField("device", deviceKey).WithError(err).Warn("malformed registration response dropped")
		return
	}

	s.mu.Lock()
	p, ok := s.pending[deviceKey]
	if ok {
		delete(s.pending, deviceKey)
	}
	s.mu.Unlock()
	if !ok || !p.awaitingResponse {
		s.lg.WithField("device", deviceKey).Warn("registration response without pending request dropped")
		return
	}

	isGateway := deviceKey == s.gatewayKey
	if result != protocol.RegistrationResultOK {
		s.lg.WithFields(logrus.Fields{"device": deviceKey, "result": result}).Warn("registration failed")
		if !isGateway {
			s.device.AddMessage(protocol.MakeRegistrationResponseForwardMessage(deviceKey, msg.Content))
		}
		return
	}

	device := &model.Device{Key: deviceKey, Template: p.request.Template}
	if err := s.devices.Save(device); err != nil {
		s.lg.WithField("device", deviceKey).WithError(err).Error("failed to store registered device")
	}
	s.lg.WithField("device", deviceKey).Info("device registered")

	if !isGateway {
		s.device.AddMessage(protocol.MakeRegistrationResponseForwardMessage(deviceKey, msg.Content))
	}
	if fn := s.onDeviceRegistered; fn != nil {
		fn(deviceKey, isGateway)
	}
	if isGateway {
		s.flushPostponed()
	}
}

func (s *DeviceRegistrationService) flushPostponed() {
	s.mu.Lock()
	var queued []protocol.RegistrationRequest
	for key, p := range s.pending {
		if !p.awaitingResponse {
			queued = append(queued, p.request)
			delete(s.pending, key)
		}
	}
	s.mu.Unlock()

	slices.SortFunc(queued, func(a, b protocol.RegistrationRequest) bool { return a.Key < b.Key })
	for _, req := range queued {
		s.lg.WithField("device", req.Key).Info("resuming postponed registration request")
		s.handleRequest(req)
	}
}
