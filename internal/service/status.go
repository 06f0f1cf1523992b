package service

import (
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/edgebridge/gateway/internal/model"
	"github.com/edgebridge/gateway/internal/protocol"
)

// DeviceStatusService tracks the presence of child devices from device-side
// status and last-will messages and reports state changes to the platform.
// Events for the gateway's own module are not forwarded; they fire the
// registered module listener instead.
type DeviceStatusService struct {
	lg         *logrus.Entry
	gatewayKey string
	platform   Publisher

	// Set during wiring, before dispatch starts.
	onGatewayModuleConnected func()

	mu          sync.Mutex
	states      map[string]model.DeviceState
	moduleState model.DeviceState
}

// NewDeviceStatusService builds the status service.
func NewDeviceStatusService(lg *logrus.Entry, gatewayKey string, platform Publisher) *DeviceStatusService {
	return &DeviceStatusService{
		lg:         lg,
		gatewayKey: gatewayKey,
		platform:   platform,
		states:     make(map[string]model.DeviceState),
	}
}

// SetGatewayModuleConnectedHandler registers the callback fired whenever the
// gateway module (re)connects to the local broker.
func (s *DeviceStatusService) SetGatewayModuleConnectedHandler(fn func()) {
	s.onGatewayModuleConnected = fn
}

// DeviceMessageReceived handles a device-side presence event: a status
// announcement or a broker-delivered last will.
func (s *DeviceStatusService) DeviceMessageReceived(msg *model.Message) {
	deviceKey, err := protocol.DeviceKeyFromChannel(msg.Channel)
	if err != nil {
		s.lg.WithField("channel", msg.Channel).Warn("presence event without device key dropped")
		return
	}

	state := model.DeviceStateOffline
	if !protocol.IsLastWill(msg.Channel) {
		state, err = protocol.ParseDeviceState(msg.Content)
		if err != nil {
			s.lg.WithField("device", deviceKey).WithError(err).Warn("malformed status message dropped")
			return
		}
	}

	if deviceKey == s.gatewayKey {
		s.moduleStateChanged(state)
		return
	}

	s.mu.Lock()
	prev, seen := s.states[deviceKey]
	s.states[deviceKey] = state
	s.mu.Unlock()
	if seen && prev == state {
		return
	}

	s.lg.WithFields(logrus.Fields{"device": deviceKey, "state": state}).Info("device state changed")
	s.publishState(deviceKey, state)
}

// PlatformMessageReceived answers a platform status request by republishing
// every known child state.
func (s *DeviceStatusService) PlatformMessageReceived(msg *model.Message) {
	s.mu.Lock()
	snapshot := maps.Clone(s.states)
	s.mu.Unlock()

	keys := maps.Keys(snapshot)
	slices.Sort(keys)
	s.lg.WithField("devices", len(keys)).Debug("republishing device states")
	for _, key := range keys {
		s.publishState(key, snapshot[key])
	}
}

func (s *DeviceStatusService) publishState(deviceKey string, state model.DeviceState) {
	out, err := protocol.MakeDeviceStatusMessage(s.gatewayKey, deviceKey, state)
	if err != nil {
		s.lg.WithField("device", deviceKey).WithError(err).Error("failed to encode device status")
		return
	}
	s.platform.AddMessage(out)
}

func (s *DeviceStatusService) moduleStateChanged(state model.DeviceState) {
	s.mu.Lock()
	prev := s.moduleState
	s.moduleState = state
	s.mu.Unlock()

	if state == model.DeviceStateConnected {
		if prev != model.DeviceStateConnected {
			s.lg.Info("gateway module connected")
			if fn := s.onGatewayModuleConnected; fn != nil {
				fn()
			}
		}
		return
	}
	s.lg.Warn("gateway module offline")
}
