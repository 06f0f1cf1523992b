package service

import (
	"sync"
	"testing"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/edgebridge/gateway/internal/model"
)

// fakePublisher records every message handed to one broker side.
type fakePublisher struct {
	mu   sync.Mutex
	msgs []*model.Message
}

func (p *fakePublisher) AddMessage(msg *model.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
}

func (p *fakePublisher) messages() []*model.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*model.Message(nil), p.msgs...)
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

func (p *fakePublisher) wait(t *testing.T, n int) []*model.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := p.messages(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected %d queued messages, got %d", n, p.count())
	return nil
}

type fakeDeviceStore struct {
	mu      sync.Mutex
	devices map[string]*model.Device
	err     error // returned by every operation when set
}

func newFakeDeviceStore() *fakeDeviceStore {
	return &fakeDeviceStore{devices: make(map[string]*model.Device)}
}

func (s *fakeDeviceStore) Save(device *model.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.devices[device.Key] = device
	return nil
}

func (s *fakeDeviceStore) Remove(deviceKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	delete(s.devices, deviceKey)
	return nil
}

func (s *fakeDeviceStore) RemoveAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.devices = make(map[string]*model.Device)
	return nil
}

func (s *fakeDeviceStore) FindByDeviceKey(deviceKey string) (*model.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.devices[deviceKey], nil
}

func (s *fakeDeviceStore) FindAllDeviceKeys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	keys := maps.Keys(s.devices)
	slices.Sort(keys)
	return keys, nil
}

func (s *fakeDeviceStore) ContainsDeviceWithKey(deviceKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	_, ok := s.devices[deviceKey]
	return ok, nil
}

func (s *fakeDeviceStore) contains(deviceKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.devices[deviceKey]
	return ok
}

type fakeFileStore struct {
	mu    sync.Mutex
	files map[string]model.FileInfo
	err   error
}

func newFakeFileStore() *fakeFileStore {
	return &fakeFileStore{files: make(map[string]model.FileInfo)}
}

func (s *fakeFileStore) Store(info *model.FileInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.files[info.Name] = *info
	return nil
}

func (s *fakeFileStore) Get(name string) (*model.FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	info, ok := s.files[name]
	if !ok {
		return nil, nil
	}
	return &info, nil
}

func (s *fakeFileStore) All() ([]model.FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	names := maps.Keys(s.files)
	slices.Sort(names)
	infos := make([]model.FileInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, s.files[name])
	}
	return infos, nil
}

func (s *fakeFileStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	delete(s.files, name)
	return nil
}

// testTemplate builds a minimal manifest speaking the given protocol, with
// sensor T and actuator V.
func testTemplate(protocolName string) *model.DeviceTemplate {
	return &model.DeviceTemplate{
		Name:     "thermostat",
		Protocol: protocolName,
		Sensors: []model.SensorManifest{{
			Name:        "Temperature",
			Reference:   "T",
			Unit:        "C",
			ReadingType: "TEMPERATURE",
			DataType:    model.DataTypeNumeric,
		}},
		Actuators: []model.ActuatorManifest{{
			Name:        "Valve",
			Reference:   "V",
			ReadingType: "SWITCH(ACTUATOR)",
			DataType:    model.DataTypeBoolean,
		}},
	}
}
