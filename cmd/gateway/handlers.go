package main

import (
	"strconv"
	"sync"

	"github.com/edgebridge/gateway/internal/gateway"
	"github.com/edgebridge/gateway/internal/model"
)

// actuatorValue is the typed state behind one actuator slot. The manifest's
// data type selects the variant; set and get convert at the wire boundary.
type actuatorValue struct {
	dataType model.DataType
	b        bool
	n        float64
	s        string
}

func (v *actuatorValue) setFromString(value string) {
	switch v.dataType {
	case model.DataTypeBoolean:
		v.b = value == "true"
	case model.DataTypeNumeric:
		if n, err := strconv.ParseFloat(value, 64); err == nil {
			v.n = n
		}
	default:
		v.s = value
	}
}

func (v *actuatorValue) getAsString() string {
	switch v.dataType {
	case model.DataTypeBoolean:
		if v.b {
			return "true"
		}
		return "false"
	case model.DataTypeNumeric:
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	default:
		return v.s
	}
}

// moduleState is the demo's local state for the gateway's own device: one
// typed value per actuator slot and the configuration, seeded from the
// manifest defaults. Commands arrive on the platform dispatch goroutine
// while state publications may run from the device side, hence the lock.
type moduleState struct {
	mu            sync.Mutex
	actuators     map[string]*actuatorValue
	configuration map[string][]string
	order         []string // configuration references in manifest order
}

func newModuleState(manifest *model.DeviceTemplate) *moduleState {
	st := &moduleState{
		actuators:     make(map[string]*actuatorValue, len(manifest.Actuators)),
		configuration: make(map[string][]string, len(manifest.Configurations)),
	}
	for i := range manifest.Actuators {
		m := manifest.Actuators[i]
		st.actuators[m.Reference] = &actuatorValue{dataType: m.DataType}
	}
	for i := range manifest.Configurations {
		m := manifest.Configurations[i]
		values := make([]string, m.Size())
		for j := range values {
			values[j] = m.DefaultValue
		}
		st.configuration[m.Reference] = values
		st.order = append(st.order, m.Reference)
	}
	return st
}

// handlers exposes the state as the gateway's module slots.
func (st *moduleState) handlers() gateway.Handlers {
	return gateway.Handlers{
		Actuation:             st.actuation,
		ActuatorStatus:        st.actuatorStatus,
		ConfigurationUpdate:   st.configurationUpdate,
		ConfigurationSnapshot: st.configurationSnapshot,
	}
}

func (st *moduleState) actuation(reference, value string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if v, ok := st.actuators[reference]; ok {
		v.setFromString(value)
	}
}

func (st *moduleState) actuatorStatus(reference string) model.ActuatorStatus {
	st.mu.Lock()
	defer st.mu.Unlock()
	v, ok := st.actuators[reference]
	if !ok {
		return model.ActuatorStatus{State: model.ActuatorStateError}
	}
	return model.ActuatorStatus{Value: v.getAsString(), State: model.ActuatorStateReady}
}

func (st *moduleState) configurationUpdate(items []model.ConfigurationItem) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, item := range items {
		if _, ok := st.configuration[item.Reference]; ok {
			st.configuration[item.Reference] = item.Values
		}
	}
}

func (st *moduleState) configurationSnapshot() []model.ConfigurationItem {
	st.mu.Lock()
	defer st.mu.Unlock()
	items := make([]model.ConfigurationItem, 0, len(st.order))
	for _, reference := range st.order {
		items = append(items, model.ConfigurationItem{
			Reference: reference,
			Values:    append([]string(nil), st.configuration[reference]...),
		})
	}
	return items
}
