package gateway

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/edgebridge/gateway/internal/model"
	"github.com/edgebridge/gateway/internal/protocol"
	"github.com/edgebridge/gateway/internal/service"
)

// moduleBridge serves the platform traffic addressed to the gateway's own
// device slots: actuation and configuration commands are handed to the host
// application's handlers and every command is answered with the resulting
// state. It also republishes the full state when the gateway module
// (re)connects or registers.
type moduleBridge struct {
	lg         *logrus.Entry
	gatewayKey string
	manifest   *model.DeviceTemplate

	actuation             func(reference, value string)
	actuatorStatus        func(reference string) model.ActuatorStatus
	configurationUpdate   func(items []model.ConfigurationItem)
	configurationSnapshot func() []model.ConfigurationItem

	platform service.Publisher
}

func (b *moduleBridge) channels() []string {
	return protocol.PlatformActuationChannels(b.gatewayKey)
}

func (b *moduleBridge) messageReceived(msg *model.Message) {
	switch {
	case protocol.IsActuatorSet(msg.Channel):
		reference, ok := protocol.ReferenceFromChannel(msg.Channel)
		if !ok {
			b.lg.WithField("channel", msg.Channel).Warn("actuation without reference dropped")
			return
		}
		value, err := protocol.ParseActuatorSet(msg.Content)
		if err != nil {
			b.lg.WithField("channel", msg.Channel).Warn("malformed actuation dropped")
			return
		}
		if b.actuation != nil {
			b.actuation(reference, value)
		}
		b.publishActuatorStatus(reference)
	case protocol.IsActuatorGet(msg.Channel):
		reference, ok := protocol.ReferenceFromChannel(msg.Channel)
		if !ok {
			b.lg.WithField("channel", msg.Channel).Warn("actuator query without reference dropped")
			return
		}
		b.publishActuatorStatus(reference)
	case protocol.IsConfigurationSet(msg.Channel):
		values, err := protocol.ParseConfigurationSet(msg.Content)
		if err != nil {
			b.lg.WithField("channel", msg.Channel).Warn("malformed configuration update dropped")
			return
		}
		if items := b.configurationItems(values); len(items) > 0 && b.configurationUpdate != nil {
			b.configurationUpdate(items)
		}
		b.publishConfiguration()
	case protocol.IsConfigurationGet(msg.Channel):
		b.publishConfiguration()
	default:
		b.lg.WithField("channel", msg.Channel).Warn("unexpected module command dropped")
	}
}

// configurationItems splits the wire values with the delimiter their
// manifest declares. References without a manifest slot are dropped.
func (b *moduleBridge) configurationItems(values map[string]string) []model.ConfigurationItem {
	items := make([]model.ConfigurationItem, 0, len(values))
	for _, manifest := range b.manifest.Configurations {
		joined, ok := values[manifest.Reference]
		if !ok {
			continue
		}
		item := model.ConfigurationItem{Reference: manifest.Reference, Values: []string{joined}}
		if manifest.Size() > 1 && manifest.Delimiter != "" {
			item.Values = strings.Split(joined, manifest.Delimiter)
		}
		items = append(items, item)
		delete(values, manifest.Reference)
	}
	for reference := range values {
		b.lg.WithField("reference", reference).Warn("configuration update for unknown reference dropped")
	}
	return items
}

func (b *moduleBridge) publishActuatorStatus(reference string) {
	if b.actuatorStatus == nil {
		b.lg.WithField("reference", reference).Debug("no actuator status provider")
		return
	}
	status := b.actuatorStatus(reference)
	status.Reference = reference
	out, err := protocol.MakeActuatorStatusMessage(b.gatewayKey, b.gatewayKey, status)
	if err != nil {
		b.lg.WithField("reference", reference).WithError(err).Error("failed to encode actuator status")
		return
	}
	b.platform.AddMessage(out)
}

func (b *moduleBridge) publishConfiguration() {
	if b.configurationSnapshot == nil {
		b.lg.Debug("no configuration provider")
		return
	}
	items := b.configurationSnapshot()
	delimiters := make(map[string]string, len(b.manifest.Configurations))
	for _, manifest := range b.manifest.Configurations {
		delimiters[manifest.Reference] = manifest.Delimiter
	}
	out, err := protocol.MakeConfigurationCurrentMessage(b.gatewayKey, b.gatewayKey, items, delimiters)
	if err != nil {
		b.lg.WithError(err).Error("failed to encode configuration")
		return
	}
	b.platform.AddMessage(out)
}

// publishState pushes the status of every actuator slot and the current
// configuration. Runs on gateway registration and module reconnects.
func (b *moduleBridge) publishState() {
	for _, manifest := range b.manifest.Actuators {
		b.publishActuatorStatus(manifest.Reference)
	}
	if len(b.manifest.Configurations) > 0 {
		b.publishConfiguration()
	}
}
