package model

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strconv"
)

// Digest computes the canonical SHA-256 digest of the template, hex encoded.
// Every field is hashed in a fixed order; child manifests contribute their
// own digests in definition order so equivalent templates hash identically
// regardless of which device submitted them.
func (t *DeviceTemplate) Digest() string {
	h := sha256.New()
	writeString(h, t.Name)
	writeString(h, t.Description)
	writeString(h, t.Protocol)
	writeString(h, t.FirmwareUpdateProtocol)
	for i := range t.Alarms {
		writeString(h, t.Alarms[i].digest())
	}
	for i := range t.Actuators {
		writeString(h, t.Actuators[i].digest())
	}
	for i := range t.Sensors {
		writeString(h, t.Sensors[i].digest())
	}
	for i := range t.Configurations {
		writeString(h, t.Configurations[i].digest())
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (m *AlarmManifest) digest() string {
	h := sha256.New()
	writeString(h, m.Name)
	writeString(h, m.Reference)
	writeString(h, m.Message)
	writeString(h, m.Description)
	writeString(h, m.Severity.digestCode())
	return hex.EncodeToString(h.Sum(nil))
}

func (m *ActuatorManifest) digest() string {
	h := sha256.New()
	writeString(h, m.Name)
	writeString(h, m.Reference)
	writeString(h, m.Description)
	writeString(h, m.Unit)
	writeString(h, m.ReadingType)
	writeString(h, strconv.FormatUint(uint64(m.Precision), 10))
	writeString(h, formatDigestFloat(m.Minimum))
	writeString(h, formatDigestFloat(m.Maximum))
	writeString(h, m.Delimiter)
	writeString(h, m.DataType.digestCode())
	for _, label := range m.Labels {
		writeString(h, label)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (m *SensorManifest) digest() string {
	h := sha256.New()
	writeString(h, m.Name)
	writeString(h, m.Reference)
	writeString(h, m.Description)
	writeString(h, m.Unit)
	writeString(h, m.ReadingType)
	writeString(h, strconv.FormatUint(uint64(m.Precision), 10))
	writeString(h, formatDigestFloat(m.Minimum))
	writeString(h, formatDigestFloat(m.Maximum))
	writeString(h, m.Delimiter)
	writeString(h, m.DataType.digestCode())
	for _, label := range m.Labels {
		writeString(h, label)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (m *ConfigurationManifest) digest() string {
	h := sha256.New()
	writeString(h, m.Name)
	writeString(h, m.Reference)
	writeString(h, m.Description)
	writeString(h, formatDigestFloat(m.Minimum))
	writeString(h, formatDigestFloat(m.Maximum))
	writeString(h, m.Delimiter)
	writeString(h, m.DefaultValue)
	writeString(h, m.DataType.digestCode())
	for _, label := range m.Labels {
		writeString(h, label)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// formatDigestFloat renders bounds with fixed six decimal places so digests
// stay stable across writers.
func formatDigestFloat(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }

func writeString(h hash.Hash, s string) { h.Write([]byte(s)) }
