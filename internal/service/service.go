// Package service holds the gateway's bridging services: data forwarding
// with protocol resolution, device registration, device status tracking,
// keep-alive, chunked file download and firmware updates. Services receive
// inbound messages from the per-side command buffers and emit outbound
// messages through the per-side publishers.
package service

import (
	"github.com/edgebridge/gateway/internal/model"
)

// Publisher is the outbound queue of one broker side.
type Publisher interface {
	AddMessage(msg *model.Message)
}

// DeviceStore is the slice of the device repository the services use.
// Lookups return nil without error for unknown keys.
type DeviceStore interface {
	Save(device *model.Device) error
	Remove(deviceKey string) error
	RemoveAll() error
	FindByDeviceKey(deviceKey string) (*model.Device, error)
	FindAllDeviceKeys() ([]string, error)
	ContainsDeviceWithKey(deviceKey string) (bool, error)
}

// FileStore is the slice of the file repository used by the download and
// firmware services.
type FileStore interface {
	Store(info *model.FileInfo) error
	Get(name string) (*model.FileInfo, error)
	All() ([]model.FileInfo, error)
	Remove(name string) error
}
