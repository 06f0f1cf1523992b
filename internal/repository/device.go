package repository

import (
	"encoding/json"
	"errors"
	"sync"

	"gorm.io/gorm"

	"github.com/edgebridge/gateway/internal/model"
)

// templateRow is one stored device template. Templates are deduplicated by
// digest: devices registered with equivalent templates share a row.
type templateRow struct {
	ID                     uint   `gorm:"primarykey"`
	Digest                 string `gorm:"uniqueIndex"`
	Name                   string
	Description            string
	Protocol               string
	FirmwareUpdateProtocol string
	TypeParameters         string // JSON object, empty when none

	Sensors        []sensorRow        `gorm:"foreignKey:TemplateID;constraint:OnDelete:CASCADE"`
	Actuators      []actuatorRow      `gorm:"foreignKey:TemplateID;constraint:OnDelete:CASCADE"`
	Alarms         []alarmRow         `gorm:"foreignKey:TemplateID;constraint:OnDelete:CASCADE"`
	Configurations []configurationRow `gorm:"foreignKey:TemplateID;constraint:OnDelete:CASCADE"`
}

func (templateRow) TableName() string { return "device_templates" }

type sensorRow struct {
	ID          uint `gorm:"primarykey"`
	TemplateID  uint `gorm:"index"`
	Name        string
	Reference   string
	Description string
	Unit        string
	ReadingType string
	DataType    string
	Precision   uint
	Minimum     float64
	Maximum     float64
	Delimiter   string
	Labels      string // JSON array, empty when none
}

func (sensorRow) TableName() string { return "template_sensors" }

type actuatorRow struct {
	ID          uint `gorm:"primarykey"`
	TemplateID  uint `gorm:"index"`
	Name        string
	Reference   string
	Description string
	Unit        string
	ReadingType string
	DataType    string
	Precision   uint
	Minimum     float64
	Maximum     float64
	Delimiter   string
	Labels      string
}

func (actuatorRow) TableName() string { return "template_actuators" }

type alarmRow struct {
	ID          uint `gorm:"primarykey"`
	TemplateID  uint `gorm:"index"`
	Name        string
	Reference   string
	Message     string
	Description string
	Severity    string
}

func (alarmRow) TableName() string { return "template_alarms" }

type configurationRow struct {
	ID           uint `gorm:"primarykey"`
	TemplateID   uint `gorm:"index"`
	Name         string
	Reference    string
	Description  string
	DataType     string
	Minimum      float64
	Maximum      float64
	Delimiter    string
	DefaultValue string
	Labels       string
}

func (configurationRow) TableName() string { return "template_configurations" }

// deviceRow binds a device key (and its credentials) to a template.
type deviceRow struct {
	Key        string `gorm:"primarykey"`
	Password   string
	TemplateID uint `gorm:"index"`
}

func (deviceRow) TableName() string { return "devices" }

// DeviceRepository stores registered devices. Writes replace the whole
// device; template rows are shared between devices with equal digests and
// removed once the last referencing device is gone.
type DeviceRepository struct {
	mu sync.Mutex
	db *gorm.DB
}

// NewDeviceRepository migrates the device tables and returns the store.
func NewDeviceRepository(db *gorm.DB) (*DeviceRepository, error) {
	err := db.AutoMigrate(&templateRow{}, &sensorRow{}, &actuatorRow{}, &alarmRow{}, &configurationRow{}, &deviceRow{})
	if err != nil {
		return nil, err
	}
	return &DeviceRepository{db: db}, nil
}

// Save stores the device, replacing any previous row with the same key. The
// template row is reused when one with an equal digest already exists.
func (r *DeviceRepository) Save(device *model.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := removeDevice(tx, device.Key); err != nil {
			return err
		}
		return saveDevice(tx, device)
	})
}

// Remove deletes the device with the given key. Removing an unknown key is
// not an error. The template row is dropped when no other device uses it.
func (r *DeviceRepository) Remove(deviceKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.Transaction(func(tx *gorm.DB) error {
		return removeDevice(tx, deviceKey)
	})
}

// RemoveAll clears the repository.
func (r *DeviceRepository) RemoveAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&deviceRow{}).Error; err != nil {
			return err
		}
		return tx.Where("1 = 1").Delete(&templateRow{}).Error
	})
}

// FindByDeviceKey returns the stored device, or nil without error when the
// key is unknown.
func (r *DeviceRepository) FindByDeviceKey(deviceKey string) (*model.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dev deviceRow
	err := r.db.Where("key = ?", deviceKey).First(&dev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	tmpl, err := loadTemplate(r.db, dev.TemplateID)
	if err != nil {
		return nil, err
	}
	return &model.Device{Key: dev.Key, Password: dev.Password, Template: tmpl}, nil
}

// FindAllDeviceKeys returns the keys of every stored device.
func (r *DeviceRepository) FindAllDeviceKeys() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var keys []string
	if err := r.db.Model(&deviceRow{}).Order("key").Pluck("key", &keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

// ContainsDeviceWithKey reports whether a device with the given key is
// stored.
func (r *DeviceRepository) ContainsDeviceWithKey(deviceKey string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	if err := r.db.Model(&deviceRow{}).Where("key = ?", deviceKey).Count(&count).Error; err != nil {
		return false, err
	}
	return count != 0, nil
}

func saveDevice(tx *gorm.DB, device *model.Device) error {
	digest := device.Template.Digest()

	var tmpl templateRow
	err := tx.Where("digest = ?", digest).First(&tmpl).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		tmpl = newTemplateRow(device.Template, digest)
		if err := tx.Create(&tmpl).Error; err != nil {
			return err
		}
	case err != nil:
		return err
	}

	return tx.Create(&deviceRow{Key: device.Key, Password: device.Password, TemplateID: tmpl.ID}).Error
}

func removeDevice(tx *gorm.DB, deviceKey string) error {
	var dev deviceRow
	err := tx.Where("key = ?", deviceKey).First(&dev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := tx.Delete(&deviceRow{Key: dev.Key}).Error; err != nil {
		return err
	}

	var count int64
	if err := tx.Model(&deviceRow{}).Where("template_id = ?", dev.TemplateID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		// Child rows cascade via the foreign keys.
		if err := tx.Delete(&templateRow{ID: dev.TemplateID}).Error; err != nil {
			return err
		}
	}
	return nil
}

func loadTemplate(db *gorm.DB, id uint) (*model.DeviceTemplate, error) {
	byRowID := func(db *gorm.DB) *gorm.DB { return db.Order("id") }

	var row templateRow
	err := db.
		Preload("Sensors", byRowID).
		Preload("Actuators", byRowID).
		Preload("Alarms", byRowID).
		Preload("Configurations", byRowID).
		First(&row, id).Error
	if err != nil {
		return nil, err
	}
	return templateFromRow(&row)
}

func newTemplateRow(t *model.DeviceTemplate, digest string) templateRow {
	row := templateRow{
		Digest:                 digest,
		Name:                   t.Name,
		Description:            t.Description,
		Protocol:               t.Protocol,
		FirmwareUpdateProtocol: t.FirmwareUpdateProtocol,
		TypeParameters:         marshalStringMap(t.TypeParameters),
	}
	for _, s := range t.Sensors {
		row.Sensors = append(row.Sensors, sensorRow{
			Name:        s.Name,
			Reference:   s.Reference,
			Description: s.Description,
			Unit:        s.Unit,
			ReadingType: s.ReadingType,
			DataType:    string(s.DataType),
			Precision:   s.Precision,
			Minimum:     s.Minimum,
			Maximum:     s.Maximum,
			Delimiter:   s.Delimiter,
			Labels:      marshalLabels(s.Labels),
		})
	}
	for _, a := range t.Actuators {
		row.Actuators = append(row.Actuators, actuatorRow{
			Name:        a.Name,
			Reference:   a.Reference,
			Description: a.Description,
			Unit:        a.Unit,
			ReadingType: a.ReadingType,
			DataType:    string(a.DataType),
			Precision:   a.Precision,
			Minimum:     a.Minimum,
			Maximum:     a.Maximum,
			Delimiter:   a.Delimiter,
			Labels:      marshalLabels(a.Labels),
		})
	}
	for _, a := range t.Alarms {
		row.Alarms = append(row.Alarms, alarmRow{
			Name:        a.Name,
			Reference:   a.Reference,
			Message:     a.Message,
			Description: a.Description,
			Severity:    string(a.Severity),
		})
	}
	for _, c := range t.Configurations {
		row.Configurations = append(row.Configurations, configurationRow{
			Name:         c.Name,
			Reference:    c.Reference,
			Description:  c.Description,
			DataType:     string(c.DataType),
			Minimum:      c.Minimum,
			Maximum:      c.Maximum,
			Delimiter:    c.Delimiter,
			DefaultValue: c.DefaultValue,
			Labels:       marshalLabels(c.Labels),
		})
	}
	return row
}

func templateFromRow(row *templateRow) (*model.DeviceTemplate, error) {
	typeParameters, err := unmarshalStringMap(row.TypeParameters)
	if err != nil {
		return nil, err
	}
	t := &model.DeviceTemplate{
		Name:                   row.Name,
		Description:            row.Description,
		Protocol:               row.Protocol,
		FirmwareUpdateProtocol: row.FirmwareUpdateProtocol,
		TypeParameters:         typeParameters,
	}
	for _, s := range row.Sensors {
		labels, err := unmarshalLabels(s.Labels)
		if err != nil {
			return nil, err
		}
		t.Sensors = append(t.Sensors, model.SensorManifest{
			Name:        s.Name,
			Reference:   s.Reference,
			Description: s.Description,
			Unit:        s.Unit,
			ReadingType: s.ReadingType,
			DataType:    model.DataType(s.DataType),
			Precision:   s.Precision,
			Minimum:     s.Minimum,
			Maximum:     s.Maximum,
			Delimiter:   s.Delimiter,
			Labels:      labels,
		})
	}
	for _, a := range row.Actuators {
		labels, err := unmarshalLabels(a.Labels)
		if err != nil {
			return nil, err
		}
		t.Actuators = append(t.Actuators, model.ActuatorManifest{
			Name:        a.Name,
			Reference:   a.Reference,
			Description: a.Description,
			Unit:        a.Unit,
			ReadingType: a.ReadingType,
			DataType:    model.DataType(a.DataType),
			Precision:   a.Precision,
			Minimum:     a.Minimum,
			Maximum:     a.Maximum,
			Delimiter:   a.Delimiter,
			Labels:      labels,
		})
	}
	for _, a := range row.Alarms {
		t.Alarms = append(t.Alarms, model.AlarmManifest{
			Name:        a.Name,
			Reference:   a.Reference,
			Message:     a.Message,
			Description: a.Description,
			Severity:    model.AlarmSeverity(a.Severity),
		})
	}
	for _, c := range row.Configurations {
		labels, err := unmarshalLabels(c.Labels)
		if err != nil {
			return nil, err
		}
		t.Configurations = append(t.Configurations, model.ConfigurationManifest{
			Name:         c.Name,
			Reference:    c.Reference,
			Description:  c.Description,
			DataType:     model.DataType(c.DataType),
			Minimum:      c.Minimum,
			Maximum:      c.Maximum,
			Delimiter:    c.Delimiter,
			DefaultValue: c.DefaultValue,
			Labels:       labels,
		})
	}
	return t, nil
}

func marshalLabels(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	b, _ := json.Marshal(labels)
	return string(b)
}

func unmarshalLabels(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var labels []string
	if err := json.Unmarshal([]byte(s), &labels); err != nil {
		return nil, err
	}
	return labels, nil
}

func marshalStringMap(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	b, _ := json.Marshal(m)
	return string(b)
}

func unmarshalStringMap(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}
