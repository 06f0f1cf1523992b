package repository

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/edgebridge/gateway/internal/model"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	return db
}

func countRows(t *testing.T, db *gorm.DB, m any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(m).Count(&n).Error)
	return n
}

func probeTemplate() *model.DeviceTemplate {
	return &model.DeviceTemplate{
		Name:                   "environment probe",
		Description:            "greenhouse probe",
		Protocol:               "JsonProtocol",
		FirmwareUpdateProtocol: "DFU",
		Sensors: []model.SensorManifest{
			{
				Name: "Temperature", Reference: "T", Unit: "℃",
				ReadingType: "TEMPERATURE", DataType: model.DataTypeNumeric,
				Precision: 1, Minimum: -40, Maximum: 85,
			},
			{
				Name: "Tilt", Reference: "TL", Unit: "m/s²",
				ReadingType: "ACCELEROMETER", DataType: model.DataTypeNumeric,
				Precision: 1, Minimum: 0, Maximum: 100,
				Delimiter: ",", Labels: []string{"x", "y", "z"},
			},
		},
		Actuators: []model.ActuatorManifest{
			{
				Name: "Valve", Reference: "V", DataType: model.DataTypeBoolean,
				ReadingType: "SWITCH(ACTUATOR)", Minimum: 0, Maximum: 1,
			},
		},
		Alarms: []model.AlarmManifest{
			{Name: "Frost", Reference: "FR", Message: "frost risk", Severity: model.AlarmSeverityCritical},
		},
		Configurations: []model.ConfigurationManifest{
			{Name: "Interval", Reference: "IV", DataType: model.DataTypeNumeric, Minimum: 1, Maximum: 3600, DefaultValue: "60"},
		},
		TypeParameters: map[string]string{"subdeviceManagement": "GATEWAY"},
	}
}

func probeDevice(key string) *model.Device {
	return &model.Device{Key: key, Password: "secret-" + key, Template: probeTemplate()}
}

func TestDeviceSaveAndFind(t *testing.T) {
	db := openTestDB(t)
	repo, err := NewDeviceRepository(db)
	require.NoError(t, err)

	dev := probeDevice("probe-1")
	require.NoError(t, repo.Save(dev))

	got, err := repo.FindByDeviceKey("probe-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, dev.Key, got.Key)
	require.Equal(t, dev.Password, got.Password)
	require.Equal(t, dev.Template, got.Template)

	missing, err := repo.FindByDeviceKey("unknown")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestDeviceDigestStableThroughStore(t *testing.T) {
	db := openTestDB(t)
	repo, err := NewDeviceRepository(db)
	require.NoError(t, err)

	dev := probeDevice("probe-1")
	want := dev.Template.Digest()
	require.NoError(t, repo.Save(dev))

	got, err := repo.FindByDeviceKey("probe-1")
	require.NoError(t, err)
	require.Equal(t, want, got.Template.Digest())
}

func TestTemplateDeduplication(t *testing.T) {
	db := openTestDB(t)
	repo, err := NewDeviceRepository(db)
	require.NoError(t, err)

	// Equivalent templates share one row regardless of device credentials.
	require.NoError(t, repo.Save(probeDevice("probe-1")))
	require.NoError(t, repo.Save(probeDevice("probe-2")))
	require.EqualValues(t, 2, countRows(t, db, &deviceRow{}))
	require.EqualValues(t, 1, countRows(t, db, &templateRow{}))

	// The shared row survives until the last referencing device is gone.
	require.NoError(t, repo.Remove("probe-1"))
	require.EqualValues(t, 1, countRows(t, db, &templateRow{}))

	require.NoError(t, repo.Remove("probe-2"))
	require.EqualValues(t, 0, countRows(t, db, &templateRow{}))
	require.EqualValues(t, 0, countRows(t, db, &sensorRow{}))
	require.EqualValues(t, 0, countRows(t, db, &actuatorRow{}))
	require.EqualValues(t, 0, countRows(t, db, &alarmRow{}))
	require.EqualValues(t, 0, countRows(t, db, &configurationRow{}))
}

func TestDeviceSaveReplaces(t *testing.T) {
	db := openTestDB(t)
	repo, err := NewDeviceRepository(db)
	require.NoError(t, err)

	require.NoError(t, repo.Save(probeDevice("probe-1")))

	changed := probeDevice("probe-1")
	changed.Password = "rotated"
	changed.Template.Description = "rooftop probe"
	require.NoError(t, repo.Save(changed))

	got, err := repo.FindByDeviceKey("probe-1")
	require.NoError(t, err)
	require.Equal(t, "rotated", got.Password)
	require.Equal(t, "rooftop probe", got.Template.Description)

	// The orphaned old template must not linger.
	require.EqualValues(t, 1, countRows(t, db, &templateRow{}))
}

func TestDeviceKeysAndContains(t *testing.T) {
	db := openTestDB(t)
	repo, err := NewDeviceRepository(db)
	require.NoError(t, err)

	keys, err := repo.FindAllDeviceKeys()
	require.NoError(t, err)
	require.Empty(t, keys)

	require.NoError(t, repo.Save(probeDevice("probe-2")))
	require.NoError(t, repo.Save(probeDevice("probe-1")))

	keys, err = repo.FindAllDeviceKeys()
	require.NoError(t, err)
	require.Equal(t, []string{"probe-1", "probe-2"}, keys)

	ok, err := repo.ContainsDeviceWithKey("probe-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.ContainsDeviceWithKey("unknown")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeviceRemove(t *testing.T) {
	db := openTestDB(t)
	repo, err := NewDeviceRepository(db)
	require.NoError(t, err)

	require.NoError(t, repo.Save(probeDevice("probe-1")))
	require.NoError(t, repo.Remove("probe-1"))
	require.NoError(t, repo.Remove("probe-1")) // unknown key is fine

	got, err := repo.FindByDeviceKey("probe-1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestDeviceRemoveAll(t *testing.T) {
	db := openTestDB(t)
	repo, err := NewDeviceRepository(db)
	require.NoError(t, err)

	require.NoError(t, repo.Save(probeDevice("probe-1")))
	require.NoError(t, repo.Save(probeDevice("probe-2")))
	require.NoError(t, repo.RemoveAll())

	keys, err := repo.FindAllDeviceKeys()
	require.NoError(t, err)
	require.Empty(t, keys)
	require.EqualValues(t, 0, countRows(t, db, &templateRow{}))
}
