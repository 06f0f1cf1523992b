package service

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgebridge/gateway/internal/logger"
	"github.com/edgebridge/gateway/internal/model"
	"github.com/edgebridge/gateway/internal/protocol"
)

type fakeInstaller struct {
	mu    sync.Mutex
	err   error
	paths []string
}

func (i *fakeInstaller) Install(path string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.paths = append(i.paths, path)
	return i.err
}

func (i *fakeInstaller) installed() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.paths...)
}

type fakeURLDownloader struct {
	mu        sync.Mutex
	url       string
	dir       string
	onSuccess func(string)
	onFail    func(model.ErrorCode)
	aborted   bool
}

func (d *fakeURLDownloader) Download(fileURL, dir string, onSuccess func(string), onFail func(model.ErrorCode)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url, d.dir = fileURL, dir
	d.onSuccess, d.onFail = onSuccess, onFail
}

func (d *fakeURLDownloader) Abort() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.aborted = true
}

func (d *fakeURLDownloader) succeed(path string) {
	d.mu.Lock()
	fn := d.onSuccess
	d.mu.Unlock()
	fn(path)
}

func (d *fakeURLDownloader) fail(code model.ErrorCode) {
	d.mu.Lock()
	fn := d.onFail
	d.mu.Unlock()
	fn(code)
}

func (d *fakeURLDownloader) wasAborted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.aborted
}

type firmwareFixture struct {
	svc         *FirmwareUpdateService
	files       *fakeFileStore
	downloader  *fakeURLDownloader
	installer   *fakeInstaller
	platform    *fakePublisher
	device      *fakePublisher
	marker      string
	downloadDir string
}

func newFirmwareFixture(t *testing.T) *firmwareFixture {
	t.Helper()
	dir := t.TempDir()
	f := &firmwareFixture{
		files:       newFakeFileStore(),
		downloader:  &fakeURLDownloader{},
		installer:   &fakeInstaller{},
		platform:    &fakePublisher{},
		device:      &fakePublisher{},
		marker:      filepath.Join(dir, "fw-version"),
		downloadDir: filepath.Join(dir, "downloads"),
	}
	f.svc = NewFirmwareUpdateService(logger.Null(), FirmwareUpdateConfig{
		GatewayKey:  testGatewayKey,
		Version:     "2.1.0",
		DownloadDir: f.downloadDir,
		MarkerPath:  f.marker,
	}, f.files, f.downloader, f.installer, f.platform, f.device)
	return f
}

// gatewayCommand builds a firmware command addressed to the gateway itself,
// without a subdevice pair.
func gatewayCommand(t *testing.T, cmd model.FirmwareCommand) *model.Message {
	t.Helper()
	content, err := json.Marshal(cmd)
	require.NoError(t, err)
	return model.NewMessage("p2d/firmware_update_install/g/GW", content)
}

func requireFirmwareStatus(t *testing.T, msg *model.Message, status model.FirmwareStatus, code model.ErrorCode) {
	t.Helper()
	require.Equal(t, "d2p/firmware_update_status/g/GW", msg.Channel)
	gotStatus, gotCode, err := protocol.ParseFirmwareStatus(msg.Content)
	require.NoError(t, err)
	require.Equal(t, status, gotStatus)
	require.Equal(t, code, gotCode)
}

func TestFirmwareInstallFromStoredFile(t *testing.T) {
	f := newFirmwareFixture(t)
	image := filepath.Join(t.TempDir(), "fw.bin")
	require.NoError(t, os.WriteFile(image, []byte("image"), 0o644))
	require.NoError(t, f.files.Store(&model.FileInfo{Name: "fw.bin", Hash: "h", Path: image}))

	f.svc.PlatformMessageReceived(gatewayCommand(t, model.FirmwareCommand{
		Command: model.FirmwareCommandInstall, FileName: "fw.bin",
	}))

	msgs := f.platform.messages()
	require.Len(t, msgs, 3)
	requireFirmwareStatus(t, msgs[0], model.FirmwareStatusFileTransfer, "")
	requireFirmwareStatus(t, msgs[1], model.FirmwareStatusFileReady, "")
	requireFirmwareStatus(t, msgs[2], model.FirmwareStatusInstallation, "")
	require.Equal(t, []string{image}, f.installer.installed())

	marker, err := os.ReadFile(f.marker)
	require.NoError(t, err)
	require.Equal(t, "2.1.0", string(marker))

	// The session is held until the restart resolves it; further install
	// commands are dropped.
	f.svc.PlatformMessageReceived(gatewayCommand(t, model.FirmwareCommand{
		Command: model.FirmwareCommandInstall, FileName: "fw.bin",
	}))
	require.Equal(t, 3, f.platform.count())
	require.Len(t, f.installer.installed(), 1)
}

func TestFirmwareInstallWaitsForTransfer(t *testing.T) {
	f := newFirmwareFixture(t)
	f.svc.PlatformMessageReceived(gatewayCommand(t, model.FirmwareCommand{
		Command: model.FirmwareCommandInstall, FileName: "fw.bin",
	}))

	msgs := f.platform.messages()
	require.Len(t, msgs, 1)
	requireFirmwareStatus(t, msgs[0], model.FirmwareStatusFileTransfer, "")
	require.Empty(t, f.installer.installed())

	// A completion for some other file is not ours.
	f.svc.TransferCompleted("other.bin", "/tmp/other.bin")
	require.Equal(t, 1, f.platform.count())

	image := filepath.Join(t.TempDir(), "fw.bin")
	require.NoError(t, os.WriteFile(image, []byte("image"), 0o644))
	f.svc.TransferCompleted("fw.bin", image)

	msgs = f.platform.messages()
	require.Len(t, msgs, 3)
	requireFirmwareStatus(t, msgs[1], model.FirmwareStatusFileReady, "")
	requireFirmwareStatus(t, msgs[2], model.FirmwareStatusInstallation, "")
	require.Equal(t, []string{image}, f.installer.installed())
}

func TestFirmwareTransferFailureEndsSession(t *testing.T) {
	f := newFirmwareFixture(t)
	f.svc.PlatformMessageReceived(gatewayCommand(t, model.FirmwareCommand{
		Command: model.FirmwareCommandInstall, FileName: "fw.bin",
	}))

	f.svc.TransferFailed("fw.bin", model.ErrorRetryCountExceeded)

	msgs := f.platform.messages()
	require.Len(t, msgs, 2)
	requireFirmwareStatus(t, msgs[1], model.FirmwareStatusError, model.ErrorRetryCountExceeded)

	// The slot is free again.
	f.svc.PlatformMessageReceived(gatewayCommand(t, model.FirmwareCommand{
		Command: model.FirmwareCommandInstall, FileName: "fw.bin",
	}))
	msgs = f.platform.messages()
	require.Len(t, msgs, 3)
	requireFirmwareStatus(t, msgs[2], model.FirmwareStatusFileTransfer, "")
}

func TestFirmwareTransferAbortEndsSession(t *testing.T) {
	f := newFirmwareFixture(t)
	f.svc.PlatformMessageReceived(gatewayCommand(t, model.FirmwareCommand{
		Command: model.FirmwareCommandInstall, FileName: "fw.bin",
	}))

	f.svc.TransferAborted("fw.bin")

	msgs := f.platform.messages()
	require.Len(t, msgs, 2)
	requireFirmwareStatus(t, msgs[1], model.FirmwareStatusAborted, "")
	require.Empty(t, f.installer.installed())
}

func TestFirmwareInstallFromURL(t *testing.T) {
	f := newFirmwareFixture(t)
	f.svc.PlatformMessageReceived(gatewayCommand(t, model.FirmwareCommand{
		Command: model.FirmwareCommandInstall, FileURL: "http://host/fw.bin",
	}))

	msgs := f.platform.messages()
	require.Len(t, msgs, 1)
	requireFirmwareStatus(t, msgs[0], model.FirmwareStatusFileTransfer, "")
	require.Equal(t, "http://host/fw.bin", f.downloader.url)
	require.Equal(t, f.downloadDir, f.downloader.dir)

	image := filepath.Join(t.TempDir(), "fw.bin")
	require.NoError(t, os.WriteFile(image, []byte("image"), 0o644))
	f.downloader.succeed(image)

	msgs = f.platform.messages()
	require.Len(t, msgs, 3)
	requireFirmwareStatus(t, msgs[1], model.FirmwareStatusFileReady, "")
	requireFirmwareStatus(t, msgs[2], model.FirmwareStatusInstallation, "")
	require.Equal(t, []string{image}, f.installer.installed())
}

func TestFirmwareURLDownloadFailure(t *testing.T) {
	tests := []struct {
		name string
		code model.ErrorCode
		want model.ErrorCode
	}{
		{"filesystem error", model.ErrorFileSystem, model.ErrorFileSystem},
		{"unstated failure", "", model.ErrorUnspecified},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFirmwareFixture(t)
			f.svc.PlatformMessageReceived(gatewayCommand(t, model.FirmwareCommand{
				Command: model.FirmwareCommandInstall, FileURL: "http://host/fw.bin",
			}))
			f.downloader.fail(test.code)

			msgs := f.platform.messages()
			require.Len(t, msgs, 2)
			requireFirmwareStatus(t, msgs[1], model.FirmwareStatusError, test.want)
		})
	}
}

func TestFirmwareAbortCancelsURLDownload(t *testing.T) {
	f := newFirmwareFixture(t)
	f.svc.PlatformMessageReceived(gatewayCommand(t, model.FirmwareCommand{
		Command: model.FirmwareCommandInstall, FileURL: "http://host/fw.bin",
	}))

	f.svc.PlatformMessageReceived(gatewayCommand(t, model.FirmwareCommand{
		Command: model.FirmwareCommandAbort,
	}))

	require.True(t, f.downloader.wasAborted())
	msgs := f.platform.messages()
	require.Len(t, msgs, 2)
	requireFirmwareStatus(t, msgs[1], model.FirmwareStatusAborted, "")

	// A late download completion no longer has a session to serve.
	f.downloader.succeed("/tmp/late.bin")
	require.Equal(t, 2, f.platform.count())
	require.Empty(t, f.installer.installed())
}

func TestFirmwareAbortWithoutSessionIgnored(t *testing.T) {
	f := newFirmwareFixture(t)
	f.svc.PlatformMessageReceived(gatewayCommand(t, model.FirmwareCommand{
		Command: model.FirmwareCommandAbort,
	}))
	require.Equal(t, 0, f.platform.count())
}

func TestFirmwareInstallerFailure(t *testing.T) {
	f := newFirmwareFixture(t)
	f.installer.err = errors.New("exec format error")
	image := filepath.Join(t.TempDir(), "fw.bin")
	require.NoError(t, os.WriteFile(image, []byte("image"), 0o644))
	require.NoError(t, f.files.Store(&model.FileInfo{Name: "fw.bin", Hash: "h", Path: image}))

	f.svc.PlatformMessageReceived(gatewayCommand(t, model.FirmwareCommand{
		Command: model.FirmwareCommandInstall, FileName: "fw.bin",
	}))

	msgs := f.platform.messages()
	require.Len(t, msgs, 4)
	requireFirmwareStatus(t, msgs[3], model.FirmwareStatusError, model.ErrorUnspecified)

	// The marker must not survive a failed install.
	_, err := os.Stat(f.marker)
	require.True(t, os.IsNotExist(err))

	// The slot is free again.
	f.svc.PlatformMessageReceived(gatewayCommand(t, model.FirmwareCommand{
		Command: model.FirmwareCommandInstall, FileName: "fw.bin",
	}))
	require.Greater(t, f.platform.count(), 4)
}

func TestFirmwareInstallWithoutSourceRejected(t *testing.T) {
	f := newFirmwareFixture(t)
	f.svc.PlatformMessageReceived(gatewayCommand(t, model.FirmwareCommand{
		Command: model.FirmwareCommandInstall,
	}))

	msgs := f.platform.messages()
	require.Len(t, msgs, 1)
	requireFirmwareStatus(t, msgs[0], model.FirmwareStatusError, model.ErrorUnspecified)
}

func TestFirmwareMalformedCommandDropped(t *testing.T) {
	f := newFirmwareFixture(t)
	f.svc.PlatformMessageReceived(model.NewMessage("p2d/firmware_update_install/g/GW", []byte("{")))
	require.Equal(t, 0, f.platform.count())
	require.Equal(t, 0, f.device.count())
}

func TestFirmwareChildCommandForwarded(t *testing.T) {
	f := newFirmwareFixture(t)
	cmd, err := protocol.MakeFirmwareCommandMessage(testGatewayKey, "child_X", model.FirmwareCommand{
		Command: model.FirmwareCommandInstall, FileName: "fw.bin",
	})
	require.NoError(t, err)

	f.svc.PlatformMessageReceived(cmd)

	require.Equal(t, 0, f.platform.count())
	msgs := f.device.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "p2d/firmware_update_install/d/child_X", msgs[0].Channel)
	require.Equal(t, cmd.Content, msgs[0].Content)
}

func TestFirmwareChildReportsForwardedUp(t *testing.T) {
	f := newFirmwareFixture(t)

	f.svc.DeviceMessageReceived(model.NewMessage("d2p/firmware_update_status/d/child_X",
		[]byte(`{"status":"INSTALLATION"}`)))
	f.svc.DeviceMessageReceived(model.NewMessage("d2p/firmware_version_update/d/child_X",
		[]byte("3.0.0")))

	msgs := f.platform.messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "d2p/firmware_update_status/g/GW/d/child_X", msgs[0].Channel)
	require.Equal(t, "d2p/firmware_version_update/g/GW/d/child_X", msgs[1].Channel)
	require.Equal(t, "3.0.0", string(msgs[1].Content))
}

func TestFirmwareBootState(t *testing.T) {
	t.Run("version changed", func(t *testing.T) {
		f := newFirmwareFixture(t)
		require.NoError(t, os.WriteFile(f.marker, []byte("2.0.0"), 0o644))

		f.svc.ReportBootState()

		msgs := f.platform.messages()
		require.Len(t, msgs, 2)
		require.Equal(t, "d2p/firmware_version_update/g/GW", msgs[0].Channel)
		require.Equal(t, "2.1.0", string(msgs[0].Content))
		requireFirmwareStatus(t, msgs[1], model.FirmwareStatusCompleted, "")
		_, err := os.Stat(f.marker)
		require.True(t, os.IsNotExist(err))
	})

	t.Run("version unchanged", func(t *testing.T) {
		f := newFirmwareFixture(t)
		require.NoError(t, os.WriteFile(f.marker, []byte("2.1.0"), 0o644))

		f.svc.ReportBootState()

		msgs := f.platform.messages()
		require.Len(t, msgs, 2)
		requireFirmwareStatus(t, msgs[1], model.FirmwareStatusError, model.ErrorUnspecified)
		_, err := os.Stat(f.marker)
		require.True(t, os.IsNotExist(err))
	})

	t.Run("no marker", func(t *testing.T) {
		f := newFirmwareFixture(t)

		f.svc.ReportBootState()

		msgs := f.platform.messages()
		require.Len(t, msgs, 1)
		require.Equal(t, "d2p/firmware_version_update/g/GW", msgs[0].Channel)
	})
}
