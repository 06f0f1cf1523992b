package service

import (
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/edgebridge/gateway/internal/model"
	"github.com/edgebridge/gateway/internal/protocol"
)

// Installer applies a downloaded firmware image on the gateway itself. A
// successful install replaces the running process and does not return.
type Installer interface {
	Install(path string) error
}

// FirmwareUpdateConfig carries the identity and paths of the firmware
// update service.
type FirmwareUpdateConfig struct {
	GatewayKey  string
	Version     string
	DownloadDir string
	MarkerPath  string // version marker written just before installing
}

type updateSession struct {
	fileName string
	fromURL  bool
	status   model.FirmwareStatus
}

// FirmwareUpdateService runs the gateway's own update sessions and relays
// child update traffic. Gateway sessions move IDLE → FILE_TRANSFER →
// FILE_READY → INSTALLATION; terminal states (COMPLETED, ABORTED, ERROR)
// return the service to IDLE.
type FirmwareUpdateService struct {
	lg         *logrus.Entry
	cfg        FirmwareUpdateConfig
	files      FileStore
	downloader URLFileDownloader
	installer  Installer
	platform   Publisher
	device     Publisher

	mu      sync.Mutex
	session *updateSession
}

// NewFirmwareUpdateService builds the firmware update service. Child relay
// always works; a nil installer rejects installs addressed to the gateway
// itself.
func NewFirmwareUpdateService(lg *logrus.Entry, cfg FirmwareUpdateConfig, files FileStore,
	downloader URLFileDownloader, installer Installer, platform, device Publisher) *FirmwareUpdateService {
	return &FirmwareUpdateService{
		lg:         lg,
		cfg:        cfg,
		files:      files,
		downloader: downloader,
		installer:  installer,
		platform:   platform,
		device:     device,
	}
}

// Version returns the running firmware version.
func (s *FirmwareUpdateService) Version() string { return s.cfg.Version }

// ReportBootState publishes the running version and resolves the outcome of
// an installation started before the last restart: a version marker with a
// different version means the install took, the same version means it did
// not.
func (s *FirmwareUpdateService) ReportBootState() {
	s.platform.AddMessage(protocol.MakeFirmwareVersionMessage(s.cfg.GatewayKey, s.cfg.GatewayKey, s.cfg.Version))

	data, err := os.ReadFile(s.cfg.MarkerPath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.lg.WithError(err).Error("failed to read version marker")
		}
		return
	}
	previous := strings.TrimSpace(string(data))
	if previous != "" && previous != s.cfg.Version {
		s.lg.WithFields(logrus.Fields{"from": previous, "to": s.cfg.Version}).Info("firmware update completed")
		s.reportStatus(model.FirmwareStatusCompleted, "")
	} else {
		s.lg.Warn("firmware version unchanged after installation")
		s.reportStatus(model.FirmwareStatusError, model.ErrorUnspecified)
	}
	if err := os.Remove(s.cfg.MarkerPath); err != nil {
		s.lg.WithError(err).Error("failed to remove version marker")
	}
}

// PlatformMessageReceived handles a firmware command: the gateway's own
// commands run the local session, child commands are forwarded down.
func (s *FirmwareUpdateService) PlatformMessageReceived(msg *model.Message) {
	deviceKey, err := protocol.DeviceKeyFromChannel(msg.Channel)
	if err != nil {
		deviceKey = s.cfg.GatewayKey
	}
	cmd, err := protocol.ParseFirmwareCommand(msg.Content)
	if err != nil {
		s.lg.WithField("channel", msg.Channel).WithError(err).Warn("malformed firmware command dropped")
		return
	}

	if deviceKey != s.cfg.GatewayKey {
		s.lg.WithFields(logrus.Fields{"device": deviceKey, "command": cmd.Command}).
			Debug("forwarding firmware command")
		s.device.AddMessage(protocol.MakeFirmwareCommandForwardMessage(deviceKey, msg.Content))
		return
	}

	switch cmd.Command {
	case model.FirmwareCommandInstall:
		s.handleInstall(cmd)
	case model.FirmwareCommandAbort:
		s.handleAbort()
	default:
		s.lg.WithField("command", cmd.Command).Warn("unknown firmware command dropped")
	}
}

// DeviceMessageReceived forwards a child's firmware status or version report
// to the platform.
func (s *FirmwareUpdateService) DeviceMessageReceived(msg *model.Message) {
	channel, err := protocol.RouteDeviceToPlatform(msg.Channel, s.cfg.GatewayKey)
	if err != nil {
		s.lg.WithField("channel", msg.Channel).Warn("unroutable firmware report dropped")
		return
	}
	s.platform.AddMessage(model.NewMessage(channel, msg.Content))
}

// TransferCompleted implements TransferListener for file-backed sessions.
func (s *FirmwareUpdateService) TransferCompleted(name, path string) {
	s.mu.Lock()
	sess := s.session
	if sess == nil || sess.fromURL || sess.fileName != name || sess.status != model.FirmwareStatusFileTransfer {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.fileReady(path)
}

// TransferFailed implements TransferListener.
func (s *FirmwareUpdateService) TransferFailed(name string, code model.ErrorCode) {
	s.mu.Lock()
	sess := s.session
	if sess == nil || sess.fromURL || sess.fileName != name {
		s.mu.Unlock()
		return
	}
	s.session = nil
	s.mu.Unlock()
	s.lg.WithFields(logrus.Fields{"file": name, "code": code}).Warn("firmware file transfer failed")
	s.reportStatus(model.FirmwareStatusError, code)
}

// TransferAborted implements TransferListener.
func (s *FirmwareUpdateService) TransferAborted(name string) {
	s.mu.Lock()
	sess := s.session
	if sess == nil || sess.fromURL || sess.fileName != name {
		s.mu.Unlock()
		return
	}
	s.session = nil
	s.mu.Unlock()
	s.lg.WithField("file", name).Info("firmware file transfer aborted")
	s.reportStatus(model.FirmwareStatusAborted, "")
}

func (s *FirmwareUpdateService) handleInstall(cmd model.FirmwareCommand) {
	if s.installer == nil {
		s.lg.Warn("no installer configured, install command rejected")
		s.reportStatus(model.FirmwareStatusError, model.ErrorUnspecified)
		return
	}
	s.mu.Lock()
	if s.session != nil {
		s.mu.Unlock()
		s.lg.Warn("firmware update already in progress, command dropped")
		return
	}

	switch {
	case cmd.FileName != "":
		s.session = &updateSession{fileName: cmd.FileName, status: model.FirmwareStatusFileTransfer}
		s.mu.Unlock()
		s.lg.WithField("file", cmd.FileName).Info("firmware update started")
		s.reportStatus(model.FirmwareStatusFileTransfer, "")

		info, err := s.files.Get(cmd.FileName)
		if err != nil {
			s.lg.WithField("file", cmd.FileName).WithError(err).Error("file lookup failed")
			info = nil
		}
		if info != nil {
			s.fileReady(info.Path)
		}
		// Otherwise the platform drives the chunked transfer; the
		// transfer listener picks the session up.
	case cmd.FileURL != "":
		s.session = &updateSession{fileName: cmd.FileURL, fromURL: true, status: model.FirmwareStatusFileTransfer}
		s.mu.Unlock()
		s.lg.WithField("url", cmd.FileURL).Info("firmware update started")
		s.reportStatus(model.FirmwareStatusFileTransfer, "")
		s.downloader.Download(cmd.FileURL, s.cfg.DownloadDir, s.urlDownloadCompleted, s.urlDownloadFailed)
	default:
		s.mu.Unlock()
		s.lg.Warn("install command names neither file nor url")
		s.reportStatus(model.FirmwareStatusError, model.ErrorUnspecified)
	}
}

func (s *FirmwareUpdateService) handleAbort() {
	s.mu.Lock()
	sess := s.session
	s.session = nil
	s.mu.Unlock()
	if sess == nil {
		s.lg.Debug("abort without update in progress ignored")
		return
	}
	if sess.fromURL {
		s.downloader.Abort()
	}
	s.lg.Info("firmware update aborted")
	s.reportStatus(model.FirmwareStatusAborted, "")
}

func (s *FirmwareUpdateService) urlDownloadCompleted(path string) {
	s.mu.Lock()
	sess := s.session
	if sess == nil || !sess.fromURL || sess.status != model.FirmwareStatusFileTransfer {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.fileReady(path)
}

func (s *FirmwareUpdateService) urlDownloadFailed(code model.ErrorCode) {
	s.mu.Lock()
	sess := s.session
	if sess == nil || !sess.fromURL {
		s.mu.Unlock()
		return
	}
	s.session = nil
	s.mu.Unlock()
	if code == "" {
		code = model.ErrorUnspecified
	}
	s.lg.WithField("code", code).Warn("firmware download failed")
	s.reportStatus(model.FirmwareStatusError, code)
}

func (s *FirmwareUpdateService) fileReady(path string) {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return
	}
	s.session.status = model.FirmwareStatusFileReady
	s.mu.Unlock()
	s.reportStatus(model.FirmwareStatusFileReady, "")
	s.install(path)
}

func (s *FirmwareUpdateService) install(path string) {
	if err := os.WriteFile(s.cfg.MarkerPath, []byte(s.cfg.Version), 0o644); err != nil {
		s.lg.WithError(err).Error("failed to write version marker")
		s.clearSession()
		s.reportStatus(model.FirmwareStatusError, model.ErrorFileSystem)
		return
	}

	s.mu.Lock()
	if s.session != nil {
		s.session.status = model.FirmwareStatusInstallation
	}
	s.mu.Unlock()
	s.reportStatus(model.FirmwareStatusInstallation, "")
	s.lg.WithField("path", path).Info("installing firmware")

	if err := s.installer.Install(path); err != nil {
		s.lg.WithError(err).Error("firmware installation failed")
		if rmErr := os.Remove(s.cfg.MarkerPath); rmErr != nil && !os.IsNotExist(rmErr) {
			s.lg.WithError(rmErr).Error("failed to remove version marker")
		}
		s.clearSession()
		s.reportStatus(model.FirmwareStatusError, model.ErrorUnspecified)
		return
	}
	// A successful install replaced the process; reaching this point means
	// the installer declined without error, so hold the session until the
	// boot check resolves it.
}

func (s *FirmwareUpdateService) clearSession() {
	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()
}

func (s *FirmwareUpdateService) reportStatus(status model.FirmwareStatus, code model.ErrorCode) {
	out, err := protocol.MakeFirmwareStatusMessage(s.cfg.GatewayKey, s.cfg.GatewayKey, status, code)
	if err != nil {
		s.lg.WithError(err).Error("failed to encode firmware status")
		return
	}
	s.platform.AddMessage(out)
}
