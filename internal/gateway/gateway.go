// Package gateway assembles the bridge between the platform broker and the
// local device broker: configuration, persistence, both connections, the
// protocol services and the reconnect supervisors. cmd/gateway embeds it
// through the Gateway type.
package gateway

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edgebridge/gateway/internal/buffer"
	"github.com/edgebridge/gateway/internal/connectivity"
	"github.com/edgebridge/gateway/internal/logger"
	"github.com/edgebridge/gateway/internal/model"
	"github.com/edgebridge/gateway/internal/protocol"
	"github.com/edgebridge/gateway/internal/publishing"
	"github.com/edgebridge/gateway/internal/repository"
	"github.com/edgebridge/gateway/internal/service"
)

// reconnectDelay is the pause between broker connect attempts.
const reconnectDelay = 2000 * time.Millisecond

// localClientIDSuffix separates the local-broker session from the platform
// session, which uses the bare gateway key.
const localClientIDSuffix = "-gateway"

// Handlers are the host application's slots for the gateway's own device:
// actuation and configuration commands addressed to the gateway land here,
// state publications read from here. Nil members drop the command with a
// DEBUG log.
type Handlers struct {
	Actuation             func(reference, value string)
	ActuatorStatus        func(reference string) model.ActuatorStatus
	ConfigurationUpdate   func(items []model.ConfigurationItem)
	ConfigurationSnapshot func() []model.ConfigurationItem
}

// Options carries the embedding choices that do not come from the
// configuration file.
type Options struct {
	// FirmwareVersion is the version the running image reports; empty
	// skips the boot-state report.
	FirmwareVersion string
	// Installer applies firmware images addressed to the gateway itself.
	// Nil rejects such installs; child relay is unaffected.
	Installer service.Installer
	// URLDownloader replaces the HTTP downloader, for tests.
	URLDownloader service.URLFileDownloader

	Handlers Handlers
}

// side is one broker connection under supervision.
type side struct {
	lg      *logrus.Entry
	client  *connectivity.Service
	inbound *connectivity.Inbound
	lost    chan struct{}

	onConnected    func()
	onDisconnected func()
}

func (s *side) signalLost() {
	select {
	case s.lost <- struct{}{}:
	default:
	}
}

// Gateway is the assembled bridge. Build it with New, run it with Start,
// shut it down with Stop.
type Gateway struct {
	lg  *logrus.Entry
	cfg *Config

	devices *repository.DeviceRepository

	platformBuffer *buffer.CommandBuffer
	deviceBuffer   *buffer.CommandBuffer

	platformPublisher *publishing.Service
	devicePublisher   *publishing.Service

	registration *service.DeviceRegistrationService
	status       *service.DeviceStatusService
	keepAlive    *service.KeepAliveService // nil when disabled
	fileDownload *service.FileDownloadService
	firmware     *service.FirmwareUpdateService
	module       *moduleBridge

	platform *side
	device   *side

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New builds the gateway from the configuration: stores, both broker
// connections, the outbound queues and every protocol service, wired in
// dependency order. It does not connect; Start does.
func New(cfg *Config, opts Options) (*Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("gateway: missing configuration")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	for _, dir := range []string{cfg.DataDir, cfg.DownloadDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("gateway: create %s: %w", dir, err)
		}
	}

	db, err := repository.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	devices, err := repository.NewDeviceRepository(db)
	if err != nil {
		return nil, err
	}
	files, err := repository.NewFileRepository(db)
	if err != nil {
		return nil, err
	}
	outbox, err := repository.NewMessageStore(db)
	if err != nil {
		return nil, err
	}

	platformClient, err := connectivity.New(logger.Component("platform"), connectivity.Config{
		URI:            cfg.PlatformMQTTURI,
		ClientID:       cfg.Key,
		Username:       cfg.Key,
		Password:       cfg.Password,
		TrustStorePath: cfg.PlatformTrustStore,
		Will:           &connectivity.Will{Channel: protocol.LastWillChannel(cfg.Key)},
	})
	if err != nil {
		return nil, err
	}
	deviceClient, err := connectivity.New(logger.Component("local"), connectivity.Config{
		URI:      cfg.LocalMQTTURI,
		ClientID: cfg.Key + localClientIDSuffix,
	})
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		lg:      logger.Component("gateway"),
		cfg:     cfg,
		devices: devices,
		done:    make(chan struct{}),
	}

	g.platformBuffer = buffer.New()
	g.deviceBuffer = buffer.New()
	platformInbound := connectivity.NewInbound(logger.Component("platform"), g.platformBuffer)
	deviceInbound := connectivity.NewInbound(logger.Component("local"), g.deviceBuffer)

	g.platformPublisher = publishing.New(logger.Component("publisher"), platformClient, outbox)
	g.devicePublisher = publishing.New(logger.Component("local-publisher"), deviceClient, nil)

	resolver := service.NewResolver(logger.Component("data"))
	data := service.NewDataService(logger.Component("data"), cfg.Key, cfg.SubdeviceManagement,
		protocol.JSONData{}, devices, g.platformPublisher, g.devicePublisher)
	resolver.Register(protocol.JSONData{}, data)

	g.registration = service.NewDeviceRegistrationService(logger.Component("registration"), cfg.Key,
		cfg.SubdeviceManagement, devices, g.platformPublisher, g.devicePublisher)
	g.status = service.NewDeviceStatusService(logger.Component("status"), cfg.Key, g.platformPublisher)
	if cfg.KeepAliveEnabled() {
		g.keepAlive = service.NewKeepAliveService(logger.Component("keepalive"), cfg.Key,
			g.platformPublisher, service.DefaultKeepAliveInterval)
	}

	g.fileDownload = service.NewFileDownloadService(logger.Component("file"), cfg.Key,
		cfg.DownloadDir(), cfg.MaxFileSizeBytes(), cfg.MaxPacketSize, files, g.platformPublisher)
	downloader := opts.URLDownloader
	if downloader == nil {
		downloader = service.NewHTTPFileDownloader(logger.Component("download"))
	}
	g.firmware = service.NewFirmwareUpdateService(logger.Component("firmware"), service.FirmwareUpdateConfig{
		GatewayKey:  cfg.Key,
		Version:     opts.FirmwareVersion,
		DownloadDir: cfg.DownloadDir(),
		MarkerPath:  cfg.VersionMarkerPath(),
	}, files, downloader, opts.Installer, g.platformPublisher, g.devicePublisher)
	g.fileDownload.SetTransferListener(g.firmware)

	g.module = &moduleBridge{
		lg:                    logger.Component("module"),
		gatewayKey:            cfg.Key,
		manifest:              cfg.Manifest,
		actuation:             opts.Handlers.Actuation,
		actuatorStatus:        opts.Handlers.ActuatorStatus,
		configurationUpdate:   opts.Handlers.ConfigurationUpdate,
		configurationSnapshot: opts.Handlers.ConfigurationSnapshot,
		platform:              g.platformPublisher,
	}
	g.status.SetGatewayModuleConnectedHandler(g.module.publishState)
	g.registration.SetDeviceRegisteredHandler(func(deviceKey string, isGateway bool) {
		if isGateway {
			g.module.publishState()
		}
	})

	// Platform routes. Registration order is dispatch precedence: the
	// gateway's own actuation channels must precede the resolver's
	// device wildcards.
	platformInbound.Add(protocol.PlatformRegistrationChannels(cfg.Key), g.registration.PlatformMessageReceived)
	platformInbound.Add(protocol.PlatformFirmwareChannels(cfg.Key), g.firmware.PlatformMessageReceived)
	platformInbound.Add(protocol.PlatformFileChannels(cfg.Key), g.fileDownload.PlatformMessageReceived)
	if g.keepAlive != nil {
		platformInbound.Add([]string{protocol.PongChannel(cfg.Key)}, g.keepAlive.PlatformMessageReceived)
	}
	platformInbound.Add(protocol.PlatformStatusChannels(cfg.Key), g.status.PlatformMessageReceived)
	platformInbound.Add(g.module.channels(), g.module.messageReceived)
	platformInbound.Add(resolver.PlatformChannels(cfg.Key), resolver.PlatformMessageReceived)

	deviceInbound.Add(protocol.DeviceRegistrationChannels(), g.registration.DeviceMessageReceived)
	deviceInbound.Add(protocol.DeviceFirmwareChannels(), g.firmware.DeviceMessageReceived)
	deviceInbound.Add(protocol.DeviceStatusChannels(), g.status.DeviceMessageReceived)
	deviceInbound.Add(resolver.DeviceChannels(), resolver.DeviceMessageReceived)

	platformClient.SetMessageHandler(platformInbound.Dispatch)
	deviceClient.SetMessageHandler(deviceInbound.Dispatch)

	g.platform = &side{
		lg:      logger.Component("platform"),
		client:  platformClient,
		inbound: platformInbound,
		lost:    make(chan struct{}, 1),
		onConnected: func() {
			g.platformPublisher.Connected()
			if g.keepAlive != nil {
				g.keepAlive.Connected()
			}
			g.registration.RegisterGateway(cfg.Manifest.Name, cfg.Manifest)
		},
		onDisconnected: func() {
			g.platformPublisher.Disconnected()
			if g.keepAlive != nil {
				g.keepAlive.Disconnected()
			}
		},
	}
	g.device = &side{
		lg:             logger.Component("local"),
		client:         deviceClient,
		inbound:        deviceInbound,
		lost:           make(chan struct{}, 1),
		onConnected:    g.devicePublisher.Connected,
		onDisconnected: g.devicePublisher.Disconnected,
	}
	platformClient.SetConnectionLostHandler(func(error) { g.platform.signalLost() })
	deviceClient.SetConnectionLostHandler(func(error) { g.device.signalLost() })

	return g, nil
}

// Start reports the firmware boot state and launches one reconnect
// supervisor per broker side. It returns immediately; the supervisors retry
// until Stop.
func (g *Gateway) Start() {
	g.startOnce.Do(func() {
		if g.firmware.Version() != "" {
			g.firmware.ReportBootState()
		}
		g.wg.Add(2)
		go g.supervise(g.platform)
		go g.supervise(g.device)
	})
}

// supervise owns one broker side: connect, resubscribe the inbound channel
// set, signal the side's services, then wait for loss or shutdown.
func (g *Gateway) supervise(s *side) {
	defer g.wg.Done()
	for {
		select {
		case <-g.done:
			return
		default:
		}
		// Drop a loss signal left over from the previous session.
		select {
		case <-s.lost:
		default:
		}
		if err := s.client.Connect(); err != nil {
			s.lg.WithError(err).Warn("broker connect failed")
			select {
			case <-time.After(reconnectDelay):
				continue
			case <-g.done:
				return
			}
		}
		if err := s.client.Subscribe(s.inbound.Channels()...); err != nil {
			s.lg.WithError(err).Warn("broker subscribe failed")
			s.client.Disconnect()
			select {
			case <-time.After(reconnectDelay):
				continue
			case <-g.done:
				return
			}
		}
		s.onConnected()
		select {
		case <-s.lost:
			s.onDisconnected()
		case <-g.done:
			return
		}
	}
}

// Stop shuts the gateway down: supervisors first, then the worker-owning
// services, the command buffers, the outbound queues, and finally both
// broker sessions. Safe to call more than once.
func (g *Gateway) Stop() {
	g.stopOnce.Do(func() {
		close(g.done)
		g.wg.Wait()
		if g.keepAlive != nil {
			g.keepAlive.Stop()
		}
		g.fileDownload.Stop()
		g.platformBuffer.Stop()
		g.deviceBuffer.Stop()
		g.platformPublisher.Stop()
		g.devicePublisher.Stop()
		if g.platform.client.IsConnected() {
			g.platform.client.Disconnect()
		}
		if g.device.client.IsConnected() {
			g.device.client.Disconnect()
		}
		g.lg.Info("gateway stopped")
	})
}

// AddReading queues a sensor reading of the gateway's own device for the
// platform. The reference must name a sensor slot of the manifest.
func (g *Gateway) AddReading(reading model.Reading) error {
	sensor := g.cfg.Manifest.SensorByReference(reading.Reference)
	if sensor == nil {
		return fmt.Errorf("gateway: no sensor %q in manifest", reading.Reference)
	}
	msg, err := protocol.MakeReadingMessage(g.cfg.Key, g.cfg.Key, reading, sensor.Delimiter)
	if err != nil {
		return err
	}
	g.platformPublisher.AddMessage(msg)
	return nil
}

// AddAlarm queues an alarm event of the gateway's own device for the
// platform.
func (g *Gateway) AddAlarm(alarm model.Alarm) error {
	if g.cfg.Manifest.AlarmByReference(alarm.Reference) == nil {
		return fmt.Errorf("gateway: no alarm %q in manifest", alarm.Reference)
	}
	msg, err := protocol.MakeAlarmMessage(g.cfg.Key, g.cfg.Key, alarm)
	if err != nil {
		return err
	}
	g.platformPublisher.AddMessage(msg)
	return nil
}

// PublishState pushes the status of every gateway actuator slot and the
// current configuration. Hosts call it after local state changes.
func (g *Gateway) PublishState() { g.module.publishState() }

// DeleteDevicesOtherThan removes every registered child device whose key is
// not listed, notifying the platform per removed device.
func (g *Gateway) DeleteDevicesOtherThan(keep []string) {
	g.registration.DeleteDevicesOtherThan(keep)
}

// LastPlatformTimestamp returns the latest keep-alive timestamp received
// from the platform, in seconds. Zero before the first pong or with
// keep-alive disabled.
func (g *Gateway) LastPlatformTimestamp() int64 {
	if g.keepAlive == nil {
		return 0
	}
	return g.keepAlive.LastPlatformTimestamp()
}

// FirmwareVersion returns the version the running image reports.
func (g *Gateway) FirmwareVersion() string { return g.firmware.Version() }
