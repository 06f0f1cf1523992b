// Command gateway bridges an IoT platform broker and a local device broker.
//
//	gateway <configFile> [<logLevel>] [<firmwareVersion>]
//
// The configured manifest is registered as the gateway's own device; a demo
// loop feeds generated readings for each of its sensor slots, and actuation
// and configuration commands addressed to the gateway operate on in-memory
// demo state.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edgebridge/gateway/internal/connectivity"
	"github.com/edgebridge/gateway/internal/gateway"
	"github.com/edgebridge/gateway/internal/logger"
	"github.com/edgebridge/gateway/internal/model"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	parsed, err := parseArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n%s\n", err, usage)
		return -1
	}

	lg := logger.Component("main")
	if err := logger.SetLevel(parsed.logLevel); err != nil {
		lg.WithError(err).Warn("unknown log level, keeping default")
	}
	connectivity.BridgePahoLogging(logger.Component("mqtt"))

	cfg, err := gateway.LoadConfig(parsed.configPath)
	if err != nil {
		lg.WithError(err).Error("failed to load configuration")
		return -1
	}

	state := newModuleState(cfg.Manifest)
	opts := gateway.Options{
		FirmwareVersion: parsed.version(),
		Handlers:        state.handlers(),
	}
	if cfg.Manifest.FirmwareUpdateProtocol != "" {
		opts.Installer = &selfInstaller{
			lg:            logger.Component("installer"),
			configPath:    parsed.configPath,
			logLevel:      parsed.logLevel,
			versionNumber: parsed.versionNumber,
		}
	}

	gw, err := gateway.New(cfg, opts)
	if err != nil {
		lg.WithError(err).Error("failed to build gateway")
		return -1
	}
	defer gw.Stop()
	gw.Start()
	lg.WithField("version", parsed.version()).Info("gateway running")

	gen := newReadingGenerator(cfg.Generator)
	ticker := time.NewTicker(time.Duration(cfg.ReadingsInterval) * time.Millisecond)
	defer ticker.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sig:
			lg.Info("shutting down")
			return 0
		case <-ticker.C:
			publishReadings(lg, gw, cfg.Manifest, gen)
		}
	}
}

// publishReadings queues one generated reading per sensor slot. Readings
// carry no timestamp; the platform stamps them on arrival.
func publishReadings(lg *logrus.Entry, gw *gateway.Gateway, manifest *model.DeviceTemplate, gen *readingGenerator) {
	for i := range manifest.Sensors {
		sensor := manifest.Sensors[i]
		reading := model.Reading{Reference: sensor.Reference, Values: gen.next(sensor)}
		if err := gw.AddReading(reading); err != nil {
			lg.WithField("reference", sensor.Reference).WithError(err).Warn("failed to queue reading")
		}
	}
}
