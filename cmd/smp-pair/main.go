// Command smp-pair pairs two simulated devices from an interactive prompt.
//
// A central and a peripheral Security Manager share a loopback link. Their
// passkeys, comparison values and outcomes are shown on the console and the
// user answers for both.
//
// Usage:
//
//	smp-pair [flags]
//
// Flags:
//
//	-central string       Central configuration file (YAML)
//	-peripheral string    Peripheral configuration file (YAML)
//	-bonds string         Directory for the bond files (default ".")
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-protocol-log string  File path for protocol event logging (CBOR format)
//
// Examples:
//
//	# Numeric comparison between two display-yes-no devices
//	smp-pair -central central.yaml -peripheral peripheral.yaml
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"path/filepath"

	"github.com/mash-protocol/blesmp/cmd/smp-pair/interactive"
	smplog "github.com/mash-protocol/blesmp/pkg/log"
	"github.com/mash-protocol/blesmp/pkg/loopback"
	"github.com/mash-protocol/blesmp/pkg/persistence"
	"github.com/mash-protocol/blesmp/pkg/smp"
)

var (
	centralConfig    = flag.String("central", "", "Central configuration file (YAML)")
	peripheralConfig = flag.String("peripheral", "", "Peripheral configuration file (YAML)")
	bondDir          = flag.String("bonds", ".", "Directory for the bond files")
	logLevel         = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	protocolLog      = flag.String("protocol-log", "", "File path for protocol event logging (CBOR format)")
)

var defaultAddresses = map[string]smp.Address{
	"central":    {Type: smp.AddressPublic, Addr: [6]byte{0x00, 0x1b, 0xdc, 0x00, 0x00, 0x01}},
	"peripheral": {Type: smp.AddressPublic, Addr: [6]byte{0x00, 0x1b, 0xdc, 0x00, 0x00, 0x02}},
}

func loadConfig(name, path string) smp.Config {
	cfg := smp.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = smp.LoadConfig(path); err != nil {
			log.Fatalf("%s: %v", name, err)
		}
	}
	if cfg.IdentityAddress == (smp.Address{}) {
		cfg.IdentityAddress = defaultAddresses[name]
	}
	return cfg
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		log.Fatalf("Invalid log level %q", s)
	}
	return l
}

func main() {
	flag.Parse()

	cfgs := map[string]smp.Config{
		"central":    loadConfig("central", *centralConfig),
		"peripheral": loadConfig("peripheral", *peripheralConfig),
	}

	link := loopback.New(cfgs["central"].IdentityAddress, cfgs["peripheral"].IdentityAddress, nil)
	console, err := interactive.New(link)
	if err != nil {
		log.Fatalf("Failed to start console: %v", err)
	}
	log.SetOutput(console.Stdout())

	level := parseLevel(*logLevel)
	logger := slog.New(slog.NewTextHandler(console.Stdout(), &slog.HandlerOptions{Level: level}))

	var sinks []smplog.Logger
	if *protocolLog != "" {
		fileLogger, err := smplog.NewFileLogger(*protocolLog)
		if err != nil {
			log.Fatalf("Failed to create protocol logger: %v", err)
		}
		defer fileLogger.Close()
		sinks = append(sinks, fileLogger)
	}
	if level <= slog.LevelDebug {
		sinks = append(sinks, smplog.NewSlogAdapter(logger.With("source", "protocol")))
	}
	var protocolLogger smplog.Logger
	if len(sinks) > 0 {
		protocolLogger = smplog.NewMultiLogger(sinks...)
	}

	ends := map[string]*loopback.End{"central": link.A(), "peripheral": link.B()}
	for _, name := range []string{"central", "peripheral"} {
		cfg := cfgs[name]
		cfg.Logger = logger.With("device", name)
		cfg.ProtocolLogger = protocolLogger

		bonds := persistence.NewBondStore(filepath.Join(*bondDir, name+"-bonds.json"))
		m, err := smp.NewManager(cfg, ends[name], bonds, console.Handler(name))
		if err != nil {
			log.Fatalf("%s: %v", name, err)
		}
		defer m.Close()

		ends[name].Bind(m)
		console.Attach(&interactive.Device{Name: name, Manager: m, End: ends[name], Bonds: bonds})
		log.Printf("%s %s io=%s auth=%s", name, cfg.IdentityAddress, cfg.IOCapability, cfg.AuthReq)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	console.Run(ctx, cancel)
}
