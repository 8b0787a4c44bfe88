//go:build linux

// mdrd exposes Sony MDR headphones on the system bus.
//
// It registers an RFCOMM profile with bluetoothd; each device that
// connects gets a session object under /org/mdr/device/ with one
// D-Bus interface per supported headphone function.
//
// Running it usually requires a D-Bus policy that lets the daemon own
// org.mdr and talk to org.bluez.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	dbus "github.com/godbus/dbus/v5"

	"mdrd/internal/mdr/native"
	"mdrd/internal/profile"
	"mdrd/internal/reactor"
	"mdrd/internal/session"
)

func main() {
	busName := flag.String("bus-name", "org.mdr", "well-known bus name to request")
	serviceUUID := flag.String("uuid", profile.DefaultUUID, "service UUID to register with bluetoothd")
	channel := flag.Uint("channel", 0, "RFCOMM channel; 0 resolves it from the device's SDP record")
	logLevel := flag.String("log-level", "info", "log level: debug|info|warn|error")
	flag.Parse()

	log, err := newLogger(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *channel > 30 { // RFCOMM channels are 1-30
		fmt.Fprintf(os.Stderr, "invalid RFCOMM channel %d\n", *channel)
		os.Exit(2)
	}

	if err := run(log, *busName, *serviceUUID, uint16(*channel)); err != nil {
		log.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger, busName, serviceUUID string, channel uint16) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("connect to system bus: %w", err)
	}
	defer conn.Close()

	// Losing the name race is survivable: sessions still work, they
	// are just only reachable by unique connection name.
	reply, err := conn.RequestName(busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("request name %s: %w", busName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		log.Warn("bus name taken, continuing without it", "name", busName)
	}

	loop, err := reactor.New(log)
	if err != nil {
		return err
	}

	registry := session.NewRegistry(loop, conn, native.Open, log)

	prof, err := profile.Register(conn, loop, registry, serviceUUID, channel, log)
	if err != nil {
		return err
	}
	defer prof.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		loop.Post(registry.CloseAll)
		loop.Stop()
	}()

	log.Info("mdrd running", "bus", busName)
	return loop.Run(context.Background())
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}
