package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"mpy-sync/internal/config"
	"mpy-sync/internal/events"
	"mpy-sync/internal/remotefs"
	"mpy-sync/internal/transport"
	"mpy-sync/internal/upload"
	"mpy-sync/internal/util"
)

// session is one open connection to the configured board.
type session struct {
	cfg   *config.Config
	ch    transport.Channel
	fs    *remotefs.FS
	index *upload.HashIndex

	unsubscribe []func()
}

// openSession loads the project config and connects to the board. With
// refresh set, the device tree is listed before returning.
func openSession(ctx context.Context, refresh bool) (*session, error) {
	cfg, err := config.LoadAndValidateConfig()
	if err != nil {
		return nil, err
	}
	return openSessionWith(ctx, cfg, refresh)
}

func openSessionWith(ctx context.Context, cfg *config.Config, refresh bool) (*session, error) {
	ch, err := transport.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open device channel: %w", err)
	}
	s := &session{cfg: cfg, ch: ch, fs: remotefs.New(ch)}
	s.unsubscribe = append(s.unsubscribe, s.fs.Subscribe(events.NewBridge()))

	ix, err := upload.OpenIndex(cfg.StatePath("index.db"), cfg.DeviceKey())
	if err != nil {
		log.Printf("[cmd] checksum index unavailable: %v", err)
	} else {
		s.index = ix
		s.unsubscribe = append(s.unsubscribe, s.fs.Subscribe(ix))
	}

	if refresh {
		util.Default.Printf("🔌 Reading %s (%s)...\n", deviceLabel(cfg), cfg.Device.Transport)
		if err := s.fs.Refresh(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *session) Close() {
	for _, u := range s.unsubscribe {
		u()
	}
	if s.index != nil {
		if err := s.index.Close(); err != nil {
			log.Printf("[cmd] closing index: %v", err)
		}
	}
	if err := s.ch.Close(); err != nil {
		log.Printf("[cmd] closing channel: %v", err)
	}
}

func deviceLabel(cfg *config.Config) string {
	if cfg.Device.Transport == config.TransportSSH {
		return fmt.Sprintf("%s@%s", cfg.Device.SSH.Username, cfg.Device.SSH.Host)
	}
	if cfg.Device.Port == "" {
		return "auto-detected board"
	}
	return cfg.Device.Port
}

// find resolves a user-supplied device path against the tree.
func (s *session) find(arg string) (*remotefs.Node, error) {
	n := s.fs.Find(arg)
	if n == nil {
		return nil, fmt.Errorf("%s: %w", displayPath(arg), transport.ErrNotFound)
	}
	return n, nil
}

// displayPath normalises a device path argument for messages.
func displayPath(arg string) string {
	if p := remotefs.Clean(arg); p != "" {
		return p
	}
	return "/"
}

// splitParent returns the parent directory and base name of a device path.
func splitParent(arg string) (string, string, error) {
	p := remotefs.Clean(arg)
	if p == "" {
		return "", "", errors.New("the root directory has no parent")
	}
	i := strings.LastIndexByte(p, '/')
	return p[:i], p[i+1:], nil
}

// reportDeviceError prints the device output carried by a transport error.
func reportDeviceError(err error) {
	var te *transport.TransportError
	if errors.As(err, &te) && strings.TrimSpace(te.Output) != "" {
		util.Default.PrintBlock(strings.TrimRight(te.Output, "\r\n"), false)
	}
}
