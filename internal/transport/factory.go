package transport

import (
	"fmt"

	"mpy-sync/internal/config"
)

// NewFromConfig builds the serialized channel described by cfg.Device.
func NewFromConfig(cfg *config.Config) (Channel, error) {
	timeouts := Timeouts{Short: cfg.Timeouts.Short, Long: cfg.Timeouts.Long}

	switch cfg.Device.Transport {
	case config.TransportMpremote, "":
		return Locked(NewMpremote(cfg.Device.Python, cfg.Device.Port, timeouts)), nil
	case config.TransportSSH:
		client, err := NewSSH(SSHOptions{
			Host:       cfg.Device.SSH.Host,
			Port:       cfg.Device.SSH.Port,
			Username:   cfg.Device.SSH.Username,
			PrivateKey: config.ExpandHome(cfg.Device.SSH.PrivateKey),
			Password:   cfg.Device.SSH.Password,
			Python:     cfg.Device.Python,
			DevicePort: cfg.Device.Port,
			Timeouts:   timeouts,
		})
		if err != nil {
			return nil, err
		}
		return Locked(client), nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Device.Transport)
	}
}
