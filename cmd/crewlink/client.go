package main

import (
	"fmt"

	"crewlink/pkg/config"
	"crewlink/pkg/gateway"
)

// openClient resolves the configuration and dials the daemon socket.
func openClient() (*gateway.Client, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	cli, err := gateway.Dial(cfg.SocketPath)
	if err != nil {
		return nil, nil, fmt.Errorf("is the daemon running? %w", err)
	}
	return cli, cfg, nil
}
