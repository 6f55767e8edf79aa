package main

import (
	"fmt"

	"github.com/reqtrack/reqtrack/internal/client"
	"github.com/reqtrack/reqtrack/internal/config"
)

var newAPIClient = func() (*client.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return client.New(cfg.Client.BaseURL), nil
}
