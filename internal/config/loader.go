// SPDX-License-Identifier: AGPL-3.0-or-later
package config

import (
	"context"
	"fmt"

	"github.com/USA-RedDragon/configulator"
)

// NewContext attaches a configulator instance seeded with Default() to ctx,
// the way cmd/ wires it up before cobra's RunE fires.
func NewContext(ctx context.Context, configPath string) (context.Context, error) {
	c, err := configulator.New[Config](
		configulator.WithDefault(Default()),
	)
	if err != nil {
		return ctx, fmt.Errorf("failed to build configulator: %w", err)
	}
	if configPath != "" {
		c = c.WithConfigPath(configPath)
	}
	return c.IntoContext(ctx), nil
}

// FromContext loads the Config carried by ctx, applying YAML/env overrides
// on top of Default().
func FromContext(ctx context.Context) (*Config, error) {
	c, err := configulator.FromContext[Config](ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get config from context: %w", err)
	}
	cfg, err := c.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
