// SPDX-License-Identifier: AGPL-3.0-or-later
package kv_test

import "github.com/speechgraph/sgraph/internal/config"

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.KV.Enabled = false
	return &cfg
}
