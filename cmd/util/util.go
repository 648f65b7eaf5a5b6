// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package util

import (
	"fmt"

	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/metrics/exp"

	"github.com/offchainlabs/rollupcore/cmd/genericconf"
)

// StartMetrics starts process metrics collection and the metrics endpoint.
// Metrics must already be enabled, which geth only allows before any metric
// is registered.
func StartMetrics(enabled bool, config *genericconf.MetricsServerConfig) error {
	if !enabled {
		return nil
	}
	if !metrics.Enabled {
		return fmt.Errorf("metrics must be enabled via command line by adding --metrics, json config has no effect")
	}
	go metrics.CollectProcessMetrics(config.UpdateInterval)
	exp.Setup(fmt.Sprintf("%v:%v", config.Addr, config.Port))
	return nil
}
