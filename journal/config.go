// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package journal

import (
	"fmt"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	flag "github.com/spf13/pflag"
)

type Config struct {
	DataDir string `koanf:"data-dir"`
	Cache   int    `koanf:"cache"`
	Handles int    `koanf:"handles"`
}

var ConfigDefault = Config{
	DataDir: "",
	Cache:   16,
	Handles: 16,
}

func ConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".data-dir", ConfigDefault.DataDir, "directory of the event journal database (empty keeps the journal in memory)")
	f.Int(prefix+".cache", ConfigDefault.Cache, "journal database cache size in MB")
	f.Int(prefix+".handles", ConfigDefault.Handles, "number of open file handles the journal database may use")
}

func (c *Config) Validate() error {
	if c.DataDir != "" && (c.Cache <= 0 || c.Handles <= 0) {
		return fmt.Errorf("journal cache (%d) and handles (%d) must be positive", c.Cache, c.Handles)
	}
	return nil
}

// OpenDatabase opens the LevelDB database under DataDir, or an in-memory
// database when DataDir is empty.
func OpenDatabase(config *Config) (ethdb.Database, error) {
	if config.DataDir == "" {
		return rawdb.NewMemoryDatabase(), nil
	}
	db, err := rawdb.NewLevelDBDatabase(config.DataDir, config.Cache, config.Handles, "rollupcore/journal/", false)
	if err != nil {
		return nil, fmt.Errorf("error opening journal database at %v: %w", config.DataDir, err)
	}
	return db, nil
}
