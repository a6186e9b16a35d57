package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"github.com/pingcap/errors"
)

const (
	StoreMemory   = "memory"
	StoreBadger   = "badger"
	StoreDynamoDB = "dynamodb"
)

type Config struct {
	// Store selects the backing store: memory, badger or dynamodb.
	Store     string `toml:"store"`
	LogLevel  string `toml:"log-level"`
	LogFormat string `toml:"log-format"`
	LogOutput string `toml:"log-output"`
	// Rotation of file log output.
	LogMaxSize    int `toml:"log-max-size"` // MB
	LogMaxBackups int `toml:"log-max-backups"`
	LogMaxDays    int `toml:"log-max-days"`

	DBPath string `toml:"db-path"` // Directory to store the data in. Should exist and be writable.

	// MaxExecutionTime is the wall clock budget of one bundle, measured from its start time.
	MaxExecutionTime Duration `toml:"max-execution-time"`
	// LockDuration is reported to callers as the time to wait before retrying a conflicting bundle.
	LockDuration Duration `toml:"lock-duration"`
	// BatchLimit is the largest atomic batch the store accepts.
	BatchLimit int `toml:"batch-limit"`

	DynamoTable    string `toml:"dynamo-table"`
	DynamoRegion   string `toml:"dynamo-region"`
	DynamoEndpoint string `toml:"dynamo-endpoint"`
	// DynamoRateLimit caps DynamoDB calls per second. 0 disables the limit.
	DynamoRateLimit float64 `toml:"dynamo-rate-limit"`

	Engine Engine `toml:"engine"`
}

// Engine holds the badger tuning knobs used by the standalone store.
type Engine struct {
	NumMemTables     int      `toml:"num-mem-tables"`
	NumL0Tables      int      `toml:"num-L0-tables"`
	NumL0TablesStall int      `toml:"num-L0-tables-stall"`
	VlogFileSize     ByteSize `toml:"vlog-file-size"`
	ValueThreshold   int      `toml:"value-threshold"`
	MaxTableSize     ByteSize `toml:"max-table-size"`
	NumCompactors    int      `toml:"num-compactors"`
	SyncWrites       bool     `toml:"sync-writes"`
	BlockCacheSize   ByteSize `toml:"block-cache-size"`
}

// Duration is a time.Duration which decodes from strings such as "25s" in config files.
type Duration struct {
	time.Duration
}

func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return errors.Trace(err)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ByteSize is a size in bytes which decodes from strings such as "64MB" or "1GiB" as well as plain integers.
type ByteSize uint64

func (b *ByteSize) UnmarshalText(text []byte) error {
	n, err := units.RAMInBytes(string(text))
	if err != nil {
		return errors.Trace(err)
	}
	if n < 0 {
		return errors.Errorf("negative size %q", text)
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(units.BytesSize(float64(b))), nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StoreBadger:
		if c.DBPath == "" {
			return fmt.Errorf("db-path must be set for the badger store")
		}
	case StoreDynamoDB:
		if c.DynamoTable == "" {
			return fmt.Errorf("dynamo-table must be set for the dynamodb store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}

	if c.MaxExecutionTime.Duration <= 0 {
		return fmt.Errorf("max-execution-time must be greater than 0")
	}

	if c.DynamoRateLimit < 0 {
		return fmt.Errorf("dynamo-rate-limit must not be negative")
	}

	if c.BatchLimit <= 0 {
		return fmt.Errorf("batch-limit must be greater than 0")
	}

	return nil
}

const (
	KB uint64 = 1024
	MB uint64 = 1024 * 1024
)

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

func NewDefaultConfig() *Config {
	return &Config{
		Store:            StoreBadger,
		LogLevel:         getLogLevel(),
		LogFormat:        "console",
		LogOutput:        "stderr",
		LogMaxSize:       300,
		LogMaxDays:       28,
		DBPath:           "/tmp/tinybundle",
		MaxExecutionTime: NewDuration(25 * time.Second),
		LockDuration:     NewDuration(35 * time.Second),
		BatchLimit:       25,
		DynamoTable:      "resource-db",
		DynamoRegion:     "us-west-2",
		Engine:           defaultEngine(),
	}
}

func NewTestConfig() *Config {
	return &Config{
		Store:            StoreMemory,
		LogLevel:         getLogLevel(),
		LogFormat:        "console",
		LogOutput:        "stderr",
		DBPath:           "/tmp/tinybundle-test",
		MaxExecutionTime: NewDuration(25 * time.Second),
		LockDuration:     NewDuration(35 * time.Second),
		BatchLimit:       25,
		DynamoTable:      "resource-db-test",
		DynamoRegion:     "us-west-2",
		Engine:           defaultEngine(),
	}
}

func defaultEngine() Engine {
	return Engine{
		NumMemTables:     3,
		NumL0Tables:      4,
		NumL0TablesStall: 8,
		VlogFileSize:     ByteSize(256 * MB),
		ValueThreshold:   256,
		MaxTableSize:     ByteSize(64 * MB),
		NumCompactors:    1,
		SyncWrites:       true,
		BlockCacheSize:   ByteSize(64 * MB),
	}
}

// LoadFile reads a TOML config file on top of the defaults and validates the result.
func LoadFile(path string) (*Config, error) {
	conf := NewDefaultConfig()
	if _, err := toml.DecodeFile(path, conf); err != nil {
		return nil, errors.Annotatef(err, "load config %s", path)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}
