// Package config holds the YAML-backed configuration of the shardkv
// command line tools. The engine itself takes explicit options at open
// time; config only decides what the tools open and how they log.
package config

type Config struct {
	Logger LoggerConfig `yaml:"logger"`
	Store  StoreConfig  `yaml:"store"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type StoreConfig struct {
	// Path is the shard base path; shard i lives at <path>.shardNN.log.
	Path string `yaml:"path"`

	Shards int `yaml:"shards"`

	// WriteThrough fsyncs every mutation before it returns.
	WriteThrough bool `yaml:"write_through"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "INFO",
			JSON:  false,
		},
		Store: StoreConfig{
			Path:         "./data/kv",
			Shards:       4,
			WriteThrough: false,
		},
	}
}
