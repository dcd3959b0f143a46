package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	typ    keyType
	key    string
	env    string
	secret bool
	apply  func(cfg *Config, v any)
	show   func(cfg Config) string
}

var specs = []keySpec{
	{
		typ: kInt, key: "server.port", env: "PROMPTBENCH_SERVER_PORT",
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		show:  func(cfg Config) string { return strconv.Itoa(cfg.Server.Port) },
	},
	{
		typ: kString, key: "server.api_token", env: "PROMPTBENCH_API_TOKEN", secret: true,
		apply: func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		show:  func(cfg Config) string { return cfg.Server.APIToken },
	},
	{
		typ: kString, key: "anthropic.api_key", env: "PROMPTBENCH_ANTHROPIC_API_KEY", secret: true,
		apply: func(cfg *Config, v any) { cfg.Anthropic.APIKey = v.(string) },
		show:  func(cfg Config) string { return cfg.Anthropic.APIKey },
	},
	{
		typ: kString, key: "anthropic.model", env: "PROMPTBENCH_ANTHROPIC_MODEL",
		apply: func(cfg *Config, v any) { cfg.Anthropic.Model = v.(string) },
		show:  func(cfg Config) string { return cfg.Anthropic.Model },
	},
	{
		typ: kString, key: "anthropic.base_url", env: "PROMPTBENCH_ANTHROPIC_BASE_URL",
		apply: func(cfg *Config, v any) { cfg.Anthropic.BaseURL = v.(string) },
		show:  func(cfg Config) string { return cfg.Anthropic.BaseURL },
	},
	{
		typ: kString, key: "storage.data_dir", env: "PROMPTBENCH_STORAGE_DATA_DIR",
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		show:  func(cfg Config) string { return cfg.Storage.DataDir },
	},
	{
		typ: kString, key: "log.level", env: "PROMPTBENCH_LOG_LEVEL",
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		show:  func(cfg Config) string { return cfg.Log.Level },
	},
}

// KV is a configuration key with its rendered value.
type KV struct {
	Key   string
	Value string
}

// ShowAll renders every configuration key for display. Secrets are
// masked, only their presence is reported.
func ShowAll(cfg Config) []KV {
	kvs := make([]KV, 0, len(specs))
	for _, s := range specs {
		v := s.show(cfg)
		if s.secret {
			if v == "" {
				v = "(not set)"
			} else {
				v = "(set)"
			}
		}
		kvs = append(kvs, KV{Key: s.key, Value: v})
	}
	return kvs
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
