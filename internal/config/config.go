package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvConfigPath 指向可选的配置文件（toml/yaml/json，按扩展名识别）。
const EnvConfigPath = "KLINERELAY_CONFIG"

// envKeys 列出所有可由环境变量覆盖的配置键；键名中的 "." 映射为 "_"，
// 例如 stream.reconnect_delay -> STREAM_RECONNECT_DELAY。
var envKeys = []string{
	"app.env",
	"app.log_level",
	"app.debug",
	"app.log_path",
	"http.port",
	"http.cors_origins",
	"http.shutdown_timeout",
	"upstream.rest_base_url",
	"upstream.stream_url",
	"upstream.http_timeout",
	"upstream.handshake_timeout",
	"upstream.read_timeout",
	"upstream.proxy_url",
	"stream.reconnect_delay",
	"stream.max_reconnect_attempts",
	"stream.send_buffer",
	"stream.write_timeout",
	"stream.ping_interval",
	"history.default_symbol",
	"history.default_interval",
	"history.default_limit",
	"history.max_limit",
	"history.breaker_threshold",
	"history.breaker_cooldown",
}

// envAliases 兼容前端部署常用的短变量名。
var envAliases = map[string][]string{
	"http.port":         {"PORT"},
	"http.cors_origins": {"CORS_ORIGINS"},
	"app.debug":         {"DEBUG"},
}

// Load 读取 .env、可选配置文件与环境变量，环境变量优先。path 为空时仅使用环境变量。
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		names := append([]string{strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, envAliases[key]...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("binding env for %s failed: %w", key, err)
		}
	}
	if path = strings.TrimSpace(path); path != "" {
		if err := mergeConfigFile(v, path); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	setKeys := make(keySet)
	collectSettingsKeys(v.AllSettings(), setKeys)
	cfg.HTTP.CORSOrigins = trimAll(cfg.HTTP.CORSOrigins)
	cfg.applyDefaults(setKeys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env failed: %w", err)
	}
	return nil
}

func mergeConfigFile(v *viper.Viper, path string) error {
	tmp := viper.New()
	tmp.SetConfigFile(path)
	if err := tmp.ReadInConfig(); err != nil {
		return err
	}
	return v.MergeConfigMap(tmp.AllSettings())
}

func trimAll(items []string) []string {
	out := items[:0]
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func collectSettingsKeys(settings map[string]any, dest keySet) {
	if dest == nil || len(settings) == 0 {
		return
	}
	flattenConfigKeys("", settings, dest)
}

func flattenConfigKeys(prefix string, node any, dest keySet) {
	switch val := node.(type) {
	case map[string]any:
		for k, v := range val {
			next := strings.ToLower(strings.TrimSpace(k))
			if next == "" {
				continue
			}
			if prefix != "" {
				next = prefix + "." + next
			}
			flattenConfigKeys(next, v, dest)
		}
	default:
		if prefix != "" {
			dest.mark(prefix)
		}
	}
}
