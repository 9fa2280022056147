package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var (
	ErrReadConfig    = errors.New("failed to read config file")
	ErrFormatConfig  = errors.New("invalid config file format")
	ErrInvalidConfig = errors.New("invalid config value")
)

const (
	// EnvPrefix 环境变量前缀，例如 LOBBY_WEBSOCKET_URL
	EnvPrefix = "lobby"
	// FileName 本地覆盖文件名（不含扩展名），在 "." 与用户目录下查找
	FileName = "lobby"
)

// defaults 打包的默认值；环境变量与本地文件会覆盖它们
var defaults = map[string]any{
	"websocket_url":               "",
	"connection_timeout":          10.0,
	"position_broadcast_interval": 0.2,
	"max_retry_attempts":          3,
	"reconnect_delay":             2.0,
	"enable_debug_logs":           true,
	"auto_reconnect":              true,
	"player_id":                   "",
	"position_dead_band":          5.0,
	"log_file":                    "lobbylink.log",
	"metrics_addr":                "",
	"tick_rate":                   20,
}

// fileConfig 与配置键一一对应的原始结构（秒为单位的浮点数）
type fileConfig struct {
	WebsocketURL              string  `mapstructure:"websocket_url"`
	ConnectionTimeout         float64 `mapstructure:"connection_timeout"`
	PositionBroadcastInterval float64 `mapstructure:"position_broadcast_interval"`
	MaxRetryAttempts          int     `mapstructure:"max_retry_attempts"`
	ReconnectDelay            float64 `mapstructure:"reconnect_delay"`
	EnableDebugLogs           bool    `mapstructure:"enable_debug_logs"`
	AutoReconnect             bool    `mapstructure:"auto_reconnect"`
	PlayerID                  string  `mapstructure:"player_id"`
	PositionDeadBand          float64 `mapstructure:"position_dead_band"`
	LogFile                   string  `mapstructure:"log_file"`
	MetricsAddr               string  `mapstructure:"metrics_addr"`
	TickRate                  int     `mapstructure:"tick_rate"`
}

// Settings 解析完成后的只读配置记录
type Settings struct {
	ServerURL                 string
	ConnectionTimeout         time.Duration
	ReconnectDelay            time.Duration
	MaxRetryAttempts          int
	PositionBroadcastInterval time.Duration
	DebugLoggingEnabled       bool
	AutoReconnect             bool
	PlayerID                  string
	PositionDeadBand          float64
	LogFile                   string
	MetricsAddr               string
	TickRate                  int
}

// Default 返回仅由打包默认值构成的配置
func Default() Settings {
	s, _ := fromViper(defaultViper())
	return s
}

func defaultViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	return v
}

func newViper() *viper.Viper {
	v := defaultViper()
	v.SetConfigName(FileName)
	v.SetConfigType("yml")
	if home, errHome := homedir.Dir(); errHome == nil {
		v.AddConfigPath(home)
	}
	v.AddConfigPath(".")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load 按 环境变量 → 本地覆盖文件 → 默认值 的优先级解析配置。
// cfgFile 为空时在默认路径查找 lobby.yml，找不到不算错误；显式指定的文件读取失败则返回 ErrReadConfig。
func Load(cfgFile string) (Settings, error) {
	// .env 只补充尚未设置的环境变量
	if errEnv := godotenv.Load(); errEnv != nil && !errors.Is(errEnv, os.ErrNotExist) {
		return Settings{}, errors.Join(errEnv, ErrReadConfig)
	}

	v := newViper()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}

	if errRead := v.ReadInConfig(); errRead != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(errRead, &notFound) {
			return Settings{}, errors.Join(errRead, ErrReadConfig)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (Settings, error) {
	var raw fileConfig
	if errUnmarshal := v.Unmarshal(&raw); errUnmarshal != nil {
		return Settings{}, errors.Join(errUnmarshal, ErrFormatConfig)
	}

	if err := raw.validate(); err != nil {
		return Settings{}, err
	}

	return Settings{
		ServerURL:                 strings.TrimSpace(raw.WebsocketURL),
		ConnectionTimeout:         seconds(raw.ConnectionTimeout),
		ReconnectDelay:            seconds(raw.ReconnectDelay),
		MaxRetryAttempts:          raw.MaxRetryAttempts,
		PositionBroadcastInterval: seconds(raw.PositionBroadcastInterval),
		DebugLoggingEnabled:       raw.EnableDebugLogs,
		AutoReconnect:             raw.AutoReconnect,
		PlayerID:                  strings.TrimSpace(raw.PlayerID),
		PositionDeadBand:          raw.PositionDeadBand,
		LogFile:                   raw.LogFile,
		MetricsAddr:               raw.MetricsAddr,
		TickRate:                  raw.TickRate,
	}, nil
}

func (c fileConfig) validate() error {
	switch {
	case c.ConnectionTimeout <= 0:
		return fmt.Errorf("%w: connection_timeout must be positive, got %v", ErrInvalidConfig, c.ConnectionTimeout)
	case c.PositionBroadcastInterval < 0:
		return fmt.Errorf("%w: position_broadcast_interval must not be negative, got %v", ErrInvalidConfig, c.PositionBroadcastInterval)
	case c.ReconnectDelay < 0:
		return fmt.Errorf("%w: reconnect_delay must not be negative, got %v", ErrInvalidConfig, c.ReconnectDelay)
	case c.MaxRetryAttempts < 0:
		return fmt.Errorf("%w: max_retry_attempts must not be negative, got %d", ErrInvalidConfig, c.MaxRetryAttempts)
	case c.PositionDeadBand < 0:
		return fmt.Errorf("%w: position_dead_band must not be negative, got %v", ErrInvalidConfig, c.PositionDeadBand)
	case c.TickRate <= 0:
		return fmt.Errorf("%w: tick_rate must be positive, got %d", ErrInvalidConfig, c.TickRate)
	}

	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
