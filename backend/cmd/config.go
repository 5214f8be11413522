package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "CHATRELAY"

type Config struct {
	APIListenAddr  string        `mapstructure:"api-listen-addr" validate:"required,hostname_port"`
	WSListenAddr   string        `mapstructure:"ws-listen-addr" validate:"required,hostname_port"`
	LogLevel       string        `mapstructure:"log-level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	ConfigFile     string        `mapstructure:"config"`
	RoomID         uint64        `mapstructure:"room-id" validate:"gt=0"`
	InboxSize      int           `mapstructure:"inbox-size" validate:"gt=0"`
	SendBufferSize int           `mapstructure:"send-buffer-size" validate:"gt=0"`
	MaxMessageSize int64         `mapstructure:"max-message-size" validate:"gt=0"`
	PingInterval   time.Duration `mapstructure:"ping-interval" validate:"gt=0"`
	PongWait       time.Duration `mapstructure:"pong-wait" validate:"gtfield=PingInterval"`
	ConsoleLog     bool          `mapstructure:"console-log"`
}

// LoadConfig merges, lowest priority first: defaults, config file,
// environment (.env included) and command line flags.
func LoadConfig(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	flags := pflag.NewFlagSet("main", pflag.ContinueOnError)
	flags.StringP("api-listen-addr", "a", ":8080", "api listen address")
	flags.StringP("ws-listen-addr", "w", ":8888", "websocket chat listen address")
	flags.StringP("log-level", "l", "debug", "log level")
	flags.StringP("config", "c", "", "path to yaml config file")
	flags.Uint64("room-id", 1, "id of the chat room")
	flags.Int("inbox-size", 64, "room event queue size")
	flags.Int("send-buffer-size", 64, "per connection outgoing message queue size")
	flags.Int64("max-message-size", 9000, "max incoming websocket message size in bytes")
	flags.Duration("ping-interval", 5*time.Second, "websocket ping interval")
	flags.Duration("pong-wait", 7*time.Second, "how long to wait for pong, must exceed ping interval")
	flags.Bool("console-log", false, "human readable log output")
	if err := flags.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse command line arguments: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
