package config

import (
	"fmt"

	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Options is the command-line and environment surface. Non-zero values
// override the config file. The switches are pointers so an explicit false
// (IOT_DEBUG=false) can turn off a value set in YAML.
type Options struct {
	Config    string  `long:"config" env:"IOT_CONFIG" description:"YAML config file"`
	Server    string  `long:"server" env:"IOT_SERVER" description:"Relay host"`
	HTTPPort  int     `long:"http-port" env:"IOT_HTTP_PORT" description:"Relay subscribe port"`
	TCPPort   int     `long:"tcp-port" env:"IOT_TCP_PORT" description:"Relay line stream port"`
	Token     string  `long:"token" env:"IOT_TOKEN" description:"Subscription token"`
	Code      int     `long:"code" env:"IOT_CODE" description:"Local device id"`
	To        int     `long:"to" env:"IOT_TO" description:"Peer device id"`
	TimeDelay float64 `long:"time-delay" env:"IOT_TIME_DELAY" description:"Heartbeat interval in seconds"`
	Debug     *bool   `long:"debug" env:"IOT_DEBUG" description:"Enable verbose debug output"`
	Tunneled  *bool   `long:"tunneled" env:"IOT_TUNNELED" description:"Keep-alive is handled by the tunnel; skip heartbeats"`
	SaveLogs  *bool   `long:"save-logs" env:"IOT_SAVE_LOGS" description:"Write logs and relay traffic to logs.dir"`
	Transport string  `long:"transport" env:"IOT_TRANSPORT" description:"Line transport" choice:"tcp" choice:"websocket"`
	Version   bool    `long:"version" description:"Print version and exit"`
}

// ParseOptions loads .env files (".env" when none are given) and parses args.
// A missing .env file is not an error.
func ParseOptions(args []string, envFiles ...string) (Options, error) {
	_ = godotenv.Load(envFiles...)

	opts := Options{}
	if _, err := flags.ParseArgs(&opts, args); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// Resolve builds the effective config: file (if any), defaults, then
// option overrides, then validation.
func Resolve(opts Options) (*Config, error) {
	cfg := &Config{}
	if opts.Config != "" {
		loaded, err := Load(opts.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	opts.apply(cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (o Options) apply(cfg *Config) {
	if o.Server != "" {
		cfg.Server = o.Server
	}
	if o.HTTPPort != 0 {
		cfg.HTTPPort = o.HTTPPort
	}
	if o.TCPPort != 0 {
		cfg.TCPPort = o.TCPPort
	}
	if o.Token != "" {
		cfg.Token = o.Token
	}
	if o.Code != 0 {
		cfg.Code = o.Code
	}
	if o.To != 0 {
		cfg.To = o.To
	}
	if o.TimeDelay != 0 {
		cfg.TimeDelay = o.TimeDelay
	}
	if o.Transport != "" {
		cfg.Transport = o.Transport
	}
	if o.Debug != nil {
		cfg.Debug = *o.Debug
	}
	if o.Tunneled != nil {
		cfg.IsTunneled = *o.Tunneled
	}
	if o.SaveLogs != nil {
		cfg.SaveLogs = *o.SaveLogs
	}
}
