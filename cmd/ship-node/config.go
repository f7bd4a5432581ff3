package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shipproto/ship-go/pkg/discovery"
	"github.com/shipproto/ship-go/pkg/version"
	"github.com/shipproto/ship-go/pkg/wire"
)

// Config holds the node configuration. Values come from defaults, then the
// YAML file named by -config, then flags given on the command line.
type Config struct {
	ConfigFile string `yaml:"-"`

	Listen    string `yaml:"listen"`
	WebSocket bool   `yaml:"websocket"`
	Path      string `yaml:"path"`

	// Connect dials this address after start. PeerSKI pins the expected
	// certificate when set.
	Connect string `yaml:"connect"`
	PeerSKI string `yaml:"peer_ski"`
	Redial  bool   `yaml:"redial"`

	CertFile  string `yaml:"cert"`
	KeyFile   string `yaml:"key"`
	TrustFile string `yaml:"trust_file"`
	AcceptAll bool   `yaml:"accept_all"`

	Name string `yaml:"name"`
	MDNS bool   `yaml:"mdns"`

	Formats        stringList    `yaml:"formats"`
	HelloMaxWait   time.Duration `yaml:"hello_max_wait"`
	MaxConnections int           `yaml:"max_connections"`
	StaleTimeout   time.Duration `yaml:"stale_timeout"`

	LogLevel    string `yaml:"log_level"`
	ProtocolLog string `yaml:"protocol_log"`
	Interactive bool   `yaml:"interactive"`
}

func defaultConfig() Config {
	return Config{
		Listen:       fmt.Sprintf(":%d", discovery.DefaultPort),
		Path:         discovery.DefaultPath,
		CertFile:     "ship-node.crt",
		KeyFile:      "ship-node.key",
		TrustFile:    "ship-trust.yaml",
		Name:         "ship-node",
		StaleTimeout: 2 * time.Minute,
		LogLevel:     "info",
	}
}

// stringList is a comma separated flag that replaces its value on Set.
type stringList []string

func (l *stringList) String() string {
	if l == nil {
		return ""
	}
	return strings.Join(*l, ",")
}

func (l *stringList) Set(s string) error {
	*l = nil
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}

func newFlagSet(cfg *Config) *flag.FlagSet {
	fs := flag.NewFlagSet("ship-node", flag.ContinueOnError)

	fs.StringVar(&cfg.ConfigFile, "config", "", "Configuration file path (YAML)")
	fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "Listen address, empty to disable")
	fs.BoolVar(&cfg.WebSocket, "websocket", cfg.WebSocket, "Use the websocket transport")
	fs.StringVar(&cfg.Path, "path", cfg.Path, "Websocket path")
	fs.StringVar(&cfg.Connect, "connect", cfg.Connect, "Connect to this address after start")
	fs.StringVar(&cfg.PeerSKI, "peer-ski", cfg.PeerSKI, "Expected certificate SKI of the -connect peer")
	fs.BoolVar(&cfg.Redial, "redial", cfg.Redial, "Keep the -connect peer connected, dialing again with backoff")
	fs.StringVar(&cfg.CertFile, "cert", cfg.CertFile, "Certificate file (created if missing)")
	fs.StringVar(&cfg.KeyFile, "key", cfg.KeyFile, "Private key file (created if missing)")
	fs.StringVar(&cfg.TrustFile, "trust-file", cfg.TrustFile, "Trust decisions file, empty for memory only")
	fs.BoolVar(&cfg.AcceptAll, "accept-all", cfg.AcceptAll, "Trust every peer without asking")
	fs.StringVar(&cfg.Name, "name", cfg.Name, "Instance name used for mDNS and the certificate")
	fs.BoolVar(&cfg.MDNS, "mdns", cfg.MDNS, "Advertise the node via mDNS")
	fs.Var(&cfg.Formats, "formats", "Supported formats, most preferred first (e.g. cbor/1.0,json-utf8/1.0)")
	fs.DurationVar(&cfg.HelloMaxWait, "hello-max-wait", cfg.HelloMaxWait, "Upper bound for trust decisions (0 for default)")
	fs.IntVar(&cfg.MaxConnections, "max-connections", cfg.MaxConnections, "Concurrent connection limit (0 for unlimited)")
	fs.DurationVar(&cfg.StaleTimeout, "stale-timeout", cfg.StaleTimeout, "Abort connections not in data phase after this long (0 to disable)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.ProtocolLog, "protocol-log", cfg.ProtocolLog, "File path for protocol event logging (CBOR format)")
	fs.BoolVar(&cfg.Interactive, "interactive", cfg.Interactive, "Start the interactive console")

	return fs
}

// parseConfig parses args. Flags given explicitly win over the config file.
func parseConfig(args []string, stderr io.Writer) (*Config, error) {
	cfg := defaultConfig()
	fs := newFlagSet(&cfg)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	if cfg.ConfigFile != "" {
		set := map[string]string{}
		fs.Visit(func(f *flag.Flag) {
			set[f.Name] = f.Value.String()
		})

		if err := loadConfigFile(cfg.ConfigFile, &cfg); err != nil {
			return nil, err
		}
		for name, value := range set {
			if err := fs.Set(name, value); err != nil {
				return nil, err
			}
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Listen == "" && c.Connect == "" && !c.Interactive {
		return errors.New("nothing to do: set -listen, -connect or -interactive")
	}
	if c.Redial && c.Connect == "" {
		return errors.New("-redial requires -connect")
	}
	if c.MDNS && c.Listen == "" {
		return errors.New("-mdns requires -listen")
	}
	if len(c.Name) > discovery.MaxInstanceNameLen {
		return discovery.ErrInstanceNameTooLong
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max-connections must not be negative, got %d", c.MaxConnections)
	}
	if _, err := c.formats(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}

// formats returns the configured formats, or nil for the defaults.
func (c *Config) formats() ([]wire.Format, error) {
	if len(c.Formats) == 0 {
		return nil, nil
	}
	return version.ParseFormats(c.Formats)
}
