package config

import (
	"fmt"
	"net/netip"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"

	"github.com/melih/lab-agent/internal/core/ipam"
	"github.com/melih/lab-agent/internal/errors"
)

const (
	DefaultConfigPath    = "/etc/lab-agent/config.toml"
	DefaultListen        = ":62111"
	DefaultNetworkName   = "lab_net"
	DefaultDriver        = "macvlan"
	DefaultSubnet        = "192.168.100.0/24"
	DefaultGateway       = "192.168.100.1"
	DefaultParent        = "eth0"
	DefaultContainerPort = 80
	DefaultNamePrefix    = "lab-"
	DefaultReaperSpec    = "@every 60s"
	EnvPrefix            = "LABAGENT_"
)

// containerNameRegex validates deployment names.
// Names must start with a lowercase letter or digit, followed by lowercase
// letters, digits, underscores, dots or hyphens, at most 63 characters.
var containerNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,62}$`)

// ValidateContainerName checks if a deployment name is valid.
func ValidateContainerName(name string) error {
	if name == "" {
		return fmt.Errorf("container name cannot be empty")
	}
	if !containerNameRegex.MatchString(name) {
		return fmt.Errorf("invalid container name %q: must start with a lowercase letter or digit, contain only lowercase letters, digits, '_', '.' or '-', and be at most 63 characters", name)
	}
	return nil
}

// Duration is a time.Duration that decodes from strings like "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the agent configuration read from config.toml.
type Config struct {
	Listen  string        `toml:"listen"`
	Runtime RuntimeConfig `toml:"runtime"`
	Network NetworkConfig `toml:"network"`
	Deploy  DeployConfig  `toml:"deploy"`
	Auth    AuthConfig    `toml:"auth"`
	Reaper  ReaperConfig  `toml:"reaper"`
	Proxy   ProxyConfig   `toml:"proxy"`
	Log     LogConfig     `toml:"log"`

	// Path is the file the config was read from, empty for defaults.
	Path string `toml:"-"`
}

// RuntimeConfig selects how the agent talks to the container runtime.
type RuntimeConfig struct {
	Backend string `toml:"backend"` // "api" (Engine API) or "cli"
	Binary  string `toml:"binary"`  // cli only; empty means podman, then docker
}

// NetworkConfig describes the guest segment and its address range.
type NetworkConfig struct {
	Name           string `toml:"name"`
	Driver         string `toml:"driver"`
	Subnet         string `toml:"subnet"`
	Gateway        string `toml:"gateway"`
	RangeStart     string `toml:"range_start"`
	RangeEnd       string `toml:"range_end"`
	Parent         string `toml:"parent"`
	FallbackParent string `toml:"fallback_parent"`
}

// DeployConfig holds deployment defaults.
type DeployConfig struct {
	DefaultContainerPort int      `toml:"default_container_port"`
	NamePrefix           string   `toml:"name_prefix"`
	LaunchTimeout        Duration `toml:"launch_timeout"`
	RequireSegment       bool     `toml:"require_segment"`
	PublishPorts         bool     `toml:"publish_ports"`
	HostPortStart        int      `toml:"host_port_start"`
	HostPortEnd          int      `toml:"host_port_end"`
}

// AuthConfig controls the shared access credential.
type AuthConfig struct {
	Credential        string `toml:"credential"`
	RequireCredential bool   `toml:"require_credential"`
}

// ReaperConfig schedules the background cleanup sweep.
type ReaperConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"`
}

// ProxyConfig enables subdomain routing to deployments.
type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	Domain  string `toml:"domain"`
}

type LogConfig struct {
	Verbose bool `toml:"verbose"`
	JSON    bool `toml:"json"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:  DefaultListen,
		Runtime: RuntimeConfig{Backend: "api"},
		Network: NetworkConfig{
			Name:           DefaultNetworkName,
			Driver:         DefaultDriver,
			Subnet:         DefaultSubnet,
			Gateway:        DefaultGateway,
			FallbackParent: DefaultParent,
		},
		Deploy: DeployConfig{
			DefaultContainerPort: DefaultContainerPort,
			NamePrefix:           DefaultNamePrefix,
			LaunchTimeout:        Duration{2 * time.Minute},
			RequireSegment:       true,
			PublishPorts:         true,
			HostPortStart:        8000,
			HostPortEnd:          8999,
		},
		Reaper: ReaperConfig{Enabled: true, Schedule: DefaultReaperSpec},
	}
}

// Load reads path on top of the defaults, then applies LABAGENT_* variables.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, errors.ConfigError(fmt.Sprintf("failed to parse %s", path), err)
			}
			cfg.Path = path
		} else if !os.IsNotExist(err) {
			return nil, errors.ConfigError(fmt.Sprintf("failed to read %s", path), err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) string {
		v, _ := lookup(EnvPrefix + key)
		return strings.TrimSpace(v)
	}

	c.Listen = coalesce(get("LISTEN"), c.Listen)
	c.Runtime.Backend = coalesce(get("RUNTIME"), c.Runtime.Backend)
	c.Runtime.Binary = coalesce(get("RUNTIME_BINARY"), c.Runtime.Binary)
	c.Network.Name = coalesce(get("NETWORK_NAME"), c.Network.Name)
	c.Network.Driver = coalesce(get("NETWORK_DRIVER"), c.Network.Driver)
	c.Network.Subnet = coalesce(get("NETWORK_SUBNET"), c.Network.Subnet)
	c.Network.Gateway = coalesce(get("NETWORK_GATEWAY"), c.Network.Gateway)
	c.Network.RangeStart = coalesce(get("NETWORK_RANGE_START"), c.Network.RangeStart)
	c.Network.RangeEnd = coalesce(get("NETWORK_RANGE_END"), c.Network.RangeEnd)
	c.Network.Parent = coalesce(get("NETWORK_PARENT"), c.Network.Parent)
	c.Auth.Credential = coalesce(get("CREDENTIAL"), c.Auth.Credential)

	for key, dst := range map[string]*bool{
		"REQUIRE_CREDENTIAL": &c.Auth.RequireCredential,
		"REQUIRE_SEGMENT":    &c.Deploy.RequireSegment,
		"PUBLISH_PORTS":      &c.Deploy.PublishPorts,
		"PROXY":              &c.Proxy.Enabled,
	} {
		if v := get(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return errors.ConfigError(fmt.Sprintf("invalid %s%s", EnvPrefix, key), err)
			}
			*dst = b
		}
	}
	return nil
}

// Validate checks that the configuration is self-consistent.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.ConfigError("listen address cannot be empty", nil)
	}
	switch c.Runtime.Backend {
	case "api", "cli":
	default:
		return errors.ConfigError(fmt.Sprintf("unknown runtime backend %q (use api or cli)", c.Runtime.Backend), nil)
	}
	if err := c.Network.Validate(); err != nil {
		return err
	}
	if err := c.Deploy.Validate(); err != nil {
		return err
	}
	if c.Reaper.Enabled {
		if _, err := cron.ParseStandard(c.Reaper.Schedule); err != nil {
			return errors.ConfigError(fmt.Sprintf("invalid reaper schedule %q", c.Reaper.Schedule), err)
		}
	}
	if c.Proxy.Enabled && c.Proxy.Domain == "" {
		return errors.ConfigError("proxy.domain is required when the proxy is enabled", nil)
	}
	return nil
}

// Validate checks subnet, gateway and range consistency.
func (n NetworkConfig) Validate() error {
	if n.Name == "" {
		return errors.ConfigError("network name cannot be empty", nil)
	}
	switch n.Driver {
	case "bridge", "macvlan", "ipvlan":
	default:
		return errors.ConfigError(fmt.Sprintf("unsupported network driver %q", n.Driver), nil)
	}

	prefix, err := n.Prefix()
	if err != nil {
		return err
	}
	gw, err := netip.ParseAddr(n.Gateway)
	if err != nil {
		return errors.ConfigError(fmt.Sprintf("invalid gateway %q", n.Gateway), err)
	}
	if !prefix.Contains(gw) {
		return errors.ConfigError(fmt.Sprintf("gateway %s is not inside %s", gw, prefix), nil)
	}
	start, end, err := n.Range()
	if err != nil {
		return err
	}
	if !prefix.Contains(start) || !prefix.Contains(end) {
		return errors.ConfigError(fmt.Sprintf("address range %s-%s is not inside %s", start, end, prefix), nil)
	}
	if end.Less(start) {
		return errors.ConfigError(fmt.Sprintf("address range start %s is after end %s", start, end), nil)
	}
	return nil
}

// Prefix parses the subnet. Only IPv4 is supported.
func (n NetworkConfig) Prefix() (netip.Prefix, error) {
	prefix, err := netip.ParsePrefix(n.Subnet)
	if err != nil {
		return netip.Prefix{}, errors.ConfigError(fmt.Sprintf("invalid subnet %q", n.Subnet), err)
	}
	if !prefix.Addr().Is4() || prefix.Bits() > 30 {
		return netip.Prefix{}, errors.ConfigError(fmt.Sprintf("subnet %s must be IPv4 with at least 4 addresses", n.Subnet), nil)
	}
	return prefix.Masked(), nil
}

// Range returns the pool bounds. Unset bounds default to the second host
// address and the address two below broadcast.
func (n NetworkConfig) Range() (netip.Addr, netip.Addr, error) {
	prefix, err := n.Prefix()
	if err != nil {
		return netip.Addr{}, netip.Addr{}, err
	}

	start := prefix.Addr().Next().Next()
	end := ipam.Broadcast(prefix).Prev().Prev()
	if end.Less(start) {
		start, end = prefix.Addr().Next(), ipam.Broadcast(prefix).Prev()
	}
	if n.RangeStart != "" {
		if start, err = netip.ParseAddr(n.RangeStart); err != nil {
			return netip.Addr{}, netip.Addr{}, errors.ConfigError(fmt.Sprintf("invalid range_start %q", n.RangeStart), err)
		}
	}
	if n.RangeEnd != "" {
		if end, err = netip.ParseAddr(n.RangeEnd); err != nil {
			return netip.Addr{}, netip.Addr{}, errors.ConfigError(fmt.Sprintf("invalid range_end %q", n.RangeEnd), err)
		}
	}
	return start, end, nil
}

// Validate checks deployment defaults and the host port range.
func (d DeployConfig) Validate() error {
	if d.DefaultContainerPort < 1 || d.DefaultContainerPort > 65535 {
		return errors.ConfigError(fmt.Sprintf("default container port %d out of range", d.DefaultContainerPort), nil)
	}
	if d.LaunchTimeout.Duration <= 0 {
		return errors.ConfigError("launch timeout must be positive", nil)
	}
	if d.NamePrefix != "" {
		if err := ValidateContainerName(d.NamePrefix + "x"); err != nil {
			return errors.ConfigError("invalid name prefix", err)
		}
	}
	if d.PublishPorts {
		if d.HostPortStart < 1 || d.HostPortEnd > 65535 || d.HostPortStart > d.HostPortEnd {
			return errors.ConfigError(fmt.Sprintf("invalid host port range %d-%d", d.HostPortStart, d.HostPortEnd), nil)
		}
	}
	return nil
}

// coalesce returns the first non-empty string value
func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
