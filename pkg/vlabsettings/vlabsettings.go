// Package vlabsettings manages persistent operator-local preferences for
// the VLAB command-line tools (timeouts, default paths) — a YAML
// sibling to pkg/vlabconfig's JSON user/board document. Grounded on the
// teacher's pkg/settings/settings.go, ported from JSON to YAML since
// this is a newly introduced ambient concern, not a wire format VLAB's
// original implementation ever had.
package vlabsettings

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Default timeout/path values, matching spec.md §4.4's named constants.
const (
	DefaultMaxLockTime      = 600 * time.Second
	DefaultPingInterval     = 10 * time.Second
	DefaultPingTimeout      = 30 * time.Second
	DefaultLockingTTL       = 2 * time.Second
	DefaultHWTestRunTTL     = 4 * time.Hour
	DefaultHWTestTestingTTL = 120 * time.Second
	DefaultSSHTimeout       = 30 * time.Second
	DefaultPortLo           = 30000
	DefaultPortHi           = 35000

	DefaultConfigPath    = "/etc/vlab/vlab.conf"
	DefaultAccessLogPath = "/var/log/vlab/access.log"

	DefaultAccessLogMaxSizeMB = 10
	DefaultAccessLogBackups   = 10

	// DefaultWebAddr is the observability API's listen address — port
	// 9001, the port spec.md §6's client launcher tunnels as WP.
	DefaultWebAddr = ":9001"
)

// Settings holds persistent operator preferences for vlabctl and the
// long-running VLAB components.
type Settings struct {
	RedisAddr string `yaml:"redis_addr,omitempty"`

	ConfigPath    string `yaml:"config_path,omitempty"`
	AccessLogPath string `yaml:"access_log_path,omitempty"`
	WebAddr       string `yaml:"web_addr,omitempty"`

	AccessLogMaxSizeMB int `yaml:"access_log_max_size_mb,omitempty"`
	AccessLogBackups   int `yaml:"access_log_backups,omitempty"`

	MaxLockTimeSeconds      int `yaml:"max_lock_time_seconds,omitempty"`
	PingIntervalSeconds     int `yaml:"ping_interval_seconds,omitempty"`
	PingTimeoutSeconds      int `yaml:"ping_timeout_seconds,omitempty"`
	LockingTTLSeconds       int `yaml:"locking_ttl_seconds,omitempty"`
	HWTestRunTTLSeconds     int `yaml:"hwtest_run_ttl_seconds,omitempty"`
	HWTestTestingTTLSeconds int `yaml:"hwtest_testing_ttl_seconds,omitempty"`
	SSHTimeoutSeconds       int `yaml:"ssh_timeout_seconds,omitempty"`

	PortLo int `yaml:"port_lo,omitempty"`
	PortHi int `yaml:"port_hi,omitempty"`
}

// DefaultSettingsPath returns the default path for the operator settings
// file, under the invoking user's home directory.
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/vlab_settings.yaml"
	}
	return filepath.Join(home, ".vlab", "settings.yaml")
}

// Load reads settings from the default location.
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from a specific path. A missing file yields
// zero-value Settings, not an error — every Get* accessor supplies its
// own default.
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes settings to the default location.
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to a specific path.
func (s *Settings) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// GetConfigPath returns the VLAB config document path with its default.
func (s *Settings) GetConfigPath() string {
	if s.ConfigPath != "" {
		return s.ConfigPath
	}
	return DefaultConfigPath
}

// GetAccessLogPath returns the access-log path with its default.
func (s *Settings) GetAccessLogPath() string {
	if s.AccessLogPath != "" {
		return s.AccessLogPath
	}
	return DefaultAccessLogPath
}

// GetWebAddr returns the observability API's listen address with its
// default.
func (s *Settings) GetWebAddr() string {
	if s.WebAddr != "" {
		return s.WebAddr
	}
	return DefaultWebAddr
}

// GetAccessLogMaxSizeMB returns the access-log rotation size with its default.
func (s *Settings) GetAccessLogMaxSizeMB() int {
	if s.AccessLogMaxSizeMB > 0 {
		return s.AccessLogMaxSizeMB
	}
	return DefaultAccessLogMaxSizeMB
}

// GetAccessLogBackups returns the access-log backup retention count with its default.
func (s *Settings) GetAccessLogBackups() int {
	if s.AccessLogBackups > 0 {
		return s.AccessLogBackups
	}
	return DefaultAccessLogBackups
}

// GetMaxLockTime returns the class-lease expiry duration with its default.
func (s *Settings) GetMaxLockTime() time.Duration {
	if s.MaxLockTimeSeconds > 0 {
		return time.Duration(s.MaxLockTimeSeconds) * time.Second
	}
	return DefaultMaxLockTime
}

// GetPingInterval returns the relay keep-alive tick interval with its default.
func (s *Settings) GetPingInterval() time.Duration {
	if s.PingIntervalSeconds > 0 {
		return time.Duration(s.PingIntervalSeconds) * time.Second
	}
	return DefaultPingInterval
}

// GetPingTimeout returns the client keep-alive response timeout with its default.
func (s *Settings) GetPingTimeout() time.Duration {
	if s.PingTimeoutSeconds > 0 {
		return time.Duration(s.PingTimeoutSeconds) * time.Second
	}
	return DefaultPingTimeout
}

// GetLockingTTL returns the advisory class-lock TTL with its default.
func (s *Settings) GetLockingTTL() time.Duration {
	if s.LockingTTLSeconds > 0 {
		return time.Duration(s.LockingTTLSeconds) * time.Second
	}
	return DefaultLockingTTL
}

// GetHWTestRunTTL returns the hardware self-test run lease TTL with its default.
func (s *Settings) GetHWTestRunTTL() time.Duration {
	if s.HWTestRunTTLSeconds > 0 {
		return time.Duration(s.HWTestRunTTLSeconds) * time.Second
	}
	return DefaultHWTestRunTTL
}

// GetHWTestTestingTTL returns the per-board "testing" marker TTL with its default.
func (s *Settings) GetHWTestTestingTTL() time.Duration {
	if s.HWTestTestingTTLSeconds > 0 {
		return time.Duration(s.HWTestTestingTTLSeconds) * time.Second
	}
	return DefaultHWTestTestingTTL
}

// GetSSHTimeout returns the SSH dial timeout with its default.
func (s *Settings) GetSSHTimeout() time.Duration {
	if s.SSHTimeoutSeconds > 0 {
		return time.Duration(s.SSHTimeoutSeconds) * time.Second
	}
	return DefaultSSHTimeout
}

// GetPortRange returns the ephemeral port counter's [lo, hi) range with defaults.
func (s *Settings) GetPortRange() (lo, hi int) {
	lo, hi = s.PortLo, s.PortHi
	if lo <= 0 {
		lo = DefaultPortLo
	}
	if hi <= 0 {
		hi = DefaultPortHi
	}
	return lo, hi
}

// Clear resets all settings to defaults.
func (s *Settings) Clear() {
	*s = Settings{}
}
