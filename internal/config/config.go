package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ConfigFileName = "mpy-sync.yaml"
	IgnoreFileName = ".mpyignore"
	// StateDir holds logs, the checksum index and local state.
	StateDir = ".mpy_sync"
)

const (
	TransportMpremote = "mpremote"
	TransportSSH      = "ssh"

	SkipChecksum = "checksum"
	SkipSize     = "size"
)

type Config struct {
	ProjectName string   `yaml:"project_name"`
	Device      Device   `yaml:"device"`
	Timeouts    Timeouts `yaml:"timeouts"`
	Upload      Upload   `yaml:"upload"`
	Run         Run      `yaml:"run"`
	Metrics     Metrics  `yaml:"metrics"`

	// root is the directory the config was loaded from.
	root string
}

type Device struct {
	Transport string `yaml:"transport"`
	Port      string `yaml:"port"`
	Python    string `yaml:"python"`
	SSH       SSH    `yaml:"ssh,omitempty"`
}

type SSH struct {
	Host       string `yaml:"host"`
	Port       string `yaml:"port"`
	Username   string `yaml:"username"`
	PrivateKey string `yaml:"privateKey"`
	Password   string `yaml:"password,omitempty"`
}

type Timeouts struct {
	Short time.Duration `yaml:"short"`
	Long  time.Duration `yaml:"long"`
}

type Upload struct {
	SourceRoots []string `yaml:"source_roots"`
	TestRoots   []string `yaml:"test_roots"`
	Excludes    []string `yaml:"excludes"`
	SkipMode    string   `yaml:"skip_mode"`
	TrustIndex  *bool    `yaml:"trust_index,omitempty"`
}

type Run struct {
	ResetOnSuccess bool `yaml:"reset_on_success"`
}

type Metrics struct {
	Listen string `yaml:"listen"`
}

// Root returns the project root the config was loaded from.
func (c *Config) Root() string {
	if c.root == "" {
		return "."
	}
	return c.root
}

// TrustIndex reports whether checksums recorded by earlier transfers may be reused.
func (c *Config) TrustIndex() bool {
	return c.Upload.TrustIndex == nil || *c.Upload.TrustIndex
}

// DeviceKey identifies the board in the checksum index.
func (c *Config) DeviceKey() string {
	if c.Device.Transport == TransportSSH {
		return fmt.Sprintf("ssh://%s@%s:%s%s", c.Device.SSH.Username, c.Device.SSH.Host, c.Device.SSH.Port, c.Device.Port)
	}
	return "local://" + c.Device.Port
}

// StatePath joins elem under the project's state directory.
func (c *Config) StatePath(elem ...string) string {
	return filepath.Join(append([]string{c.Root(), StateDir}, elem...)...)
}

// ApplyDefaults fills every optional field left empty.
func ApplyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Device.Transport) == "" {
		cfg.Device.Transport = TransportMpremote
	}
	if strings.TrimSpace(cfg.Device.Python) == "" {
		cfg.Device.Python = "python3"
	}
	if cfg.Device.Transport == TransportSSH && strings.TrimSpace(cfg.Device.SSH.Port) == "" {
		cfg.Device.SSH.Port = "22"
	}
	if cfg.Timeouts.Short <= 0 {
		cfg.Timeouts.Short = 5 * time.Second
	}
	if cfg.Timeouts.Long <= 0 {
		cfg.Timeouts.Long = 100 * time.Second
	}
	if strings.TrimSpace(cfg.Upload.SkipMode) == "" {
		cfg.Upload.SkipMode = SkipChecksum
	}
}

// ValidateConfig validates the configuration for required fields and file paths
func ValidateConfig(cfg *Config) error {
	var validationErrors []string

	if strings.TrimSpace(cfg.ProjectName) == "" {
		validationErrors = append(validationErrors, "project_name cannot be empty")
	}

	switch cfg.Device.Transport {
	case TransportMpremote:
	case TransportSSH:
		if strings.TrimSpace(cfg.Device.SSH.Host) == "" {
			validationErrors = append(validationErrors, "device.ssh.host cannot be empty")
		}
		if strings.TrimSpace(cfg.Device.SSH.Username) == "" {
			validationErrors = append(validationErrors, "device.ssh.username cannot be empty")
		}
		if port, err := strconv.Atoi(cfg.Device.SSH.Port); err != nil || port <= 0 || port > 65535 {
			validationErrors = append(validationErrors, "device.ssh.port must be a valid number between 1-65535")
		}
		if strings.TrimSpace(cfg.Device.SSH.PrivateKey) == "" && cfg.Device.SSH.Password == "" {
			validationErrors = append(validationErrors, "device.ssh needs a privateKey or a password")
		}
		if key := strings.TrimSpace(cfg.Device.SSH.PrivateKey); key != "" {
			if _, err := os.Stat(ExpandHome(key)); os.IsNotExist(err) {
				validationErrors = append(validationErrors, fmt.Sprintf("private key file does not exist: %s", key))
			}
		}
	default:
		validationErrors = append(validationErrors, fmt.Sprintf("device.transport must be %q or %q, got %q", TransportMpremote, TransportSSH, cfg.Device.Transport))
	}

	if cfg.Timeouts.Long < cfg.Timeouts.Short {
		validationErrors = append(validationErrors, "timeouts.long must not be shorter than timeouts.short")
	}

	if cfg.Upload.SkipMode != SkipChecksum && cfg.Upload.SkipMode != SkipSize {
		validationErrors = append(validationErrors, fmt.Sprintf("upload.skip_mode must be %q or %q", SkipChecksum, SkipSize))
	}

	for _, group := range []struct {
		name  string
		paths []string
	}{
		{"upload.source_roots", cfg.Upload.SourceRoots},
		{"upload.test_roots", cfg.Upload.TestRoots},
		{"upload.excludes", cfg.Upload.Excludes},
	} {
		for _, p := range group.paths {
			if filepath.IsAbs(p) || strings.HasPrefix(filepath.Clean(p), "..") {
				validationErrors = append(validationErrors, fmt.Sprintf("%s: %q must be relative to the project root", group.name, p))
			}
		}
	}

	if len(validationErrors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(validationErrors, "\n"))
	}
	return nil
}

// Load reads, interpolates and validates the config stored in dir.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("mpy-sync.yaml not found. Please run 'mpy-sync init' first")
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	text, err := InterpolateEnv(string(data), filepath.Join(dir, ".env"))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(text), &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	cfg.root = dir

	ApplyDefaults(&cfg)
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadAndValidateConfig loads the config of the project containing the
// working directory.
func LoadAndValidateConfig() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return Load(FindProjectRoot(wd))
}

// FindProjectRoot walks up from start looking for mpy-sync.yaml and returns
// start itself when none is found.
func FindProjectRoot(start string) string {
	current := filepath.Clean(start)
	for {
		if _, err := os.Stat(filepath.Join(current, ConfigFileName)); err == nil {
			return current
		}
		parent := filepath.Dir(current)
		if parent == current {
			return filepath.Clean(start)
		}
		current = parent
	}
}

// ConfigExists checks if the config file exists in the current project
func ConfigExists() bool {
	_, err := os.Stat(GetConfigPath())
	return err == nil
}

// GetConfigPath returns the full path to the config file
func GetConfigPath() string {
	wd, err := os.Getwd()
	if err != nil {
		return ConfigFileName
	}
	return filepath.Join(FindProjectRoot(wd), ConfigFileName)
}

// Default returns the configuration written by "mpy-sync init".
func Default(projectName, port string) *Config {
	cfg := &Config{
		ProjectName: projectName,
		Device:      Device{Transport: TransportMpremote, Port: port},
		Upload: Upload{
			SourceRoots: []string{},
			TestRoots:   []string{},
			Excludes:    []string{},
		},
		Run: Run{ResetOnSuccess: true},
	}
	ApplyDefaults(cfg)
	return cfg
}

// Save writes cfg as mpy-sync.yaml into dir.
func Save(dir string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
