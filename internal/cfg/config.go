package cfg

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml"
)

const (
	DefWebhookEndpoint = "/webhook"
	DefStatusEndpoint  = "/status"
	DefTriggerEndpoint = "/trigger"
	DefMetricsEndpoint = "/metrics"

	DefWorkers            = 4
	DefPullTimeout        = 5 * time.Minute
	DefInstallTimeout     = 15 * time.Minute
	DefHealthCheckTimeout = 2 * time.Minute

	DefDependencyFile  = "requirements.txt"
	DefRepositoryQuery = ".repository.name // .project.name // empty"

	DefWebhookSecretEnv = "WEBHOOK_SECRET"
	DefGitUsernameEnv   = "GIT_USERNAME"
	DefGitPasswordEnv   = "GIT_PASSWORD"

	HealthCheckModeMandatory = "mandatory"
	HealthCheckModeAdvisory  = "advisory"
)

type Config struct {
	HTTPListenAddr  string `toml:"http_server_listen_addr"`
	HTTPSListenAddr string `toml:"https_server_listen_addr"`
	HTTPSCertFile   string `toml:"https_ssl_cert_file"`
	HTTPSKeyFile    string `toml:"https_ssl_key_file"`

	WebhookEndpoint string `toml:"webhook_endpoint"`
	StatusEndpoint  string `toml:"status_endpoint"`
	TriggerEndpoint string `toml:"trigger_endpoint"`
	MetricsEndpoint string `toml:"metrics_endpoint"`

	// EnvFile is loaded into the process environment before secrets are
	// resolved.
	EnvFile          string `toml:"env_file"`
	WebhookSecretVal string `toml:"webhook_secret"`
	WebhookSecretEnv string `toml:"webhook_secret_env"`
	TriggerToken     string `toml:"trigger_token"`

	LogFormat  string `toml:"log_format"`
	LogTimeKey string `toml:"log_time_key"`
	LogLevel   string `toml:"log_level"`

	StateFile string `toml:"state_file"`
	Workers   int    `toml:"workers"`

	PullTimeoutStr             string `toml:"pull_timeout"`
	InstallTimeoutStr          string `toml:"install_timeout"`
	HealthCheckTimeoutStr      string `toml:"health_check_timeout"`
	PeriodicTriggerIntervalStr string `toml:"periodic_trigger_interval"`
	TriggerOnStartup           bool   `toml:"trigger_on_startup"`

	RepositoryQuery string `toml:"repository_query"`
	ScanDir         string `toml:"scan_dir"`

	Defaults     RepositoryDefaults `toml:"defaults"`
	Repositories []*Repository      `toml:"repository"`

	PullTimeout             time.Duration `toml:"-"`
	InstallTimeout          time.Duration `toml:"-"`
	HealthCheckTimeout      time.Duration `toml:"-"`
	PeriodicTriggerInterval time.Duration `toml:"-"`
}

// RepositoryDefaults are applied to all repositories that do not overwrite
// the setting.
type RepositoryDefaults struct {
	Branch             string   `toml:"branch"`
	DependencyFile     string   `toml:"dependency_file"`
	InstallCommand     []string `toml:"install_command"`
	HealthCheckCommand []string `toml:"health_check_command"`
	HealthCheckURL     string   `toml:"health_check_url"`
	HealthCheckMode    string   `toml:"health_check_mode"`
	UsernameEnv        string   `toml:"username_env"`
	PasswordEnv        string   `toml:"password_env"`
}

// Repository describes a tracked repository.
type Repository struct {
	Name      string `toml:"name"`
	Path      string `toml:"path"`
	RemoteURL string `toml:"remote_url"`
	RepositoryDefaults
}

// DefInstallCommand returns the command that is used to install the
// dependencies declared in dependencyFile when no install_command is
// configured.
func DefInstallCommand(dependencyFile string) []string {
	return []string{"python3", "-m", "pip", "install", "-r", dependencyFile}
}

func Load(reader io.Reader) (*Config, error) {
	var result Config

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	if err := result.setDefaults(); err != nil {
		return nil, err
	}

	if err := result.validate(); err != nil {
		return nil, err
	}

	return &result, nil
}

func (r *Config) Marshal(writer io.Writer) error {
	return toml.NewEncoder(writer).Encode(r)
}

func parseDuration(name, val string, def time.Duration) (time.Duration, error) {
	if val == "" {
		return def, nil
	}

	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}

	if d < 0 {
		return 0, fmt.Errorf("%s: must be >=0, is: %s", name, d)
	}

	return d, nil
}

func (r *Config) setDefaults() error {
	var err error

	if r.WebhookEndpoint == "" {
		r.WebhookEndpoint = DefWebhookEndpoint
	}
	if r.StatusEndpoint == "" {
		r.StatusEndpoint = DefStatusEndpoint
	}
	if r.TriggerEndpoint == "" {
		r.TriggerEndpoint = DefTriggerEndpoint
	}
	if r.MetricsEndpoint == "" {
		r.MetricsEndpoint = DefMetricsEndpoint
	}
	if r.WebhookSecretEnv == "" {
		r.WebhookSecretEnv = DefWebhookSecretEnv
	}
	if r.LogFormat == "" {
		r.LogFormat = "logfmt"
	}
	if r.LogTimeKey == "" {
		r.LogTimeKey = "time_iso8601"
	}
	if r.LogLevel == "" {
		r.LogLevel = "info"
	}
	if r.Workers == 0 {
		r.Workers = DefWorkers
	}
	if r.RepositoryQuery == "" {
		r.RepositoryQuery = DefRepositoryQuery
	}

	if r.Defaults.DependencyFile == "" {
		r.Defaults.DependencyFile = DefDependencyFile
	}
	if r.Defaults.HealthCheckMode == "" {
		r.Defaults.HealthCheckMode = HealthCheckModeMandatory
	}
	if r.Defaults.UsernameEnv == "" {
		r.Defaults.UsernameEnv = DefGitUsernameEnv
	}
	if r.Defaults.PasswordEnv == "" {
		r.Defaults.PasswordEnv = DefGitPasswordEnv
	}

	if r.PullTimeout, err = parseDuration("pull_timeout", r.PullTimeoutStr, DefPullTimeout); err != nil {
		return err
	}
	if r.InstallTimeout, err = parseDuration("install_timeout", r.InstallTimeoutStr, DefInstallTimeout); err != nil {
		return err
	}
	if r.HealthCheckTimeout, err = parseDuration("health_check_timeout", r.HealthCheckTimeoutStr, DefHealthCheckTimeout); err != nil {
		return err
	}
	if r.PeriodicTriggerInterval, err = parseDuration("periodic_trigger_interval", r.PeriodicTriggerIntervalStr, 0); err != nil {
		return err
	}

	for _, repo := range r.Repositories {
		repo.applyDefaults(&r.Defaults)
	}

	return nil
}

func (r *Repository) applyDefaults(def *RepositoryDefaults) {
	if r.Branch == "" {
		r.Branch = def.Branch
	}
	if r.DependencyFile == "" {
		r.DependencyFile = def.DependencyFile
	}
	if len(r.InstallCommand) == 0 {
		r.InstallCommand = def.InstallCommand
	}
	if len(r.InstallCommand) == 0 && r.DependencyFile != "" {
		r.InstallCommand = DefInstallCommand(r.DependencyFile)
	}
	if len(r.HealthCheckCommand) == 0 {
		r.HealthCheckCommand = def.HealthCheckCommand
	}
	if r.HealthCheckURL == "" {
		r.HealthCheckURL = def.HealthCheckURL
	}
	if r.HealthCheckMode == "" {
		r.HealthCheckMode = def.HealthCheckMode
	}
	if r.UsernameEnv == "" {
		r.UsernameEnv = def.UsernameEnv
	}
	if r.PasswordEnv == "" {
		r.PasswordEnv = def.PasswordEnv
	}
}

func validHealthCheckMode(mode string) bool {
	return mode == HealthCheckModeMandatory || mode == HealthCheckModeAdvisory
}

func (r *Config) validate() error {
	if r.HTTPListenAddr == "" && r.HTTPSListenAddr == "" {
		return errors.New("https_server_listen_addr or http_server_listen_addr must be defined, both are unset")
	}

	if r.Workers < 0 {
		return fmt.Errorf("workers: must be >0, is: %d", r.Workers)
	}

	if !validHealthCheckMode(r.Defaults.HealthCheckMode) {
		return fmt.Errorf("defaults: health_check_mode: unsupported value: %q", r.Defaults.HealthCheckMode)
	}

	names := make(map[string]struct{}, len(r.Repositories))
	for i, repo := range r.Repositories {
		if repo.Name == "" {
			return fmt.Errorf("repository %d: missing field: 'name'", i)
		}

		if repo.Path == "" {
			return fmt.Errorf("repository %s: missing field: 'path'", repo.Name)
		}

		if _, exist := names[repo.Name]; exist {
			return fmt.Errorf("repository %s: defined multiple times", repo.Name)
		}
		names[repo.Name] = struct{}{}

		if !validHealthCheckMode(repo.HealthCheckMode) {
			return fmt.Errorf("repository %s: health_check_mode: unsupported value: %q", repo.Name, repo.HealthCheckMode)
		}
	}

	if len(r.Repositories) == 0 && r.ScanDir == "" {
		return errors.New("no repositories are tracked, either scan_dir or a repository section must be defined")
	}

	return nil
}

// LoadEnvFile loads the variables from EnvFile into the process environment.
// Variables that are already set are not overwritten.
// If EnvFile is empty, nothing is done.
func (r *Config) LoadEnvFile() error {
	if r.EnvFile == "" {
		return nil
	}

	return godotenv.Load(r.EnvFile)
}

// WebhookSecret returns the shared webhook secret.
// The webhook_secret setting has precedence over the environment variable.
func (r *Config) WebhookSecret() string {
	if r.WebhookSecretVal != "" {
		return r.WebhookSecretVal
	}

	return os.Getenv(r.WebhookSecretEnv)
}

// TrackedRepositories returns the explicitly configured repositories and the
// git repositories found in ScanDir.
// Repositories in ScanDir with the same name as an explicitly configured one
// are ignored.
func (r *Config) TrackedRepositories() ([]*Repository, error) {
	result := make([]*Repository, 0, len(r.Repositories))
	names := make(map[string]struct{}, len(r.Repositories))

	for _, repo := range r.Repositories {
		result = append(result, repo)
		names[repo.Name] = struct{}{}
	}

	if r.ScanDir == "" {
		return result, nil
	}

	scanned, err := ScanGitRepositories(r.ScanDir)
	if err != nil {
		return nil, fmt.Errorf("scanning %s for git repositories failed: %w", r.ScanDir, err)
	}

	for _, repo := range scanned {
		if _, exist := names[repo.Name]; exist {
			continue
		}

		repo.applyDefaults(&r.Defaults)
		result = append(result, repo)
	}

	return result, nil
}

// ScanGitRepositories returns a Repository for every direct subdirectory of
// dir that contains a .git directory.
// The result is sorted by the name of the directories.
func ScanGitRepositories(dir string) ([]*Repository, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var result []*Repository
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}

		path := filepath.Join(dir, e.Name())
		fi, err := os.Stat(filepath.Join(path, ".git"))
		if err != nil || !fi.IsDir() {
			continue
		}

		result = append(result, &Repository{
			Name: e.Name(),
			Path: path,
		})
	}

	return result, nil
}

// Username returns the git username from the environment.
func (r *Repository) Username() string {
	if r.UsernameEnv == "" {
		return ""
	}

	return os.Getenv(r.UsernameEnv)
}

// Password returns the git password from the environment.
func (r *Repository) Password() string {
	if r.PasswordEnv == "" {
		return ""
	}

	return os.Getenv(r.PasswordEnv)
}
