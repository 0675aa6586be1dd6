package cfg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCfg = `
http_server_listen_addr = ":5005"
webhook_secret = "s3cret"
pull_timeout = "30s"
periodic_trigger_interval = "1h"
trigger_on_startup = true

[defaults]
install_command = ["python3", "-m", "pip", "install", "-r", "requirements.txt"]
health_check_command = ["python3", "-m", "compileall", "-q", "."]

[[repository]]
name = "api"
path = "/srv/api"
remote_url = "https://git.example.com/team/api.git"
branch = "main"

[[repository]]
name = "worker"
path = "/srv/worker"
dependency_file = "worker/requirements.txt"
health_check_mode = "advisory"
install_command = ["make", "deps"]
`

func TestLoad(t *testing.T) {
	config, err := Load(strings.NewReader(testCfg))
	require.NoError(t, err)

	assert.Equal(t, ":5005", config.HTTPListenAddr)
	assert.Equal(t, DefWebhookEndpoint, config.WebhookEndpoint)
	assert.Equal(t, DefStatusEndpoint, config.StatusEndpoint)
	assert.Equal(t, "s3cret", config.WebhookSecret())
	assert.Equal(t, 30*time.Second, config.PullTimeout)
	assert.Equal(t, DefInstallTimeout, config.InstallTimeout)
	assert.Equal(t, time.Hour, config.PeriodicTriggerInterval)
	assert.True(t, config.TriggerOnStartup)
	assert.Equal(t, DefWorkers, config.Workers)
	assert.Equal(t, "logfmt", config.LogFormat)

	require.Len(t, config.Repositories, 2)

	api := config.Repositories[0]
	assert.Equal(t, "api", api.Name)
	assert.Equal(t, "main", api.Branch)
	assert.Equal(t, DefDependencyFile, api.DependencyFile)
	assert.Equal(t, []string{"python3", "-m", "pip", "install", "-r", "requirements.txt"}, api.InstallCommand)
	assert.Equal(t, HealthCheckModeMandatory, api.HealthCheckMode)
	assert.Equal(t, DefGitUsernameEnv, api.UsernameEnv)

	worker := config.Repositories[1]
	assert.Equal(t, "worker/requirements.txt", worker.DependencyFile)
	assert.Equal(t, []string{"make", "deps"}, worker.InstallCommand)
	assert.Equal(t, HealthCheckModeAdvisory, worker.HealthCheckMode)
	assert.Equal(t, []string{"python3", "-m", "compileall", "-q", "."}, worker.HealthCheckCommand)
}

func TestLoadFailsOnInvalidConfigs(t *testing.T) {
	testcases := []struct {
		name string
		cfg  string
	}{
		{
			name: "noListenAddr",
			cfg:  "scan_dir = \"/srv\"\n",
		},
		{
			name: "noRepositories",
			cfg:  "http_server_listen_addr = \":80\"\n",
		},
		{
			name: "repositoryWithoutPath",
			cfg:  "http_server_listen_addr = \":80\"\n[[repository]]\nname = \"a\"\n",
		},
		{
			name: "duplicateRepository",
			cfg:  "http_server_listen_addr = \":80\"\n[[repository]]\nname = \"a\"\npath = \"/a\"\n[[repository]]\nname = \"a\"\npath = \"/b\"\n",
		},
		{
			name: "invalidDuration",
			cfg:  "http_server_listen_addr = \":80\"\nscan_dir = \"/srv\"\npull_timeout = \"soon\"\n",
		},
		{
			name: "invalidHealthCheckMode",
			cfg:  "http_server_listen_addr = \":80\"\nscan_dir = \"/srv\"\n[defaults]\nhealth_check_mode = \"sometimes\"\n",
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tc.cfg))
			assert.Error(t, err)
		})
	}
}

func TestWebhookSecretFromEnvFile(t *testing.T) {
	const envVar = "DEPLOYD_TEST_WEBHOOK_SECRET"

	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(envVar+"=fromenvfile\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv(envVar) })

	config, err := Load(strings.NewReader(
		"http_server_listen_addr = \":80\"\nscan_dir = \"/srv\"\n" +
			"webhook_secret_env = \"" + envVar + "\"\n" +
			"env_file = \"" + envFile + "\"\n",
	))
	require.NoError(t, err)

	require.NoError(t, config.LoadEnvFile())
	assert.Equal(t, "fromenvfile", config.WebhookSecret())
}

func TestTrackedRepositoriesScansDir(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bravo", ".git"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "alpha", ".git"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "notarepo"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "explicit", ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file"), nil, 0o600))

	config, err := Load(strings.NewReader(
		"http_server_listen_addr = \":80\"\n" +
			"scan_dir = \"" + dir + "\"\n" +
			"[[repository]]\nname = \"explicit\"\npath = \"/elsewhere\"\n",
	))
	require.NoError(t, err)

	repos, err := config.TrackedRepositories()
	require.NoError(t, err)
	require.Len(t, repos, 3)

	assert.Equal(t, "explicit", repos[0].Name)
	assert.Equal(t, "/elsewhere", repos[0].Path)
	assert.Equal(t, "alpha", repos[1].Name)
	assert.Equal(t, filepath.Join(dir, "alpha"), repos[1].Path)
	assert.Equal(t, DefDependencyFile, repos[1].DependencyFile)
	assert.Equal(t, DefInstallCommand(DefDependencyFile), repos[1].InstallCommand)
	assert.Equal(t, "bravo", repos[2].Name)
}

func TestLoadDistConfig(t *testing.T) {
	f, err := os.Open(filepath.Join("..", "..", "dist", "config.toml"))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	config, err := Load(f)
	require.NoError(t, err)

	assert.Equal(t, "/srv/apps", config.ScanDir)
	assert.Zero(t, config.PeriodicTriggerInterval)
	require.Len(t, config.Repositories, 1)
	assert.Equal(t, "http://localhost:8000/healthz", config.Repositories[0].HealthCheckURL)
	assert.Equal(t, HealthCheckModeMandatory, config.Repositories[0].HealthCheckMode)
}
