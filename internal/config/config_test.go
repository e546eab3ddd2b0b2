package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	fileName := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(fileName, []byte(content), 0o644))

	return fileName
}

func TestLoad(t *testing.T) {
	fileName := writeConfig(t, `
log_level: debug
minecraft_dir: /games/mc
runtime_dir: /games/runtime
mods_repo:
  zip_url: https://example.com/mods.zip
  subfolder: pack/mods
  probe_ttl: 30s
sync:
  failure_policy: fail-fast
forge:
  mc_version: 1.20.1
  version: 47.2.0
`)

	cfg, err := Load(fileName)
	require.NoError(t, err)

	require.Equal(t, LogLevelDebug, cfg.LogLevel)
	require.Equal(t, "https://example.com/mods.zip", cfg.Repo.ZipURL)
	require.Equal(t, "pack/mods", cfg.Repo.Subfolder)
	require.Equal(t, 30*time.Second, cfg.Repo.ProbeTTL)
	require.Equal(t, FailurePolicyFailFast, cfg.Sync.FailurePolicy)
	require.Equal(t, filepath.Join("/games/mc", "mods"), cfg.ModsDir())
	require.Equal(t, filepath.Join("/games/runtime", "mods-repo"), cfg.RepoDir())
	require.Equal(t, filepath.Join("/games/runtime", "mods-repo", "repo-meta.json"), cfg.MetaPath())
	require.Equal(t, "1.20.1-forge-47.2.0", cfg.Forge.Profile())
	require.Equal(t, "forge-1.20.1-47.2.0-installer.jar", cfg.Forge.InstallerFileName())
	require.True(t, cfg.Forge.Enabled())
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "mods_repo:\n  zip_url: http://localhost/mods.zip\n"))
	require.NoError(t, err)

	require.Equal(t, LogLevelInfo, cfg.LogLevel)
	require.Equal(t, 60*time.Second, cfg.Repo.ProbeTTL)
	require.Equal(t, MetaStoreFile, cfg.Repo.MetaStore)
	require.Equal(t, DefaultNotesFile, cfg.Repo.NotesFile)
	require.Equal(t, FailurePolicyContinue, cfg.Sync.FailurePolicy)
	require.Equal(t, "java", cfg.Java.Executable)
	require.Equal(t, "2G", cfg.Java.MinMemory)
	require.Equal(t, "4G", cfg.Java.MaxMemory)
	require.Equal(t, defaultMainClass, cfg.Launch.MainClass)
	require.Equal(t, defaultArgsFileName, cfg.Launch.ArgsFileName)
	require.Equal(t, RuntimeDirName, filepath.Base(cfg.RuntimeDir))
	require.NotEmpty(t, cfg.MinecraftDir)
	require.False(t, cfg.Forge.Enabled())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MODSYNC_ZIP_URL", "https://mirror.example.com/mods.zip")
	t.Setenv("MODSYNC_MINECRAFT_DIR", "/srv/mc")

	cfg, err := Load(writeConfig(t, "mods_repo:\n  zip_url: http://localhost/mods.zip\n"))
	require.NoError(t, err)

	require.Equal(t, "https://mirror.example.com/mods.zip", cfg.Repo.ZipURL)
	require.Equal(t, "/srv/mc", cfg.MinecraftDir)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "log level", content: "log_level: loud\n"},
		{name: "meta store", content: "mods_repo:\n  meta_store: etcd\n"},
		{name: "redis meta without url", content: "mods_repo:\n  meta_store: redis\n"},
		{name: "policy", content: "sync:\n  failure_policy: retry\n"},
		{name: "events without redis", content: "events:\n  redis_channel: progress\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
		})
	}
}

func TestMustLoadPanics(t *testing.T) {
	require.Panics(t, func() {
		MustLoad(filepath.Join(t.TempDir(), "missing.yml"))
	})
}
