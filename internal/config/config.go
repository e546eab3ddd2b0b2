package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	MetaStoreFile  = "file"
	MetaStoreRedis = "redis"

	FailurePolicyFailFast = "fail-fast"
	FailurePolicyContinue = "continue"

	RepoFolderName   = "mods-repo"
	MetaFileName     = "repo-meta.json"
	ModsFolderName   = "mods"
	ForgeFolderName  = "forge"
	RuntimeDirName   = ".launcher"
	EnvFileName      = ".env"
	EnvPrefix        = "MODSYNC_"
	DefaultNotesFile = "README.md"

	defaultLogLevel     = LogLevelInfo
	defaultListen       = "127.0.0.1:8765"
	defaultProbeTTL     = 60 * time.Second
	defaultProbeTimeout = 10 * time.Second
	defaultDialTimeout  = 15 * time.Second
	defaultArgsFileName = "launcher.args"
	defaultMainClass    = "cpw.mods.bootstraplauncher.BootstrapLauncher"
	defaultJava         = "java"
	defaultMinMemory    = "2G"
	defaultMaxMemory    = "4G"
)

type RepoConfig struct {
	ZipURL       string        `yaml:"zip_url"`
	Subfolder    string        `yaml:"subfolder"`
	ProbeTTL     time.Duration `yaml:"probe_ttl"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	MetaStore    string        `yaml:"meta_store"`
	NotesFile    string        `yaml:"notes_file"`
}

type SyncConfig struct {
	FailurePolicy string `yaml:"failure_policy"`
}

type EventsConfig struct {
	RedisChannel string `yaml:"redis_channel"`
}

type ForgeConfig struct {
	MCVersion    string `yaml:"mc_version"`
	Version      string `yaml:"version"`
	InstallerURL string `yaml:"installer_url"`
	ProfileName  string `yaml:"profile_name"`
}

func (c *ForgeConfig) Enabled() bool {
	return c.MCVersion != "" && c.Version != ""
}

func (c *ForgeConfig) Profile() string {
	if c.ProfileName != "" {
		return c.ProfileName
	}

	return fmt.Sprintf("%s-forge-%s", c.MCVersion, c.Version)
}

func (c *ForgeConfig) InstallerFileName() string {
	return fmt.Sprintf("forge-%s-%s-installer.jar", c.MCVersion, c.Version)
}

type JavaConfig struct {
	Executable string `yaml:"executable"`
	MinMemory  string `yaml:"min_memory"`
	MaxMemory  string `yaml:"max_memory"`
}

type LaunchConfig struct {
	Command      string   `yaml:"command"`
	WorkDir      string   `yaml:"work_dir"`
	JVMArgs      []string `yaml:"jvm_args"`
	Classpath    []string `yaml:"classpath"`
	MainClass    string   `yaml:"main_class"`
	GameArgs     []string `yaml:"game_args"`
	ArgsTemplate string   `yaml:"args_template"`
	ArgsFileName string   `yaml:"args_file_name"`
}

type Config struct {
	LogLevel      string       `yaml:"log_level"`
	Listen        string       `yaml:"listen"`
	MetricsListen string       `yaml:"metrics_listen"`
	RedisURL      string       `yaml:"redis_url"`
	MinecraftDir  string       `yaml:"minecraft_dir"`
	RuntimeDir    string       `yaml:"runtime_dir"`
	Repo          RepoConfig   `yaml:"mods_repo"`
	Sync          SyncConfig   `yaml:"sync"`
	Events        EventsConfig `yaml:"events"`
	Forge         ForgeConfig  `yaml:"forge"`
	Java          JavaConfig   `yaml:"java"`
	Launch        LaunchConfig `yaml:"launch"`
}

func (c *Config) ModsDir() string {
	return filepath.Join(c.MinecraftDir, ModsFolderName)
}

func (c *Config) RepoDir() string {
	return filepath.Join(c.RuntimeDir, RepoFolderName)
}

func (c *Config) MetaPath() string {
	return filepath.Join(c.RepoDir(), MetaFileName)
}

func (c *Config) ForgeDir() string {
	return filepath.Join(c.RuntimeDir, ForgeFolderName)
}

func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}

	if c.Listen == "" {
		c.Listen = defaultListen
	}

	if c.MinecraftDir == "" {
		c.MinecraftDir = defaultMinecraftDir()
	}

	if c.RuntimeDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			wd = "."
		}
		c.RuntimeDir = filepath.Join(wd, RuntimeDirName)
	}

	if c.Repo.ProbeTTL <= 0 {
		c.Repo.ProbeTTL = defaultProbeTTL
	}

	if c.Repo.ProbeTimeout <= 0 {
		c.Repo.ProbeTimeout = defaultProbeTimeout
	}

	if c.Repo.DialTimeout <= 0 {
		c.Repo.DialTimeout = defaultDialTimeout
	}

	if c.Repo.MetaStore == "" {
		c.Repo.MetaStore = MetaStoreFile
	}

	if c.Repo.NotesFile == "" {
		c.Repo.NotesFile = DefaultNotesFile
	}

	if c.Sync.FailurePolicy == "" {
		c.Sync.FailurePolicy = FailurePolicyContinue
	}

	if c.Java.Executable == "" {
		c.Java.Executable = defaultJava
	}

	if c.Java.MinMemory == "" {
		c.Java.MinMemory = defaultMinMemory
	}

	if c.Java.MaxMemory == "" {
		c.Java.MaxMemory = defaultMaxMemory
	}

	if c.Launch.MainClass == "" {
		c.Launch.MainClass = defaultMainClass
	}

	if c.Launch.ArgsFileName == "" {
		c.Launch.ArgsFileName = defaultArgsFileName
	}

	if c.Launch.WorkDir == "" {
		c.Launch.WorkDir = c.MinecraftDir
	}
}

func (c *Config) Validate() error {
	switch c.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		return fmt.Errorf("unknown log level: %s", c.LogLevel)
	}

	switch c.Repo.MetaStore {
	case MetaStoreFile:
	case MetaStoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis_url is required for meta_store %s", MetaStoreRedis)
		}
	default:
		return fmt.Errorf("unknown meta store: %s", c.Repo.MetaStore)
	}

	switch c.Sync.FailurePolicy {
	case FailurePolicyFailFast, FailurePolicyContinue:
	default:
		return fmt.Errorf("unknown failure policy: %s", c.Sync.FailurePolicy)
	}

	if c.Events.RedisChannel != "" && c.RedisURL == "" {
		return fmt.Errorf("redis_url is required for events.redis_channel")
	}

	return nil
}

// Load reads the yaml file, applies .env and MODSYNC_* overrides, then defaults.
// A missing file is not an error when fileName is empty.
func Load(fileName string) (*Config, error) {
	cfg := &Config{}

	if fileName != "" {
		data, err := os.ReadFile(fileName)
		if err != nil {
			return nil, fmt.Errorf("cannot read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file: %w", err)
		}
	}

	if err := godotenv.Load(EnvFileName); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("cannot load %s: %w", EnvFileName, err)
	}

	cfg.applyEnv()
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func MustLoad(fileName string) *Config {
	cfg, err := Load(fileName)
	if err != nil {
		panic(err)
	}

	return cfg
}

func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"ZIP_URL":       &c.Repo.ZipURL,
		"SUBFOLDER":     &c.Repo.Subfolder,
		"LOG_LEVEL":     &c.LogLevel,
		"MINECRAFT_DIR": &c.MinecraftDir,
		"RUNTIME_DIR":   &c.RuntimeDir,
		"REDIS_URL":     &c.RedisURL,
		"LISTEN":        &c.Listen,
	}

	for name, dst := range overrides {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}
}

func defaultMinecraftDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, ".minecraft")
		}

		return filepath.Join(home, "AppData", "Roaming", ".minecraft")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "minecraft")
	}

	return filepath.Join(home, ".minecraft")
}
