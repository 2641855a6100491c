package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"

	"github.com/aquasecurity/vuln-index/nvd"
	"github.com/aquasecurity/vuln-index/utils"
)

const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

type Store struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

type Config struct {
	Sources        []string      `yaml:"sources"`
	MaxAge         time.Duration `yaml:"max_age"`
	Workers        int           `yaml:"workers"`
	Timeout        time.Duration `yaml:"timeout"`
	Retry          int           `yaml:"retry"`
	VerifyChecksum bool          `yaml:"verify_checksum"`
	Store          Store         `yaml:"store"`
	Snapshot       string        `yaml:"snapshot"`
	Replace        bool          `yaml:"replace"`
}

func Default() Config {
	return Config{
		Sources: nvd.DefaultSources(),
		MaxAge:  24 * time.Hour,
		Workers: 4,
		Timeout: 5 * time.Minute,
		Store: Store{
			Type: StoreFile,
			Path: filepath.Join(utils.CacheDir(), "freshness.json"),
		},
		Snapshot: filepath.Join(utils.CacheDir(), "index.json"),
	}
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. An empty path means defaults only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, xerrors.Errorf("failed to read config: %w", err)
		}
		if err = yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, xerrors.Errorf("failed to unmarshal config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := utils.LookupEnv("VULN_INDEX_MAX_AGE", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return xerrors.Errorf("invalid VULN_INDEX_MAX_AGE: %w", err)
		}
		c.MaxAge = d
	}
	if v := utils.LookupEnv("VULN_INDEX_WORKERS", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return xerrors.Errorf("invalid VULN_INDEX_WORKERS: %w", err)
		}
		c.Workers = n
	}
	c.Store.Type = utils.LookupEnv("VULN_INDEX_STORE", c.Store.Type)
	c.Store.Path = utils.LookupEnv("VULN_INDEX_STORE_PATH", c.Store.Path)
	if v := utils.LookupEnv("VULN_INDEX_SOURCES", ""); v != "" {
		c.Sources = nil
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				c.Sources = append(c.Sources, s)
			}
		}
	}
	return nil
}

func (c Config) Validate() error {
	if len(c.Sources) == 0 {
		return xerrors.New("no feed sources configured")
	}
	for _, s := range c.Sources {
		if _, err := url.Parse(strings.TrimPrefix(s, "getter::")); err != nil {
			return xerrors.Errorf("invalid feed source %q: %w", s, err)
		}
	}
	if c.Workers < 1 {
		return xerrors.Errorf("workers must be positive: %d", c.Workers)
	}
	if c.Timeout <= 0 {
		return xerrors.Errorf("timeout must be positive: %s", c.Timeout)
	}
	if c.MaxAge < 0 {
		return xerrors.Errorf("max_age must not be negative: %s", c.MaxAge)
	}
	if c.Retry < 0 {
		return xerrors.Errorf("retry must not be negative: %d", c.Retry)
	}
	switch c.Store.Type {
	case StoreFile, StoreSQLite:
	default:
		return xerrors.Errorf("unknown store type: %s", c.Store.Type)
	}
	if c.Store.Path == "" {
		return xerrors.New("store path is empty")
	}
	return nil
}
