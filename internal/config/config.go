package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/opendms/docsync/internal/utils"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".docsync", "config.json")
	DefaultDataDir    = filepath.Join(home, "DocSync")
	DefaultLogFile    = filepath.Join(home, ".docsync", "logs", "docsync.log")
)

const (
	// DefaultChunkSize selects chunked transfers; 0 would mean single-request.
	DefaultChunkSize = int64(1 << 20) // 1 MiB

	// DefaultChangeLogPageSize bounds one change-log page. Must be > 1.
	DefaultChangeLogPageSize = 100

	DefaultPollInterval = 5 * time.Second
)

// Config is the explicit configuration value threaded through every
// component constructor. There is no process-wide configuration singleton.
type Config struct {
	DataDir           string        `json:"data_dir"`
	ServerURL         string        `json:"server_url"`
	RepositoryID      string        `json:"repository_id"`
	RemoteFolderID    string        `json:"remote_folder_id"`
	Username          string        `json:"username"`
	Password          string        `json:"-"`
	DeviceID          string        `json:"device_id"`
	ChunkSize         int64         `json:"chunk_size"`
	ChangeLogPageSize int           `json:"changelog_page_size"`
	PollInterval      time.Duration `json:"poll_interval"`
	Path              string        `json:"-"`
}

// DeviceIdentifier returns a stable per-device id, preferring the machine id
// and falling back to a random UUID.
func DeviceIdentifier() string {
	if id, err := machineid.ProtectedID("docsync"); err == nil && id != "" {
		return id
	}
	return uuid.NewString()
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data dir is required")
	}
	if c.ServerURL == "" {
		return errors.New("server url is required")
	}
	if _, err := url.Parse(c.ServerURL); err != nil {
		return fmt.Errorf("invalid server url %q: %w", c.ServerURL, err)
	}
	if c.RepositoryID == "" {
		return errors.New("repository id is required")
	}
	if c.ChunkSize < 0 {
		return errors.New("chunk size must be >= 0")
	}
	if c.ChangeLogPageSize <= 1 {
		return errors.New("changelog page size must be > 1")
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.DeviceID == "" {
		c.DeviceID = DeviceIdentifier()
	}

	resolved, err := utils.ResolvePath(c.DataDir)
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}
	c.DataDir = resolved
	return nil
}

func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.Path = path
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChangeLogPageSize == 0 {
		cfg.ChangeLogPageSize = DefaultChangeLogPageSize
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	return &cfg, nil
}
