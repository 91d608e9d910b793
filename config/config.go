// Package config defines the tasksync application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/tasksync/automation"
	"github.com/GoCodeAlone/tasksync/milestone"
)

// Config is the top-level tasksync configuration.
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Auth       AuthConfig       `json:"auth" yaml:"auth"`
	Notion     NotionConfig     `json:"notion" yaml:"notion"`
	Databases  DatabasesConfig  `json:"databases" yaml:"databases"`
	WeekMap    WeekMapConfig    `json:"weekmap" yaml:"weekmap"`
	Proxy      ProxyConfig      `json:"proxy" yaml:"proxy"`
	Automation AutomationConfig `json:"automation" yaml:"automation"`
	Schedule   ScheduleConfig   `json:"schedule" yaml:"schedule"`
	Schema     milestone.Schema `json:"schema" yaml:"schema"`
	DataDir    string           `json:"data_dir" yaml:"data_dir"`
	LogLevel   string           `json:"log_level" yaml:"log_level"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"` // listen address, e.g., ":8888"
}

// AuthConfig controls admin authentication for the run history routes.
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"`
	AdminUser string `json:"admin_user" yaml:"admin_user"`
	AdminPass string `json:"admin_pass" yaml:"admin_pass"` // bcrypt hash
}

// NotionConfig controls the remote API client.
type NotionConfig struct {
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Version string        `json:"version" yaml:"version"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	Token   string        `json:"-" yaml:"token"` // CLI and scheduled runs only
}

// DatabasesConfig names the default collections.
type DatabasesConfig struct {
	Tasks      string `json:"tasks" yaml:"tasks"`
	Milestones string `json:"milestones" yaml:"milestones"`
}

// WeekMapConfig locates the week mapping document. An empty path uses the
// built-in document.
type WeekMapConfig struct {
	Path  string `json:"path" yaml:"path"`
	Watch bool   `json:"watch" yaml:"watch"`
}

// ProxyConfig tunes the query proxy.
type ProxyConfig struct {
	MaxPageSize           int      `json:"max_page_size" yaml:"max_page_size"`
	RemovedSortProperties []string `json:"removed_sort_properties" yaml:"removed_sort_properties"`
}

// AutomationConfig tunes task conversion and week reference sync.
type AutomationConfig struct {
	PlannedStatus    string        `json:"planned_status" yaml:"planned_status"`
	InProgressStatus string        `json:"in_progress_status" yaml:"in_progress_status"`
	TransitionStatus bool          `json:"transition_status" yaml:"transition_status"`
	DuplicateCheck   bool          `json:"duplicate_check" yaml:"duplicate_check"`
	WeekDetails      bool          `json:"week_details" yaml:"week_details"`
	SyncDelay        time.Duration `json:"sync_delay" yaml:"sync_delay"`
}

// ScheduleConfig holds cron specs for unattended runs. An empty spec
// disables that action.
type ScheduleConfig struct {
	ConvertTasks       string `json:"convert_tasks" yaml:"convert_tasks"`
	SyncWeekReferences string `json:"sync_week_references" yaml:"sync_week_references"`
	Token              string `json:"-" yaml:"token"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8888",
		},
		Auth: AuthConfig{
			AdminUser: "admin",
		},
		Notion: NotionConfig{
			BaseURL: "https://api.notion.com",
			Version: "2022-06-28",
			Timeout: 30 * time.Second,
		},
		Databases: DatabasesConfig{
			Tasks:      "e1cdae69-6ef0-442f-9777-01c2d7473b66",
			Milestones: "dab40b08-41d9-4457-bb96-471835d466b7",
		},
		Proxy: ProxyConfig{
			MaxPageSize:           100,
			RemovedSortProperties: []string{"Week"},
		},
		Automation: AutomationConfig{
			PlannedStatus:    milestone.StatusPlanned,
			InProgressStatus: milestone.StatusInProgress,
			TransitionStatus: true,
			DuplicateCheck:   true,
			WeekDetails:      true,
			SyncDelay:        50 * time.Millisecond,
		},
		Schema:   milestone.DefaultSchema(),
		DataDir:  "./data",
		LogLevel: "info",
	}
}

// Load reads a YAML config file over DefaultConfig. It does not validate:
// callers apply flag and environment overrides first, then call Validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	if c.Proxy.MaxPageSize <= 0 || c.Proxy.MaxPageSize > 100 {
		return fmt.Errorf("proxy.max_page_size must be between 1 and 100, got %d", c.Proxy.MaxPageSize)
	}
	if c.Automation.SyncDelay < 0 {
		return fmt.Errorf("automation.sync_delay must not be negative")
	}
	if (c.Schedule.ConvertTasks != "" || c.Schedule.SyncWeekReferences != "") && c.Schedule.Token == "" && c.Notion.Token == "" {
		return fmt.Errorf("schedule requires schedule.token or notion.token")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// AutomationOptions converts the automation settings for the engine.
// Empty database ids fall back to the configured defaults.
func (c *Config) AutomationOptions(tasksDB, milestonesDB string) automation.Options {
	if tasksDB == "" {
		tasksDB = c.Databases.Tasks
	}
	if milestonesDB == "" {
		milestonesDB = c.Databases.Milestones
	}
	opts := automation.Options{
		TasksDB:        tasksDB,
		MilestonesDB:   milestonesDB,
		PlannedStatus:  c.Automation.PlannedStatus,
		DuplicateCheck: c.Automation.DuplicateCheck,
		WeekDetails:    c.Automation.WeekDetails,
		SyncDelay:      c.Automation.SyncDelay,
	}
	if c.Automation.TransitionStatus {
		opts.InProgressStatus = c.Automation.InProgressStatus
	}
	return opts
}

// RunsDBPath is the run journal location inside DataDir.
func (c *Config) RunsDBPath() string {
	return filepath.Join(c.DataDir, "runs.db")
}

// ScheduleToken is the token scheduled runs use.
func (c *Config) ScheduleToken() string {
	if c.Schedule.Token != "" {
		return c.Schedule.Token
	}
	return c.Notion.Token
}

// ParseLevel maps a log_level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log_level %q", s)
	}
}
