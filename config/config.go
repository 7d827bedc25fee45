package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	"h2s_notifier/models"
)

type Config struct {
	Telegram   TelegramConfig
	Store      StoreConfig
	Scheduler  SchedulerConfig
	Scraper    ScraperConfig
	Log        LogConfig
	RedisURL   string
	ConfigPath string
	Groups     []Group
}

type TelegramConfig struct {
	APIKey      string
	DebugChatID string
	APIURL      string
}

type StoreConfig struct {
	Driver      string
	DBPath      string
	DatabaseURL string
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type ScraperConfig struct {
	Transport   string
	Endpoint    string
	PageSize    int
	ProxyURL    string
	Concurrency int
	Headless    bool
}

type LogConfig struct {
	File     string
	MaxBytes int64
}

// Group is one notification target: a chat and the cities it follows.
type Group struct {
	Name       string   `yaml:"name"`
	ChatID     string   `yaml:"chat_id"`
	Cities     []string `yaml:"cities"`
	SendImages bool     `yaml:"send_images"`
}

type groupFile struct {
	Telegram struct {
		Groups []Group `yaml:"groups"`
	} `yaml:"telegram"`
}

// ConfigurationError lists every problem found while loading settings.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

func (e *ConfigurationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Load reads .env, the environment and the group file. An empty path falls
// back to CONFIG_PATH.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Telegram: TelegramConfig{
			APIKey:      os.Getenv("TELEGRAM_API_KEY"),
			DebugChatID: os.Getenv("DEBUGGING_CHAT_ID"),
			APIURL:      os.Getenv("TELEGRAM_API_URL"),
		},
		Store: StoreConfig{
			Driver:      getEnv("STORE_DRIVER", "sqlite"),
			DBPath:      getEnv("DB_PATH", "houses.db"),
			DatabaseURL: os.Getenv("DATABASE_URL"),
		},
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("SCRAPE_CRON"),
		},
		Scraper: ScraperConfig{
			Transport:   getEnv("SCRAPE_TRANSPORT", "http"),
			Endpoint:    os.Getenv("SCRAPE_ENDPOINT"),
			PageSize:    getEnvInt("SCRAPE_PAGE_SIZE", 30),
			ProxyURL:    os.Getenv("HTTP_PROXY_URL"),
			Concurrency: getEnvInt("RUN_CONCURRENCY", 1),
			Headless:    getEnv("BROWSER_HEADLESS", "true") != "false",
		},
		Log: LogConfig{
			File:     getEnv("LOG_FILE", "h2s_notifier.log"),
			MaxBytes: int64(getEnvInt("LOG_MAX_BYTES", 2*1024*1024)),
		},
		RedisURL:   os.Getenv("REDIS_URL"),
		ConfigPath: path,
	}
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = getEnv("CONFIG_PATH", "config.yaml")
	}

	problems := &ConfigurationError{}
	if interval := os.Getenv("SCRAPE_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil || d <= 0 {
			problems.add("SCRAPE_INTERVAL %q is not a positive duration", interval)
		} else {
			cfg.Scheduler.Interval = d
		}
	}

	groups, err := LoadGroups(cfg.ConfigPath)
	if err != nil {
		problems.add("%v", err)
	} else if len(groups) == 0 {
		problems.add("%s defines no telegram groups", cfg.ConfigPath)
	}
	cfg.Groups = groups

	cfg.validate(problems)
	if len(problems.Problems) > 0 {
		return nil, problems
	}
	return cfg, nil
}

// LoadGroups reads the notification groups from a YAML or JSON file.
func LoadGroups(path string) ([]Group, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read group file: %w", err)
	}

	var file groupFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse group file %s: %w", path, err)
	}

	groups := file.Telegram.Groups
	for i := range groups {
		if groups[i].Name == "" {
			groups[i].Name = fmt.Sprintf("group-%d", i+1)
		}
		for j, c := range groups[i].Cities {
			groups[i].Cities[j] = strings.TrimSpace(c)
		}
	}
	return groups, nil
}

func (c *Config) validate(problems *ConfigurationError) {
	if c.Telegram.APIKey == "" {
		problems.add("TELEGRAM_API_KEY is not set")
	}
	if c.Telegram.DebugChatID == "" {
		problems.add("DEBUGGING_CHAT_ID is not set")
	}

	switch c.Store.Driver {
	case "sqlite", "sqlite3":
	case "postgres", "postgresql", "pgx":
		if c.Store.DatabaseURL == "" {
			problems.add("DATABASE_URL is required for STORE_DRIVER=%s", c.Store.Driver)
		}
	default:
		problems.add("unknown STORE_DRIVER %q", c.Store.Driver)
	}

	switch c.Scraper.Transport {
	case "http", "browser":
	default:
		problems.add("unknown SCRAPE_TRANSPORT %q", c.Scraper.Transport)
	}
	if c.Scraper.PageSize < 1 {
		problems.add("SCRAPE_PAGE_SIZE must be at least 1")
	}
	if c.Scraper.Concurrency < 1 {
		problems.add("RUN_CONCURRENCY must be at least 1")
	}

	for _, g := range c.Groups {
		if g.ChatID == "" {
			problems.add("group %s has no chat_id", g.Name)
		}
		if len(g.Cities) == 0 {
			problems.add("group %s has no cities", g.Name)
		}
		if err := models.Cities.Validate(g.Cities...); err != nil {
			problems.add("group %s: %v", g.Name, err)
		}
	}
}

// DSN returns the connection string for the configured store driver.
func (s StoreConfig) DSN() string {
	if strings.HasPrefix(s.Driver, "sqlite") {
		return s.DBPath
	}
	return s.DatabaseURL
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
