package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/listing-scraper/internal/browser"
	"github.com/maltedev/listing-scraper/internal/crawler"
	"github.com/maltedev/listing-scraper/internal/database"
)

type Config struct {
	Server   ServerConfig
	Crawl    CrawlConfig
	Browser  BrowserConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Jobs     JobsConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type CrawlConfig struct {
	Profile       string
	ProfilesFile  string
	PageLoadWait  time.Duration
	MaxPages      int
	MaxRecords    int
	Pagination    bool
	MaxDuration   time.Duration
	ScrollCycles  int
	ScrollSettle  time.Duration
	PageDelayMin  time.Duration
	PageDelayMax  time.Duration
	ScreenshotDir string
}

type BrowserConfig struct {
	Driver         string
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ProxyServer    string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	MaxConns int32
}

type RedisConfig struct {
	Enabled       bool
	Addr          string
	Password      string
	DB            int
	RelayInterval time.Duration
	RelayBatch    int
	// RequestStream, when set, is consumed for CRAWL_REQUESTED events.
	RequestStream string
	ConsumerGroup string
	ConsumerName  string
}

type StorageConfig struct {
	OutputDir      string
	Format         string
	HistoryFile    string
	DownloadImages bool
	ImageDir       string
	ImageWorkers   int
	ImageTimeout   time.Duration
}

type JobsConfig struct {
	Workers   int
	QueueSize int
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getIntOrDefault("SERVER_PORT", 8085),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Crawl: CrawlConfig{
			Profile:       getEnvOrDefault("CRAWL_PROFILE", "auto"),
			ProfilesFile:  getEnvOrDefault("CRAWL_PROFILES_FILE", ""),
			PageLoadWait:  getDurationOrDefault("CRAWL_PAGE_LOAD_WAIT", 10*time.Second),
			MaxPages:      getIntOrDefault("CRAWL_MAX_PAGES", 5),
			MaxRecords:    getIntOrDefault("CRAWL_MAX_RECORDS", 0),
			Pagination:    getBoolOrDefault("CRAWL_PAGINATION", true),
			MaxDuration:   getDurationOrDefault("CRAWL_MAX_DURATION", 10*time.Minute),
			ScrollCycles:  getIntOrDefault("CRAWL_SCROLL_CYCLES", 5),
			ScrollSettle:  getDurationOrDefault("CRAWL_SCROLL_SETTLE", time.Second),
			PageDelayMin:  getDurationOrDefault("CRAWL_PAGE_DELAY_MIN", 2*time.Second),
			PageDelayMax:  getDurationOrDefault("CRAWL_PAGE_DELAY_MAX", 5*time.Second),
			ScreenshotDir: getEnvOrDefault("CRAWL_SCREENSHOT_DIR", "screenshots"),
		},
		Browser: BrowserConfig{
			Driver:         getEnvOrDefault("BROWSER_DRIVER", browser.DriverPlaywright),
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			UserAgent:      getEnvOrDefault("BROWSER_USER_AGENT", browser.DefaultOptions().UserAgent),
			ProxyServer:    getEnvOrDefault("BROWSER_PROXY", ""),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "en-US,en;q=0.9"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "America/New_York"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "en-US"),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolOrDefault("DB_ENABLED", false),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Name:     getEnvOrDefault("DB_NAME", "listing_scraper"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Enabled:       getBoolOrDefault("REDIS_ENABLED", false),
			Addr:          getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password:      getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:            getIntOrDefault("REDIS_DB", 0),
			RelayInterval: getDurationOrDefault("RELAY_INTERVAL", 5*time.Second),
			RelayBatch:    getIntOrDefault("RELAY_BATCH_SIZE", 100),
			RequestStream: getEnvOrDefault("REDIS_REQUEST_STREAM", ""),
			ConsumerGroup: getEnvOrDefault("REDIS_CONSUMER_GROUP", "listing-scraper-group"),
			ConsumerName:  getEnvOrDefault("REDIS_CONSUMER_NAME", hostname()),
		},
		Storage: StorageConfig{
			OutputDir:      getEnvOrDefault("STORAGE_OUTPUT_DIR", "output"),
			Format:         strings.ToLower(getEnvOrDefault("STORAGE_FORMAT", "json")),
			HistoryFile:    getEnvOrDefault("STORAGE_HISTORY_FILE", "output/history.json"),
			DownloadImages: getBoolOrDefault("STORAGE_DOWNLOAD_IMAGES", false),
			ImageDir:       getEnvOrDefault("STORAGE_IMAGE_DIR", "output/images"),
			ImageWorkers:   getIntOrDefault("STORAGE_IMAGE_WORKERS", 4),
			ImageTimeout:   getDurationOrDefault("STORAGE_IMAGE_TIMEOUT", 15*time.Second),
		},
		Jobs: JobsConfig{
			Workers:   getIntOrDefault("JOBS_WORKERS", 1),
			QueueSize: getIntOrDefault("JOBS_QUEUE_SIZE", 100),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Crawl.MaxPages < 1 {
		return fmt.Errorf("CRAWL_MAX_PAGES must be at least 1")
	}

	if c.Crawl.MaxRecords < 0 {
		return fmt.Errorf("CRAWL_MAX_RECORDS cannot be negative")
	}

	if c.Crawl.PageDelayMin > c.Crawl.PageDelayMax {
		return fmt.Errorf("CRAWL_PAGE_DELAY_MIN cannot be greater than CRAWL_PAGE_DELAY_MAX")
	}

	switch strings.ToLower(c.Browser.Driver) {
	case browser.DriverPlaywright, browser.DriverChromedp:
	default:
		return fmt.Errorf("unsupported BROWSER_DRIVER: %s", c.Browser.Driver)
	}

	if c.Jobs.Workers < 1 {
		return fmt.Errorf("JOBS_WORKERS must be at least 1")
	}

	if c.Storage.Format != "json" && c.Storage.Format != "csv" {
		return fmt.Errorf("unsupported STORAGE_FORMAT: %s", c.Storage.Format)
	}

	if c.Storage.ImageWorkers < 1 {
		return fmt.Errorf("STORAGE_IMAGE_WORKERS must be at least 1")
	}

	if c.Redis.Enabled && !c.Database.Enabled {
		return fmt.Errorf("REDIS_ENABLED requires DB_ENABLED: events are relayed from the outbox")
	}

	return nil
}

// CrawlerOptions maps the crawl section onto session options.
func (c *Config) CrawlerOptions() crawler.Options {
	return crawler.Options{
		Profile:       c.Crawl.Profile,
		PageLoadWait:  c.Crawl.PageLoadWait,
		MaxPages:      c.Crawl.MaxPages,
		MaxRecords:    c.Crawl.MaxRecords,
		Pagination:    c.Crawl.Pagination,
		MaxDuration:   c.Crawl.MaxDuration,
		ScrollCycles:  c.Crawl.ScrollCycles,
		ScrollSettle:  c.Crawl.ScrollSettle,
		PageDelayMin:  c.Crawl.PageDelayMin,
		PageDelayMax:  c.Crawl.PageDelayMax,
		ScreenshotDir: c.Crawl.ScreenshotDir,
	}
}

// BrowserOptions maps the browser section onto launcher options. Proxy and
// user agent pass through untouched.
func (c *Config) BrowserOptions() *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = c.Browser.Headless
	opts.Timeout = c.Browser.Timeout
	opts.UserAgent = c.Browser.UserAgent
	opts.ProxyServer = c.Browser.ProxyServer
	opts.ViewportWidth = c.Browser.ViewportWidth
	opts.ViewportHeight = c.Browser.ViewportHeight
	opts.AcceptLanguage = c.Browser.AcceptLanguage
	opts.TimezoneID = c.Browser.TimezoneID
	opts.Locale = c.Browser.Locale
	return opts
}

func (c *Config) DatabaseConfig() database.Config {
	return database.Config{
		Host:        c.Database.Host,
		Port:        c.Database.Port,
		User:        c.Database.User,
		Password:    c.Database.Password,
		Database:    c.Database.Name,
		MaxConns:    c.Database.MaxConns,
		MinConns:    1,
		MaxConnLife: time.Hour,
		MaxConnIdle: 30 * time.Minute,
	}
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "consumer-1"
	}
	return name
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
