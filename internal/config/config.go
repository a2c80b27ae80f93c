// Package config loads and validates scraper configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/browserpool"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/crawler"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/logging"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/pdf"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/progress"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/render"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/retry"
)

// EnvPrefix is prepended to every environment override, e.g.
// SCRAPER_POOL_CAPACITY.
const EnvPrefix = "SCRAPER"

// Config captures every knob loaded via Viper.
type Config struct {
	Browser  BrowserConfig  `mapstructure:"browser"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Render   RenderConfig   `mapstructure:"render"`
	Merge    MergeConfig    `mapstructure:"merge"`
	Output   OutputConfig   `mapstructure:"output"`
	Progress ProgressConfig `mapstructure:"progress"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// BrowserConfig is the fixed launch policy for every pooled browser.
type BrowserConfig struct {
	Headless     bool   `mapstructure:"headless"`
	ExecPath     string `mapstructure:"exec_path"`
	UserAgent    string `mapstructure:"user_agent"`
	WindowWidth  int    `mapstructure:"window_width"`
	WindowHeight int    `mapstructure:"window_height"`
	NoSandbox    bool   `mapstructure:"no_sandbox"`
}

// PoolConfig sizes the browser pool.
type PoolConfig struct {
	Capacity         int           `mapstructure:"capacity"`
	CreateRetryLimit int           `mapstructure:"create_retry_limit"`
	CreateRetryDelay time.Duration `mapstructure:"create_retry_delay"`
	MaxWaiters       int           `mapstructure:"max_waiters"`
}

// RetryConfig is the default retry policy for discovery, rendering, and
// merging.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      string        `mapstructure:"jitter"`
}

// CrawlerConfig governs link discovery.
type CrawlerConfig struct {
	RootURL         string        `mapstructure:"root_url"`
	PathPrefix      string        `mapstructure:"path_prefix"`
	MaxDepth        int           `mapstructure:"max_depth"`
	MaxPages        int           `mapstructure:"max_pages"`
	ExcludePatterns []string      `mapstructure:"exclude_patterns"`
	LinkSelector    string        `mapstructure:"link_selector"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	RespectRobots   bool          `mapstructure:"respect_robots"`
}

// PDFConfig mirrors render.PDFOptions.
type PDFConfig struct {
	Landscape         bool    `mapstructure:"landscape"`
	PrintBackground   bool    `mapstructure:"print_background"`
	PreferCSSPageSize bool    `mapstructure:"prefer_css_page_size"`
	Scale             float64 `mapstructure:"scale"`
	PaperWidth        float64 `mapstructure:"paper_width"`
	PaperHeight       float64 `mapstructure:"paper_height"`
	MarginTop         float64 `mapstructure:"margin_top"`
	MarginBottom      float64 `mapstructure:"margin_bottom"`
	MarginLeft        float64 `mapstructure:"margin_left"`
	MarginRight       float64 `mapstructure:"margin_right"`
}

// RenderConfig governs page rendering.
type RenderConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	WaitSelector    string        `mapstructure:"wait_selector"`
	RemoveSelectors []string      `mapstructure:"remove_selectors"`
	ContentSelector string        `mapstructure:"content_selector"`
	DomainQPS       float64       `mapstructure:"domain_qps"`
	// BatchInterval separates consecutive renders on one worker.
	BatchInterval time.Duration `mapstructure:"batch_interval"`
	PDF           PDFConfig     `mapstructure:"pdf"`
}

// MergeConfig selects the external PDF merge tool.
type MergeConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Binary  string        `mapstructure:"binary"`
	Args    []string      `mapstructure:"args"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// OutputConfig selects where finished PDFs go.
type OutputConfig struct {
	// Provider is local, gcs, or memory for dry runs.
	Provider     string `mapstructure:"provider"`
	Dir          string `mapstructure:"dir"`
	Bucket       string `mapstructure:"bucket"`
	Prefix       string `mapstructure:"prefix"`
	FileName     string `mapstructure:"file_name"`
	CacheControl string `mapstructure:"cache_control"`
	KeepPages    bool   `mapstructure:"keep_pages"`
	// WorkDir holds per-page PDFs during a run; empty uses a temp dir.
	WorkDir string `mapstructure:"work_dir"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	// APIKey, when set, is required on the /v1 routes.
	APIKey string `mapstructure:"api_key"`
}

// DatabaseConfig enables the Postgres run history when DSN is set.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// LoggingConfig selects the log format and the optional file sink.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// Load builds a Config from defaults, an optional file, and SCRAPER_*
// environment variables. With an empty path, ./scraper.{yaml,json,toml} is
// read when present.
func Load(path string) (Config, error) {
	return LoadWithFlags(path, nil)
}

// FlagKeys maps command-line flag names to the config keys they override.
var FlagKeys = map[string]string{
	"url":       "crawler.root_url",
	"capacity":  "pool.capacity",
	"max-pages": "crawler.max_pages",
	"output":    "output.dir",
	"file-name": "output.file_name",
	"serve":     "server.enabled",
	"addr":      "server.addr",
	"log-level": "logging.level",
}

// LoadWithFlags is Load with the FlagKeys flags found in fs bound on top.
// Flags only win when set explicitly.
func LoadWithFlags(path string, fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if fs != nil {
		for name, key := range FlagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("scraper")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	const defaultUA = "docs-pdf-scraper/1.0"
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_agent", defaultUA)
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.no_sandbox", true)

	v.SetDefault("pool.capacity", 1)
	v.SetDefault("pool.create_retry_limit", 3)
	v.SetDefault("pool.create_retry_delay", "5s")
	v.SetDefault("pool.max_waiters", 64)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.max_delay", "30s")
	v.SetDefault("retry.jitter", string(retry.JitterFull))

	v.SetDefault("crawler.root_url", "")
	v.SetDefault("crawler.path_prefix", "")
	v.SetDefault("crawler.max_depth", 0)
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("crawler.exclude_patterns", []string{})
	v.SetDefault("crawler.link_selector", "a[href]")
	v.SetDefault("crawler.request_timeout", "30s")
	v.SetDefault("crawler.respect_robots", true)

	v.SetDefault("render.timeout", "60s")
	v.SetDefault("render.wait_selector", "")
	v.SetDefault("render.remove_selectors", []string{})
	v.SetDefault("render.content_selector", "")
	v.SetDefault("render.domain_qps", 2.0)
	v.SetDefault("render.batch_interval", "500ms")
	v.SetDefault("render.pdf.print_background", true)
	v.SetDefault("render.pdf.margin_top", 0.4)
	v.SetDefault("render.pdf.margin_bottom", 0.4)
	v.SetDefault("render.pdf.margin_left", 0.4)
	v.SetDefault("render.pdf.margin_right", 0.4)

	v.SetDefault("merge.enabled", true)
	v.SetDefault("merge.binary", "pdfunite")
	v.SetDefault("merge.args", []string{})
	v.SetDefault("merge.timeout", "5m")

	v.SetDefault("output.provider", "local")
	v.SetDefault("output.dir", "output")
	v.SetDefault("output.bucket", "")
	v.SetDefault("output.prefix", "")
	v.SetDefault("output.file_name", "docs.pdf")
	v.SetDefault("output.keep_pages", false)
	v.SetDefault("output.work_dir", "")

	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait", "250ms")

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.api_key", "")

	v.SetDefault("database.dsn", "")

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
}

// Validate enforces required values and reasonable limits. The root URL is
// checked separately by ValidateRun because it may come from the command
// line.
func (c Config) Validate() error {
	if c.Pool.Capacity < 1 {
		return fmt.Errorf("pool.capacity must be >= 1")
	}
	if c.Pool.CreateRetryLimit < 1 {
		return fmt.Errorf("pool.create_retry_limit must be >= 1")
	}
	if c.Pool.CreateRetryDelay < 0 {
		return fmt.Errorf("pool.create_retry_delay must be >= 0")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		return fmt.Errorf("retry delays must be >= 0")
	}
	if _, err := retry.ParseStrategy(c.Retry.Jitter); err != nil {
		return fmt.Errorf("retry.jitter: %w", err)
	}
	if c.Crawler.MaxDepth < 0 || c.Crawler.MaxPages < 0 {
		return fmt.Errorf("crawler.max_depth and crawler.max_pages must be >= 0")
	}
	if c.Render.Timeout <= 0 {
		return fmt.Errorf("render.timeout must be > 0")
	}
	if c.Render.DomainQPS < 0 {
		return fmt.Errorf("render.domain_qps must be >= 0")
	}
	if c.Merge.Enabled && strings.TrimSpace(c.Merge.Binary) == "" {
		return fmt.Errorf("merge.binary must be set when merge is enabled")
	}
	switch c.Output.Provider {
	case "local":
		if strings.TrimSpace(c.Output.Dir) == "" {
			return fmt.Errorf("output.dir must be set for the local provider")
		}
	case "gcs":
		if strings.TrimSpace(c.Output.Bucket) == "" {
			return fmt.Errorf("output.bucket must be set for the gcs provider")
		}
	case "memory":
	default:
		return fmt.Errorf("output.provider must be local, gcs or memory, got %q", c.Output.Provider)
	}
	if strings.TrimSpace(c.Output.FileName) == "" {
		return fmt.Errorf("output.file_name must be set")
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr must be set when the server is enabled")
	}
	return nil
}

// ValidateRun checks the settings a scrape needs on top of Validate.
func (c Config) ValidateRun() error {
	if c.Crawler.RootURL == "" {
		return fmt.Errorf("crawler.root_url is required")
	}
	u, err := url.Parse(c.Crawler.RootURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("crawler.root_url must be an absolute http(s) URL, got %q", c.Crawler.RootURL)
	}
	return nil
}

// RetryOptions converts the retry section. Validate has already checked the
// jitter name.
func (c Config) RetryOptions() retry.Options {
	jitter, _ := retry.ParseStrategy(c.Retry.Jitter)
	return retry.Options{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		Multiplier:  c.Retry.Multiplier,
		MaxDelay:    c.Retry.MaxDelay,
		Jitter:      jitter,
	}
}

// PoolRetryOptions is the retry policy around pool initialization.
func (c Config) PoolRetryOptions() retry.Options {
	opts := c.RetryOptions()
	opts.MaxAttempts = c.Pool.CreateRetryLimit
	opts.BaseDelay = c.Pool.CreateRetryDelay
	return opts
}

// PoolConfig converts the browser and pool sections.
func (c Config) PoolConfig() browserpool.Config {
	return browserpool.Config{
		Capacity: c.Pool.Capacity,
		Launch: browserpool.LaunchOptions{
			Headless:     c.Browser.Headless,
			ExecPath:     c.Browser.ExecPath,
			UserAgent:    c.Browser.UserAgent,
			WindowWidth:  c.Browser.WindowWidth,
			WindowHeight: c.Browser.WindowHeight,
			NoSandbox:    c.Browser.NoSandbox,
		},
		CreateRetryLimit: c.Pool.CreateRetryLimit,
		CreateRetryDelay: c.Pool.CreateRetryDelay,
		MaxWaiters:       c.Pool.MaxWaiters,
	}
}

// CrawlerConfig converts the crawler section.
func (c Config) CrawlerConfig() crawler.Config {
	return crawler.Config{
		UserAgent:       c.Browser.UserAgent,
		PathPrefix:      c.Crawler.PathPrefix,
		MaxDepth:        c.Crawler.MaxDepth,
		MaxPages:        c.Crawler.MaxPages,
		ExcludePatterns: append([]string(nil), c.Crawler.ExcludePatterns...),
		LinkSelector:    c.Crawler.LinkSelector,
		RequestTimeout:  c.Crawler.RequestTimeout,
		RespectRobots:   c.Crawler.RespectRobots,
		Retry:           c.RetryOptions(),
	}
}

// RenderConfig converts the render section.
func (c Config) RenderConfig() render.Config {
	p := c.Render.PDF
	return render.Config{
		Timeout:         c.Render.Timeout,
		WaitSelector:    c.Render.WaitSelector,
		RemoveSelectors: append([]string(nil), c.Render.RemoveSelectors...),
		ContentSelector: c.Render.ContentSelector,
		DomainQPS:       c.Render.DomainQPS,
		UserAgent:       c.Browser.UserAgent,
		PDF: render.PDFOptions{
			Landscape:         p.Landscape,
			PrintBackground:   p.PrintBackground,
			PreferCSSPageSize: p.PreferCSSPageSize,
			Scale:             p.Scale,
			PaperWidth:        p.PaperWidth,
			PaperHeight:       p.PaperHeight,
			MarginTop:         p.MarginTop,
			MarginBottom:      p.MarginBottom,
			MarginLeft:        p.MarginLeft,
			MarginRight:       p.MarginRight,
		},
		Retry: c.RetryOptions(),
	}
}

// MergeConfig converts the merge section.
func (c Config) MergeConfig() pdf.Config {
	return pdf.Config{
		Binary:  c.Merge.Binary,
		Args:    append([]string(nil), c.Merge.Args...),
		Timeout: c.Merge.Timeout,
		Retry:   c.RetryOptions(),
	}
}

// ProgressConfig converts the progress section.
func (c Config) ProgressConfig() progress.Config {
	return progress.Config{
		BufferSize:     c.Progress.BufferSize,
		MaxBatchEvents: c.Progress.MaxBatchEvents,
		MaxBatchWait:   c.Progress.MaxBatchWait,
	}
}

// LoggingConfig converts the logging section.
func (c Config) LoggingConfig() logging.Config {
	return logging.Config{
		Development: c.Logging.Development,
		Level:       c.Logging.Level,
		File:        c.Logging.File,
		MaxSizeMB:   c.Logging.MaxSizeMB,
		MaxBackups:  c.Logging.MaxBackups,
		MaxAgeDays:  c.Logging.MaxAgeDays,
	}
}
