package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces the environment overrides, e.g. MANGABIND_OUTPUT.
const EnvPrefix = "MANGABIND_"

type Config struct {
	Output        string   `yaml:"output" env:"OUTPUT"`
	Formats       []string `yaml:"formats" env:"FORMATS" envSeparator:","`
	VolumeDivisor int      `yaml:"volume_divisor" env:"VOLUME_DIVISOR"`
	PageSize      string   `yaml:"page_size" env:"PAGE_SIZE"`
	Driver        string   `yaml:"driver" env:"DRIVER"`
	SplitOrder    string   `yaml:"split_order" env:"SPLIT_ORDER"`
	JPEGQuality   int      `yaml:"jpeg_quality" env:"JPEG_QUALITY"`
	ExportWorkers int      `yaml:"export_workers" env:"EXPORT_WORKERS"`
	KeepImages    bool     `yaml:"keep_images" env:"KEEP_IMAGES"`
	Overwrite     bool     `yaml:"overwrite" env:"OVERWRITE"`
	Debug         bool     `yaml:"debug" env:"DEBUG"`

	DefaultURL   string `yaml:"default_url" env:"URL"`
	DefaultRange string `yaml:"default_range" env:"RANGE"`
	DefaultList  string `yaml:"default_list" env:"LIST"`

	Cookie           string `yaml:"cookie" env:"COOKIE"`
	CookieFile       string `yaml:"cookie_file" env:"COOKIE_FILE"`
	UserAgent        string `yaml:"user_agent" env:"USER_AGENT"`
	CloudflareBypass bool   `yaml:"cloudflare_bypass" env:"CLOUDFLARE_BYPASS"`

	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	PageSelector      string  `yaml:"page_selector" env:"PAGE_SELECTOR"`
	NextSelector      string  `yaml:"next_selector" env:"NEXT_SELECTOR"`
	ChromeBin         string  `yaml:"chrome_bin" env:"CHROME_BIN"`
	ShowBrowser       bool    `yaml:"show_browser" env:"SHOW_BROWSER"`

	PageReadyTimeout time.Duration `yaml:"page_ready_timeout" env:"PAGE_READY_TIMEOUT"`
	ContentTimeout   time.Duration `yaml:"content_timeout" env:"CONTENT_TIMEOUT"`
}

// Options carries the CLI flags. Zero values mean "not given".
type Options struct {
	IgnoreConfig  bool
	Debug         bool
	Output        string
	Formats       []string
	VolumeDivisor int
	PageSize      string
	Driver        string
	SplitOrder    string
	KeepImages    bool
	Overwrite     bool
	DefaultURL    string
	DefaultRange  string
	DefaultList   string
	Cookie        string
	CookieFile    string
	UserAgent     string
	ShowBrowser   bool
}

func DefaultConfig() *Config {
	return &Config{
		Output:           ".",
		Formats:          []string{"pdf"},
		VolumeDivisor:    0,
		PageSize:         "none",
		Driver:           "static",
		SplitOrder:       "rtl",
		JPEGQuality:      92,
		ExportWorkers:    2,
		PageReadyTimeout: 10 * time.Second,
		ContentTimeout:   60 * time.Second,
	}
}

func SaveYAML(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func loadYAML(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	c := DefaultConfig()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, err
	}

	return c, nil
}

// LoadMerged resolves the effective config: defaults, then the active
// profile, then MANGABIND_* environment variables, then flags. The second
// return value describes where the file layer came from.
func LoadMerged(opts Options) (*Config, string, error) {
	cfg, used, err := loadBase(opts.IgnoreConfig)
	if err != nil {
		return nil, "", err
	}

	if err := applyEnv(cfg); err != nil {
		return nil, "", err
	}

	mergeConfig(cfg, opts)
	normalizeDefaults(cfg)

	return cfg, used, nil
}

func loadBase(ignore bool) (*Config, string, error) {
	if ignore {
		return DefaultConfig(), "(ignored config)", nil
	}

	activePath, err := ActiveConfigPath()
	if err == ErrNoConfig || activePath == "" {
		return DefaultConfig(), "(default config in memory)\nRun `mangabind config init` to create an actual config\n", nil
	}
	if err != nil {
		return nil, "", err
	}

	cfg, err := loadYAML(activePath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config %s: %w", activePath, err)
	}

	return cfg, activePath, nil
}

// applyEnv overrides only the fields whose variables are set.
func applyEnv(c *Config) error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

func mergeConfig(c *Config, o Options) {
	if o.Output != "" {
		c.Output = o.Output
	}
	if len(o.Formats) > 0 {
		c.Formats = o.Formats
	}
	if o.VolumeDivisor != 0 {
		c.VolumeDivisor = o.VolumeDivisor
	}
	if o.PageSize != "" {
		c.PageSize = o.PageSize
	}
	if o.Driver != "" {
		c.Driver = o.Driver
	}
	if o.SplitOrder != "" {
		c.SplitOrder = o.SplitOrder
	}
	if o.KeepImages {
		c.KeepImages = true
	}
	if o.Overwrite {
		c.Overwrite = true
	}
	if o.Debug {
		c.Debug = true
	}
	if o.DefaultURL != "" {
		c.DefaultURL = o.DefaultURL
	}
	if o.DefaultRange != "" {
		c.DefaultRange = o.DefaultRange
	}
	if o.DefaultList != "" {
		c.DefaultList = o.DefaultList
	}
	if o.Cookie != "" {
		c.Cookie = o.Cookie
	}
	if o.CookieFile != "" {
		c.CookieFile = o.CookieFile
	}
	if o.UserAgent != "" {
		c.UserAgent = o.UserAgent
	}
	if o.ShowBrowser {
		c.ShowBrowser = true
	}
}

func normalizeDefaults(c *Config) {
	d := DefaultConfig()
	if c.Output == "" {
		c.Output = d.Output
	}
	if len(c.Formats) == 0 {
		c.Formats = d.Formats
	}
	if c.VolumeDivisor < 0 {
		c.VolumeDivisor = 0
	}
	if c.PageSize == "" {
		c.PageSize = d.PageSize
	}
	if c.Driver == "" {
		c.Driver = d.Driver
	}
	if c.SplitOrder == "" {
		c.SplitOrder = d.SplitOrder
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = d.JPEGQuality
	}
	if c.ExportWorkers <= 0 {
		c.ExportWorkers = d.ExportWorkers
	}
	if c.PageReadyTimeout <= 0 {
		c.PageReadyTimeout = d.PageReadyTimeout
	}
	if c.ContentTimeout <= 0 {
		c.ContentTimeout = d.ContentTimeout
	}
}

func (c *Config) Print() {
	if c.Output != "" {
		fmt.Printf(" -output: %s\n", c.Output)
	}
	fmt.Printf(" -formats: %s\n", strings.Join(c.Formats, ", "))
	if c.VolumeDivisor > 0 {
		fmt.Printf(" -volume_divisor: %d\n", c.VolumeDivisor)
	}
	fmt.Printf(" -page_size: %s\n", c.PageSize)
	fmt.Printf(" -driver: %s\n", c.Driver)
	fmt.Printf(" -split_order: %s\n", c.SplitOrder)
	fmt.Printf(" -jpeg_quality: %d\n", c.JPEGQuality)
	fmt.Printf(" -export_workers: %d\n", c.ExportWorkers)
	if c.KeepImages {
		fmt.Printf(" -keep_images: %t\n", c.KeepImages)
	}
	if c.Overwrite {
		fmt.Printf(" -overwrite: %t\n", c.Overwrite)
	}
	if c.Debug {
		fmt.Printf(" -debug: %t\n", c.Debug)
	}
	if c.DefaultURL != "" {
		fmt.Printf(" -url: %s\n", c.DefaultURL)
	}
	if c.DefaultRange != "" {
		fmt.Printf(" -range: %s\n", c.DefaultRange)
	}
	if c.DefaultList != "" {
		fmt.Printf(" -list: %s\n", c.DefaultList)
	}
	if c.CookieFile != "" {
		fmt.Printf(" -cookie_file: %s\n", c.CookieFile)
	}
	if c.CloudflareBypass {
		fmt.Printf(" -cloudflare_bypass: %t\n", c.CloudflareBypass)
	}
	if c.RequestsPerSecond > 0 {
		fmt.Printf(" -requests_per_second: %g\n", c.RequestsPerSecond)
	}
	if c.PageSelector != "" {
		fmt.Printf(" -page_selector: %s\n", c.PageSelector)
	}
	if c.Driver == "browser" {
		if c.NextSelector != "" {
			fmt.Printf(" -next_selector: %s\n", c.NextSelector)
		}
		if c.ChromeBin != "" {
			fmt.Printf(" -chrome_bin: %s\n", c.ChromeBin)
		}
	}
	fmt.Printf(" -page_ready_timeout: %s\n", c.PageReadyTimeout)
	fmt.Printf(" -content_timeout: %s\n", c.ContentTimeout)
}
