package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	Sheets     SheetsConfig     `yaml:"sheets" mapstructure:"sheets"`
	Snapshot   SnapshotConfig   `yaml:"snapshot" mapstructure:"snapshot"`
	Guarantee  GuaranteeConfig  `yaml:"guarantee" mapstructure:"guarantee"`
	Crawl      CrawlConfig      `yaml:"crawl" mapstructure:"crawl"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// GoogleConfig holds service-account credentials for the Sheets API.
// CredentialsJSON wins over CredentialsFile when both are set.
type GoogleConfig struct {
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
	CredentialsJSON string `yaml:"credentials_json" mapstructure:"credentials_json"`
}

// SheetsConfig tunes the spreadsheet client.
type SheetsConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	RetryAttempts     int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// SnapshotConfig configures where rank snapshots and execution logs live.
type SnapshotConfig struct {
	Driver        string `yaml:"driver" mapstructure:"driver"`
	SpreadsheetID string `yaml:"spreadsheet_id" mapstructure:"spreadsheet_id"`
	Tab           string `yaml:"tab" mapstructure:"tab"`
	LogTab        string `yaml:"log_tab" mapstructure:"log_tab"`
	DatabaseURL   string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath    string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	BatchSize     int    `yaml:"batch_size" mapstructure:"batch_size"`
	Source        string `yaml:"source" mapstructure:"source"`
}

// GuaranteeSheet is one company's guarantee roster spreadsheet.
type GuaranteeSheet struct {
	Name          string `yaml:"name" mapstructure:"name"`
	Company       string `yaml:"company" mapstructure:"company"`
	SpreadsheetID string `yaml:"spreadsheet_id" mapstructure:"spreadsheet_id"`
	Tab           string `yaml:"tab" mapstructure:"tab"`
}

// GuaranteeConfig configures roster sync and ledger write-back.
type GuaranteeConfig struct {
	Sheets         []GuaranteeSheet `yaml:"sheets" mapstructure:"sheets"`
	HeaderScanRows int              `yaml:"header_scan_rows" mapstructure:"header_scan_rows"`
	LedgerWidth    int              `yaml:"ledger_width" mapstructure:"ledger_width"`
	DayStartIndex  int              `yaml:"day_start_index" mapstructure:"day_start_index"`
	ProductMarker  string           `yaml:"product_marker" mapstructure:"product_marker"`
	CachePath      string           `yaml:"cache_path" mapstructure:"cache_path"`
	CacheTTLHours  int              `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	Concurrency    int              `yaml:"concurrency" mapstructure:"concurrency"`
}

// CrawlConfig configures the browser crawler. Username and Password have no
// defaults; the crawler refuses to start without them.
type CrawlConfig struct {
	LoginURL        string   `yaml:"login_url" mapstructure:"login_url"`
	ListURL         string   `yaml:"list_url" mapstructure:"list_url"`
	Username        string   `yaml:"username" mapstructure:"username"`
	Password        string   `yaml:"password" mapstructure:"password"`
	ToggleSelectors []string `yaml:"toggle_selectors" mapstructure:"toggle_selectors"`
	RowSelector     string   `yaml:"row_selector" mapstructure:"row_selector"`
	MaxPages        int      `yaml:"max_pages" mapstructure:"max_pages"`
	NavTimeoutSecs  int      `yaml:"nav_timeout_secs" mapstructure:"nav_timeout_secs"`
	Headless        bool     `yaml:"headless" mapstructure:"headless"`
	UserAgent       string   `yaml:"user_agent" mapstructure:"user_agent"`
	ChromePath      string   `yaml:"chrome_path" mapstructure:"chrome_path"`
	RetryAttempts   int      `yaml:"retry_attempts" mapstructure:"retry_attempts"`
}

// ScheduleConfig holds cron expressions for background jobs.
type ScheduleConfig struct {
	Enabled       bool   `yaml:"enabled" mapstructure:"enabled"`
	Timezone      string `yaml:"timezone" mapstructure:"timezone"`
	GuaranteeSync string `yaml:"guarantee_sync" mapstructure:"guarantee_sync"`
	RankCrawl     string `yaml:"rank_crawl" mapstructure:"rank_crawl"`
	Recovery      string `yaml:"recovery" mapstructure:"recovery"`
	CacheRefresh  string `yaml:"cache_refresh" mapstructure:"cache_refresh"`
	RecoveryDays  int    `yaml:"recovery_days" mapstructure:"recovery_days"`
}

// ServerConfig configures the HTTP trigger surface.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	CronToken      string   `yaml:"cron_token" mapstructure:"cron_token"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// StoreConfig configures the job-run store.
type StoreConfig struct {
	Path       string `yaml:"path" mapstructure:"path"`
	MaxEntries int    `yaml:"max_entries" mapstructure:"max_entries"`
}

// MonitoringConfig configures alert checks.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	StaleCrawlHours      int     `yaml:"stale_crawl_hours" mapstructure:"stale_crawl_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultCheckIntervalSecs is the alert check period when none is set.
const DefaultCheckIntervalSecs = 900

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RANKOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("google.credentials_file", "service_account.json")
	v.SetDefault("google.credentials_json", "")
	v.SetDefault("sheets.requests_per_second", 1.0)
	v.SetDefault("sheets.burst", 5)
	v.SetDefault("sheets.retry_attempts", 4)
	v.SetDefault("sheets.timeout_secs", 30)
	v.SetDefault("snapshot.driver", "sheets")
	v.SetDefault("snapshot.spreadsheet_id", "")
	v.SetDefault("snapshot.database_url", "")
	v.SetDefault("snapshot.tab", "rank_snapshots")
	v.SetDefault("snapshot.log_tab", "rank_update_logs")
	v.SetDefault("snapshot.sqlite_path", "rank_history.db")
	v.SetDefault("snapshot.batch_size", 100)
	v.SetDefault("snapshot.source", "adlog_crawl")
	v.SetDefault("guarantee.sheets", []map[string]any{
		{"name": "jtwolab", "company": "제이투랩", "tab": "보장건"},
		{"name": "ilryu", "company": "일류기획", "tab": "보장건"},
	})
	v.SetDefault("guarantee.header_scan_rows", 5)
	v.SetDefault("guarantee.ledger_width", 25)
	v.SetDefault("guarantee.day_start_index", 17)
	v.SetDefault("guarantee.product_marker", "플레이스")
	v.SetDefault("guarantee.cache_path", "guarantee_data.json")
	v.SetDefault("guarantee.cache_ttl_hours", 12)
	v.SetDefault("guarantee.concurrency", 2)
	v.SetDefault("crawl.login_url", "https://www.adlog.kr/bbs/login.php")
	v.SetDefault("crawl.list_url", "https://www.adlog.kr/adlog/naver_place_rank_check.php?sca=&sfl=api_memo&stx=%EC%9B%94%EB%B3%B4%EC%9E%A5&page_rows=100")
	v.SetDefault("crawl.username", "")
	v.SetDefault("crawl.password", "")
	v.SetDefault("crawl.chrome_path", "")
	v.SetDefault("crawl.toggle_selectors", []string{"#chk_n2_view", "#chk_review_view"})
	v.SetDefault("crawl.row_selector", "table tbody tr")
	v.SetDefault("crawl.max_pages", 10)
	v.SetDefault("crawl.nav_timeout_secs", 30)
	v.SetDefault("crawl.headless", true)
	v.SetDefault("crawl.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	v.SetDefault("crawl.retry_attempts", 3)
	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.timezone", "Asia/Seoul")
	v.SetDefault("schedule.guarantee_sync", "0 9,21 * * *")
	v.SetDefault("schedule.rank_crawl", "0 15 * * *")
	v.SetDefault("schedule.recovery", "30 16 * * *")
	v.SetDefault("schedule.cache_refresh", "30 11 * * *")
	v.SetDefault("schedule.recovery_days", 7)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cron_token", "")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("store.path", "scheduler.db")
	v.SetDefault("store.max_entries", 100)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", DefaultCheckIntervalSecs)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.stale_crawl_hours", 30)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	for i := range cfg.Guarantee.Sheets {
		if cfg.Guarantee.Sheets[i].Tab == "" {
			cfg.Guarantee.Sheets[i].Tab = "보장건"
		}
	}

	return &cfg, nil
}

// Location resolves the scheduling timezone. Unknown names fall back to a
// fixed UTC+9 zone so containers without tzdata still bucket correctly.
func (c *Config) Location() *time.Location {
	name := c.Schedule.Timezone
	if name == "" {
		name = "Asia/Seoul"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

// Mode names the capability a command needs; Validate checks only what that
// mode touches.
type Mode string

// Validation modes.
const (
	ModeSheets Mode = "sheets"
	ModeCrawl  Mode = "crawl"
	ModeServe  Mode = "serve"
)

// Validate fails fast on missing credentials or spreadsheet IDs.
func (c *Config) Validate(mode Mode) error {
	var missing []string

	needSheets := mode == ModeSheets || mode == ModeCrawl || mode == ModeServe
	if needSheets {
		if c.Google.CredentialsJSON == "" && c.Google.CredentialsFile == "" {
			missing = append(missing, "google.credentials_file or google.credentials_json")
		}
		if c.Snapshot.SpreadsheetID == "" {
			missing = append(missing, "snapshot.spreadsheet_id")
		}
		if c.Snapshot.Driver == "postgres" && c.Snapshot.DatabaseURL == "" {
			missing = append(missing, "snapshot.database_url")
		}
		for _, s := range c.Guarantee.Sheets {
			if s.SpreadsheetID == "" {
				missing = append(missing, "guarantee.sheets["+s.Name+"].spreadsheet_id")
			}
		}
	}
	if mode == ModeCrawl {
		if c.Crawl.Username == "" {
			missing = append(missing, "crawl.username")
		}
		if c.Crawl.Password == "" {
			missing = append(missing, "crawl.password")
		}
	}

	switch c.Snapshot.Driver {
	case "sheets", "postgres", "sqlite":
	default:
		return eris.Errorf("config: unknown snapshot driver %q", c.Snapshot.Driver)
	}

	if len(missing) > 0 {
		return eris.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.Google.CredentialsJSON = mask(c.Google.CredentialsJSON)
	c.Crawl.Password = mask(c.Crawl.Password)
	c.Server.CronToken = mask(c.Server.CronToken)
	c.Snapshot.DatabaseURL = mask(c.Snapshot.DatabaseURL)
	return c
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
