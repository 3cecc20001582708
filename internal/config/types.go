package config

// Config is the on-disk configuration (YAML or JSON).
//
// All durations are Go duration strings ("500ms", "10s", "1m").
// Secrets may be left empty in the file and supplied through the environment,
// see envOverlay in manager.go.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Board    BoardConfig    `json:"board"`
	Scan     ScanConfig     `json:"scan"`
	Notifier NotifierConfig `json:"notifier"`
	Storage  StorageConfig  `json:"storage"`
	HTTP     HTTPConfig     `json:"http"`
	Logging  LoggingConfig  `json:"logging"`
}

// TelegramConfig configures the bot account.
//
// Mode is one of:
//   - "polling" (default): long-poll inbound updates
//   - "webhook": inbound updates arrive on POST /webhook
//   - "send_only": outbound only, inbound ignored
//   - "dry_run": no Telegram at all, outbound messages are logged
type TelegramConfig struct {
	Token         string `json:"token,omitempty"`
	Mode          string `json:"mode,omitempty"`
	AdminChatID   string `json:"admin_chat_id,omitempty"`
	WebhookURL    string `json:"webhook_url,omitempty"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
	PollTimeout   string `json:"poll_timeout,omitempty"`
	WelcomeText   string `json:"welcome_text,omitempty"`
}

// BoardConfig describes the paginated notice board.
//
// PageURL must contain the "{page}" placeholder.
// LinkBase, when set, is the base notice hrefs are resolved against;
// otherwise they are resolved against the page URL.
type BoardConfig struct {
	PageURL          string       `json:"page_url"`
	LinkBase         string       `json:"link_base,omitempty"`
	Pages            PageRange    `json:"pages"`
	FetchTimeout     string       `json:"fetch_timeout,omitempty"`
	FetchConcurrency int          `json:"fetch_concurrency,omitempty"`
	RetryMax         *int         `json:"retry_max,omitempty"` // nil means 2, 0 disables retries
	UserAgent        string       `json:"user_agent,omitempty"`
	Layout           LayoutConfig `json:"layout"`
}

// PageRange is inclusive on both ends.
type PageRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// LayoutConfig is the row/column shape of the notice table.
// Pointers distinguish "omitted" from an explicit zero.
type LayoutConfig struct {
	RowSelector string `json:"row_selector,omitempty"`
	HeaderRows  *int   `json:"header_rows,omitempty"`
	DateColumn  *int   `json:"date_column,omitempty"`
	TitleColumn *int   `json:"title_column,omitempty"`
	MinCells    int    `json:"min_cells,omitempty"`
}

type ScanConfig struct {
	// Schedule accepts cron ("*/15 * * * *"), "every:10m", "interval:10m" or "HH:MM".
	// Empty disables scheduled scans.
	Schedule        string `json:"schedule,omitempty"`
	Timezone        string `json:"timezone,omitempty"` // IANA name for cron schedules; default local
	Deadline        string `json:"deadline,omitempty"`
	DeliveryTimeout string `json:"delivery_timeout,omitempty"`
	RunOnStart      bool   `json:"run_on_start,omitempty"`
}

type NotifierConfig struct {
	Workers     int    `json:"workers,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	RetryMax    *int   `json:"retry_max,omitempty"` // nil means 2, 0 disables retries
	SendTimeout string `json:"send_timeout,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// HTTPConfig configures the admin API. Port (env PORT) wins over Addr.
type HTTPConfig struct {
	Enabled      *bool  `json:"enabled,omitempty"`
	Addr         string `json:"addr,omitempty"`
	Port         string `json:"port,omitempty"`
	APIKey       string `json:"api_key,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	Pprof        bool   `json:"pprof,omitempty"` // mounts /debug behind the API key
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}
