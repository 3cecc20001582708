package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
telegram:
  mode: polling
  admin_chat_id: "42"
board:
  page_url: https://board.example/notice.asp?page={page}
  link_base: https://board.example/notice/
  pages: {from: 1, to: 10}
  fetch_timeout: 10s
  layout:
    header_rows: 1
    date_column: 1
    title_column: 2
scan:
  schedule: "every:15m"
  deadline: 2m
logging:
  level: debug
  console: true
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAMLWithEnvOverlay(t *testing.T) {
	t.Parallel()

	m := NewManager(writeFile(t, "config.yaml", sampleYAML))
	m.SetEnvironment(func() map[string]string {
		return map[string]string{"TELEGRAM_BOT_TOKEN": "123:abc", "PORT": "9090", "ADMIN_CHAT_ID": "7"}
	})

	cfg, err := m.Load()
	require.NoError(t, err)
	require.Equal(t, "123:abc", cfg.Telegram.Token)
	require.Equal(t, "7", cfg.Telegram.AdminChatID)
	require.Equal(t, ":9090", cfg.HTTP.ListenAddr())
	require.Equal(t, PageRange{From: 1, To: 10}, cfg.Board.Pages)
	require.NotNil(t, cfg.Board.Layout.DateColumn)
	require.Equal(t, 1, *cfg.Board.Layout.DateColumn)
	require.Same(t, cfg, m.Get())
}

func TestLoadExampleConfig(t *testing.T) {
	t.Parallel()

	m := NewManager("../../config.example.yaml")
	m.SetEnvironment(func() map[string]string {
		return map[string]string{"TELEGRAM_BOT_TOKEN": "123:abc", "NOTICEBOT_DB_PATH": "/var/lib/noticebot/db"}
	})

	cfg, err := m.Load()
	require.NoError(t, err)
	require.Equal(t, "123:abc", cfg.Telegram.Token)
	require.Equal(t, "/var/lib/noticebot/db", cfg.Storage.Path)
	require.Equal(t, ModePolling, cfg.Telegram.TelegramMode())
	lc := cfg.Board.Layout
	require.NotNil(t, lc.HeaderRows)
	require.NotNil(t, lc.TitleColumn)
	require.Equal(t, 1, *lc.HeaderRows)
	require.Equal(t, 2, *lc.TitleColumn)
	require.NotNil(t, cfg.Board.RetryMax)
	require.Equal(t, 2, *cfg.Board.RetryMax)
}

func TestEnvOverlayKeepsFileValuesWhenUnset(t *testing.T) {
	t.Parallel()

	m := NewManager(writeFile(t, "config.yaml", sampleYAML+"http:\n  api_key: from-file\n"))
	m.SetEnvironment(func() map[string]string {
		return map[string]string{"TELEGRAM_BOT_TOKEN": "t", "ADMIN_CHAT_ID": ""}
	})

	cfg, err := m.Parse()
	require.NoError(t, err)
	require.Equal(t, "42", cfg.Telegram.AdminChatID)
	require.Equal(t, "from-file", cfg.HTTP.APIKey)
	require.Equal(t, "polling", cfg.Telegram.Mode)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	m := NewManager(writeFile(t, "config.json", `{"board":{"page_url":"x{page}","bogus":1}}`))
	_, err := m.Load()
	require.ErrorContains(t, err, "unknown field")
}

func TestLoadRejectsTrailingData(t *testing.T) {
	t.Parallel()

	_, err := Decode("c.json", []byte(`{} {}`))
	require.ErrorContains(t, err, "trailing data")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		return &Config{
			Telegram: TelegramConfig{Token: "t"},
			Board:    BoardConfig{PageURL: "https://b.example/?page={page}", Pages: PageRange{From: 1, To: 3}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "ok"},
		{name: "dry run needs no token", mutate: func(c *Config) { c.Telegram.Token = ""; c.Telegram.Mode = "dry_run" }},
		{name: "missing token", mutate: func(c *Config) { c.Telegram.Token = "" }, wantErr: "telegram.token"},
		{name: "bad mode", mutate: func(c *Config) { c.Telegram.Mode = "smoke" }, wantErr: "unknown mode"},
		{name: "no placeholder", mutate: func(c *Config) { c.Board.PageURL = "https://b.example/" }, wantErr: "{page}"},
		{name: "inverted pages", mutate: func(c *Config) { c.Board.Pages = PageRange{From: 5, To: 2} }, wantErr: "invalid range"},
		{name: "relative link base", mutate: func(c *Config) { c.Board.LinkBase = "/notice/" }, wantErr: "absolute"},
		{name: "zero retries", mutate: func(c *Config) {
			zero := 0
			c.Board.RetryMax = &zero
			c.Notifier.RetryMax = &zero
		}},
		{name: "negative retries", mutate: func(c *Config) {
			neg := -1
			c.Notifier.RetryMax = &neg
		}, wantErr: "retry_max"},
		{name: "bad duration", mutate: func(c *Config) { c.Scan.Deadline = "soon" }, wantErr: "scan.deadline"},
		{name: "webhook without http", mutate: func(c *Config) {
			off := false
			c.Telegram.Mode = "webhook"
			c.HTTP.Enabled = &off
		}, wantErr: "requires http.enabled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base()
			if tt.mutate != nil {
				tt.mutate(c)
			}
			err := Validate(c)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestReloadPublishesOnlyOnChange(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.yaml", sampleYAML)
	m := NewManager(path)
	m.SetEnvironment(func() map[string]string { return map[string]string{"TELEGRAM_BOT_TOKEN": "t"} })
	_, err := m.Load()
	require.NoError(t, err)

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	changed, err := m.Reload(context.Background())
	require.NoError(t, err)
	require.False(t, changed)

	require.NoError(t, os.WriteFile(path, []byte(sampleYAML+"notifier:\n  workers: 8\n"), 0o600))
	changed, err = m.Reload(context.Background())
	require.NoError(t, err)
	require.True(t, changed)

	select {
	case cfg := <-sub:
		require.Equal(t, 8, cfg.Notifier.Workers)
	case <-time.After(time.Second):
		t.Fatal("no config published")
	}
}

func TestChanges(t *testing.T) {
	t.Parallel()

	a := &Config{Notifier: NotifierConfig{Workers: 1}}
	b := &Config{Notifier: NotifierConfig{Workers: 2}, Logging: LoggingConfig{Level: "debug"}}
	ch := Changes(a, b)
	require.Equal(t, []string{"notifier", "logging"}, ch)
	require.True(t, Has(ch, "logging"))
	require.False(t, Has(ch, "board"))
	require.True(t, Has(Changes(nil, b), "board"))
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()

	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	require.NoError(t, err)
	require.Equal(t, 3*time.Second, d)

	d, err = ParseDurationOrDefault("x", "250ms", time.Second)
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, d)

	_, err = ParseDurationField("x", "-1s")
	require.Error(t, err)
}
