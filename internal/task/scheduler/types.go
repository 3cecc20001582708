package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"noticebot/pkg/logx"
)

// Config controls the trigger. An empty Schedule disables it.
type Config struct {
	Schedule string
	Timezone string // IANA TZ, e.g. "Asia/Kolkata"; empty means local
}

// Job is the scheduled unit of work. The context is cancelled when the
// service stops and the stop deadline passes.
type Job func(ctx context.Context) error

type Service struct {
	mu sync.Mutex

	name string
	job  Job
	log  logx.Logger
	cfg  Config
	loc  *time.Location

	c       *cron.Cron
	entryID cron.EntryID
	runCtx  context.Context
	cancel  context.CancelFunc

	runs    atomic.Uint64
	failed  atomic.Uint64
	lastMu  sync.Mutex
	lastRun time.Time
	lastErr string
	lastDur time.Duration
}

type Snapshot struct {
	Name     string        `json:"name"`
	Enabled  bool          `json:"enabled"`
	Schedule string        `json:"schedule,omitempty"`
	Timezone string        `json:"timezone"`
	Next     time.Time     `json:"next,omitempty"`
	Prev     time.Time     `json:"prev,omitempty"`
	Runs     uint64        `json:"runs"`
	Failed   uint64        `json:"failed"`
	LastRun  time.Time     `json:"last_run,omitempty"`
	LastErr  string        `json:"last_error,omitempty"`
	LastTook time.Duration `json:"last_took,omitempty"`
}
