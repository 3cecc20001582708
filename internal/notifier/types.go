package notifier

import "time"

// Config controls delivery. Zero values fall back to defaults in New/Apply.
type Config struct {
	Workers     int           // parallel sends per Deliver call; default 4
	RatePerSec  int           // shared token bucket across all sends; default 25
	RetryMax    int           // retries after the first attempt
	RetryBase   time.Duration // first retry delay, grows linearly; default 200ms
	SendTimeout time.Duration // per attempt; 0 means none
}

// Message is one text for one recipient.
type Message struct {
	Address string
	Text    string
}

type Failure struct {
	Address string `json:"address"`
	Error   string `json:"error"`
}

// Report summarizes one Deliver call. Every message is accounted for
// exactly once in Sent or Failed.
type Report struct {
	Total    int           `json:"total"`
	Sent     int           `json:"sent"`
	Failed   int           `json:"failed"`
	Failures []Failure     `json:"failures,omitempty"`
	Took     time.Duration `json:"took"`
}

// Observer receives one call per Send outcome (after retries).
type Observer interface {
	ObserveSend(err error, took time.Duration)
}
