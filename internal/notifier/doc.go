// Package notifier delivers text messages to subscriber addresses.
//
// Send handles one recipient: it waits on a shared rate limiter and retries
// transient failures with a linear backoff, honouring provider retry-after
// hints and giving up at once on permanent errors.
//
// Deliver fans a batch out over a bounded worker pool. A failing recipient
// never stops the others; failures are logged and returned in the Report.
//
// The message wording lives in template.go so it can change without touching
// the transport.
package notifier
