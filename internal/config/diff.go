package config

import (
	"bytes"
	"encoding/json"
)

// Changes lists the top-level sections that differ between two configs,
// in declaration order. Secrets are compared but never returned.
func Changes(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return []string{"all"}
	}
	sections := []struct {
		name     string
		old, new any
	}{
		{"telegram", oldCfg.Telegram, newCfg.Telegram},
		{"board", oldCfg.Board, newCfg.Board},
		{"scan", oldCfg.Scan, newCfg.Scan},
		{"notifier", oldCfg.Notifier, newCfg.Notifier},
		{"storage", oldCfg.Storage, newCfg.Storage},
		{"http", oldCfg.HTTP, newCfg.HTTP},
		{"logging", oldCfg.Logging, newCfg.Logging},
	}
	var out []string
	for _, s := range sections {
		if !jsonEqual(s.old, s.new) {
			out = append(out, s.name)
		}
	}
	return out
}

func jsonEqual(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

// Has reports whether name is one of the changed sections.
func Has(changes []string, name string) bool {
	for _, c := range changes {
		if c == name || c == "all" {
			return true
		}
	}
	return false
}
