package featureflags

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Flag names a delivery behaviour that operators can toggle at runtime.
type Flag string

const (
	FallbackTelegram Flag = "fallback_telegram"
	FallbackEmail    Flag = "fallback_email"
	FallbackSMS      Flag = "fallback_sms"
	RetryQueue       Flag = "retry_queue"
	OfflineQueue     Flag = "offline_queue"
	AuthRefresh      Flag = "auth_refresh"
)

// Known lists every flag the service understands.
var Known = []Flag{FallbackTelegram, FallbackEmail, FallbackSMS, RetryQueue, OfflineQueue, AuthRefresh}

func (f Flag) Valid() bool {
	for _, k := range Known {
		if k == f {
			return true
		}
	}
	return false
}

// Store persists flag values across restarts.
type Store interface {
	Load(ctx context.Context, names []string) (map[string]bool, error)
	Save(ctx context.Context, name string, enabled bool) error
}

// Manager holds the live flag set. Defaults come from a key=value list such as
// "fallback_telegram=on,fallback_sms=off"; stored values override them.
type Manager struct {
	mu    sync.RWMutex
	flags map[Flag]bool
	store Store
}

// NewManager parses raw defaults. A nil store keeps flags in memory only.
func NewManager(raw string, store Store) *Manager {
	out := make(map[Flag]bool, len(Known))
	for _, f := range Known {
		out[f] = false
	}

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := Flag(normalize(parts[0]))
		if !key.Valid() {
			continue
		}
		if v, ok := parseValue(parts[1]); ok {
			out[key] = v
		}
	}

	return &Manager{flags: out, store: store}
}

// Load overlays persisted values on top of the defaults.
func (m *Manager) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	names := make([]string, 0, len(Known))
	for _, f := range Known {
		names = append(names, string(f))
	}
	stored, err := m.store.Load(ctx, names)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for name, v := range stored {
		m.flags[Flag(name)] = v
	}
	return nil
}

func (m *Manager) Enabled(f Flag) bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flags[f]
}

// Set persists the value first so a failed write leaves the live set unchanged.
func (m *Manager) Set(ctx context.Context, f Flag, enabled bool) error {
	if m.store != nil {
		if err := m.store.Save(ctx, string(f), enabled); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.flags[f] = enabled
	m.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current flag values.
func (m *Manager) Snapshot() map[Flag]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[Flag]bool, len(m.flags))
	for k, v := range m.flags {
		out[k] = v
	}
	return out
}

// String renders the flags in the same key=value form NewManager accepts.
func (m *Manager) String() string {
	snap := m.Snapshot()
	parts := make([]string, 0, len(snap))
	for k, v := range snap {
		state := "off"
		if v {
			state = "on"
		}
		parts = append(parts, string(k)+"="+state)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func parseValue(raw string) (bool, bool) {
	switch normalize(raw) {
	case "on", "true", "1":
		return true, true
	case "off", "false", "0":
		return false, true
	}
	return false, false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
