// Package state owns the records shared between the watcher and the guards:
// the mode/strategy record, the trend vote, and the switch log.
//
// Writers replace files atomically and there is no cross-process lock. Last
// write wins and every read may be stale or absent.
package state

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Keys of the mode record.
const (
	KeyLive      = "LIVE"
	KeyDry       = "DRY"
	KeyStrategy  = "STRATEGY"
	KeyHaltedOn  = "HALTED_ON"
	KeyVersion   = "STATE_VERSION"
	KeyUpdatedAt = "STATE_UPDATED_AT"
)

var ownKeys = []string{KeyLive, KeyDry, KeyStrategy, KeyHaltedOn, KeyVersion, KeyUpdatedAt}

// Record is the process-wide mode state. Extra carries every key this
// package does not own, written back unchanged.
type Record struct {
	Live      bool
	Dry       bool
	Strategy  string
	HaltedOn  string // YYYY-MM-DD in IST; the risk guard halted trading on that day
	Version   int64
	UpdatedAt time.Time
	Extra     map[string]string
}

// LiveEnabled reports whether real-money orders may be placed.
func (r Record) LiveEnabled() bool { return r.Live && !r.Dry }

// HaltedOnDay reports whether a risk halt is recorded for day.
func (r Record) HaltedOnDay(day string) bool { return r.HaltedOn != "" && r.HaltedOn == day }

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on", "y":
		return true
	}
	return false
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func decode(env map[string]string) Record {
	r := Record{
		Live:     truthy(env[KeyLive]),
		Dry:      truthy(env[KeyDry]),
		Strategy: env[KeyStrategy],
		HaltedOn: env[KeyHaltedOn],
		Extra:    map[string]string{},
	}
	if _, ok := env[KeyDry]; !ok {
		r.Dry = !r.Live
	}
	if v, err := strconv.ParseInt(env[KeyVersion], 10, 64); err == nil {
		r.Version = v
	}
	if t, err := time.Parse(time.RFC3339, env[KeyUpdatedAt]); err == nil {
		r.UpdatedAt = t
	}
	for k, v := range env {
		if !isOwn(k) {
			r.Extra[k] = v
		}
	}
	return r
}

func isOwn(k string) bool {
	for _, o := range ownKeys {
		if k == o {
			return true
		}
	}
	return false
}

func encode(r Record) (string, error) {
	env := make(map[string]string, len(r.Extra)+len(ownKeys))
	for k, v := range r.Extra {
		env[k] = v
	}
	env[KeyLive] = flag(r.Live)
	env[KeyDry] = flag(r.Dry)
	env[KeyVersion] = strconv.FormatInt(r.Version, 10)
	if r.Strategy != "" {
		env[KeyStrategy] = r.Strategy
	}
	if r.HaltedOn != "" {
		env[KeyHaltedOn] = r.HaltedOn
	}
	if !r.UpdatedAt.IsZero() {
		env[KeyUpdatedAt] = r.UpdatedAt.Format(time.RFC3339)
	}
	return godotenv.Marshal(env)
}

// Store is the single accessor for the mode record file.
type Store struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

func (s *Store) Path() string { return s.path }

// Load reads the record. A missing file yields a zero record (not live).
func (s *Store) Load() (Record, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return decode(map[string]string{}), nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("read state %s: %w", s.path, err)
	}
	env, err := godotenv.Unmarshal(string(raw))
	if err != nil {
		return Record{}, fmt.Errorf("parse state %s: %w", s.path, err)
	}
	return decode(env), nil
}

// LiveEnabled satisfies broker.ModeReader. An unreadable record is not live.
func (s *Store) LiveEnabled() (bool, error) {
	r, err := s.Load()
	if err != nil {
		return false, err
	}
	return r.LiveEnabled(), nil
}

// Update applies fn to the current record and writes it back with mode 0600.
// The version is bumped only when fn changed something; changed reports that.
func (s *Store) Update(fn func(r *Record) error) (rec Record, changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.Load()
	if err != nil {
		return Record{}, false, err
	}
	next := cur
	next.Extra = make(map[string]string, len(cur.Extra))
	for k, v := range cur.Extra {
		next.Extra[k] = v
	}
	if err := fn(&next); err != nil {
		return cur, false, err
	}
	if sameMode(cur, next) {
		return cur, false, nil
	}
	next.Version = cur.Version + 1
	next.UpdatedAt = s.now().UTC().Truncate(time.Second)

	body, err := encode(next)
	if err != nil {
		return cur, false, fmt.Errorf("encode state: %w", err)
	}
	if err := WriteFileAtomic(s.path, []byte(body+"\n"), 0o600); err != nil {
		return cur, false, err
	}
	return next, true, nil
}

func sameMode(a, b Record) bool {
	if a.Live != b.Live || a.Dry != b.Dry || a.Strategy != b.Strategy || a.HaltedOn != b.HaltedOn {
		return false
	}
	if len(a.Extra) != len(b.Extra) {
		return false
	}
	for k, v := range a.Extra {
		if bv, ok := b.Extra[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// Summary renders the owned keys for display, sorted.
func (r Record) Summary() string {
	parts := []string{
		KeyLive + "=" + flag(r.Live),
		KeyDry + "=" + flag(r.Dry),
		KeyStrategy + "=" + r.Strategy,
		KeyHaltedOn + "=" + r.HaltedOn,
		KeyVersion + "=" + strconv.FormatInt(r.Version, 10),
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
