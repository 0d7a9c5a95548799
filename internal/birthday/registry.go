package birthday

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"birthdaybot/internal/storage"
	logx "birthdaybot/pkg/logx"
)

// Registry is the sole owner of the member -> "MM-DD" map. It loads from the
// store at construction and rewrites the whole map on every mutation, before
// the mutating call returns.
type Registry struct {
	log   logx.Logger
	store storage.Store

	mu      sync.RWMutex
	strict  bool
	entries map[string]string
}

func NewRegistry(ctx context.Context, store storage.Store, strict bool, log logx.Logger) (*Registry, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	entries, err := store.LoadBirthdays(ctx)
	if err != nil {
		return nil, fmt.Errorf("load birthdays: %w", err)
	}
	if entries == nil {
		entries = map[string]string{}
	}
	log.Info("birthday registry loaded", logx.Int("entries", len(entries)))
	return &Registry{log: log, store: store, strict: strict, entries: entries}, nil
}

// SetStrict switches day-of-month validation at runtime (config hot reload).
// Existing entries are not revalidated.
func (r *Registry) SetStrict(strict bool) {
	r.mu.Lock()
	r.strict = strict
	r.mu.Unlock()
}

// Set validates, overwrites and persists one birthday. The in-memory map is
// only updated once the store write succeeded, so memory never runs ahead of
// disk.
func (r *Registry) Set(ctx context.Context, memberID, monthDay string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ValidateMonthDay(monthDay, r.strict); err != nil {
		return err
	}

	next := make(map[string]string, len(r.entries)+1)
	for k, v := range r.entries {
		next[k] = v
	}
	next[memberID] = monthDay

	if err := r.store.SaveBirthdays(ctx, next); err != nil {
		return fmt.Errorf("persist birthdays: %w", err)
	}
	r.entries = next
	return nil
}

func (r *Registry) Get(memberID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.entries[memberID]
	return d, ok
}

// All returns every entry sorted by month-day ascending; member id breaks
// ties so repeated calls yield identical output.
func (r *Registry) All() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for id, d := range r.entries {
		out = append(out, Entry{MemberID: id, MonthDay: d})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].MonthDay != out[j].MonthDay {
			return out[i].MonthDay < out[j].MonthDay
		}
		return out[i].MemberID < out[j].MemberID
	})
	return out
}

// Matching returns the ids of members whose birthday is monthDay.
// O(n) scan; the registry is community-scale.
func (r *Registry) Matching(monthDay string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, d := range r.entries {
		if d == monthDay {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
