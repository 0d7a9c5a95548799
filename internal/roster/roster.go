// Package roster tracks the communities and members the bot has observed.
//
// Telegram does not let bots enumerate group members, so the membership
// snapshot handed to the resolver is the roster built from updates: every
// group message or join upserts its sender. First-seen order is preserved so
// reminder mentions keep a stable ordering.
package roster

import (
	"context"
	"fmt"
	"sync"

	"birthdaybot/internal/storage"
	kit "birthdaybot/internal/transport"
	logx "birthdaybot/pkg/logx"
)

type community struct {
	id      string
	title   string
	order   []string          // member ids, first-seen order
	members map[string]string // id -> display name
}

// Roster implements birthday.MembershipProvider over observed membership,
// persisted through the store with the same overwrite discipline as the
// registry.
type Roster struct {
	log   logx.Logger
	store storage.Store

	mu    sync.RWMutex
	order []string // community ids, first-seen order
	byID  map[string]*community
	dirty bool
}

func New(ctx context.Context, store storage.Store, log logx.Logger) (*Roster, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	recs, err := store.LoadRoster(ctx)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}

	r := &Roster{log: log, store: store, byID: map[string]*community{}}
	for _, rec := range recs {
		c := &community{id: rec.ID, title: rec.Title, members: map[string]string{}}
		for _, m := range rec.Members {
			c.order = append(c.order, m.ID)
			c.members[m.ID] = m.Name
		}
		r.order = append(r.order, rec.ID)
		r.byID[rec.ID] = c
	}
	log.Info("roster loaded", logx.Int("communities", len(recs)))
	return r, nil
}

// Observe upserts one observed (community, member) pair. Persistence is
// deferred to Flush: observations arrive on every group message and a lost
// observation is re-learned from the next one.
func (r *Roster) Observe(communityID, title, memberID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byID[communityID]
	if !ok {
		c = &community{id: communityID, members: map[string]string{}}
		r.byID[communityID] = c
		r.order = append(r.order, communityID)
		r.dirty = true
	}
	if title != "" && c.title != title {
		c.title = title
		r.dirty = true
	}
	if memberID == "" {
		return
	}
	if old, seen := c.members[memberID]; !seen {
		c.order = append(c.order, memberID)
		c.members[memberID] = name
		r.dirty = true
	} else if name != "" && old != name {
		c.members[memberID] = name
		r.dirty = true
	}
}

// Remove drops a member who left a community. Persistence rides the next
// Flush, same as Observe.
func (r *Roster) Remove(communityID, memberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byID[communityID]
	if !ok {
		return
	}
	if _, seen := c.members[memberID]; !seen {
		return
	}
	delete(c.members, memberID)
	for i, id := range c.order {
		if id == memberID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	r.dirty = true
}

// Flush persists the roster if it changed since the last flush.
func (r *Roster) Flush(ctx context.Context) error {
	r.mu.Lock()
	if !r.dirty {
		r.mu.Unlock()
		return nil
	}
	recs := r.snapshotLocked()
	r.dirty = false
	r.mu.Unlock()

	if err := r.store.SaveRoster(ctx, recs); err != nil {
		r.mu.Lock()
		r.dirty = true
		r.mu.Unlock()
		return fmt.Errorf("persist roster: %w", err)
	}
	return nil
}

func (r *Roster) snapshotLocked() []storage.CommunityRecord {
	recs := make([]storage.CommunityRecord, 0, len(r.order))
	for _, id := range r.order {
		c := r.byID[id]
		rec := storage.CommunityRecord{ID: c.id, Title: c.title}
		for _, mid := range c.order {
			rec.Members = append(rec.Members, storage.MemberRecord{ID: mid, Name: c.members[mid]})
		}
		recs = append(recs, rec)
	}
	return recs
}

// Communities implements birthday.MembershipProvider.
func (r *Roster) Communities(ctx context.Context) ([]kit.Community, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]kit.Community, 0, len(r.order))
	for _, id := range r.order {
		c := r.byID[id]
		out = append(out, kit.Community{ID: c.id, Title: c.title})
	}
	return out, nil
}

// Members implements birthday.MembershipProvider. Unknown communities yield
// an empty snapshot, not an error.
func (r *Roster) Members(ctx context.Context, communityID string) ([]kit.Member, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[communityID]
	if !ok {
		return nil, nil
	}
	out := make([]kit.Member, 0, len(c.order))
	for _, mid := range c.order {
		out = append(out, kit.Member{ID: mid, Name: c.members[mid]})
	}
	return out, nil
}

// Name returns the display name last observed for a member, if any.
func (r *Roster) Name(memberID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.byID {
		if n, ok := c.members[memberID]; ok && n != "" {
			return n
		}
	}
	return ""
}
