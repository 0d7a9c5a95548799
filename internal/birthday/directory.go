package birthday

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"birthdaybot/internal/storage"
	logx "birthdaybot/pkg/logx"
)

// FallbackPolicy resolves a usable channel for a community that has no
// configured entry (e.g. by asking the chat platform for its default
// channel). ok is false when no channel is usable.
type FallbackPolicy func(ctx context.Context, communityID string) (channelID string, ok bool)

// Directory is the sole owner of the community -> channel map.
type Directory struct {
	log   logx.Logger
	store storage.Store

	mu       sync.RWMutex
	channels map[string]string
}

func NewDirectory(ctx context.Context, store storage.Store, log logx.Logger) (*Directory, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	channels, err := store.LoadChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("load channels: %w", err)
	}
	if channels == nil {
		channels = map[string]string{}
	}
	return &Directory{log: log, store: store, channels: channels}, nil
}

// SetChannel validates, overwrites and persists one community's channel.
func (d *Directory) SetChannel(ctx context.Context, communityID, channelID string) error {
	if _, err := strconv.ParseInt(channelID, 10, 64); err != nil {
		return ErrInvalidChannel
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	next := make(map[string]string, len(d.channels)+1)
	for k, v := range d.channels {
		next[k] = v
	}
	next[communityID] = channelID

	if err := d.store.SaveChannels(ctx, next); err != nil {
		return fmt.Errorf("persist channels: %w", err)
	}
	d.channels = next
	return nil
}

// Resolve returns the configured channel for the community, falling back to
// the given policy when none is configured. The directory never auto-creates
// entries from fallback results.
func (d *Directory) Resolve(ctx context.Context, communityID string, fallback FallbackPolicy) (string, bool) {
	d.mu.RLock()
	ch, ok := d.channels[communityID]
	d.mu.RUnlock()
	if ok {
		return ch, true
	}
	if fallback == nil {
		return "", false
	}
	return fallback(ctx, communityID)
}
