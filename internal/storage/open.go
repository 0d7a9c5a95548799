package storage

import (
	"context"
	"errors"
	"strings"

	logx "birthdaybot/pkg/logx"
)

type Config struct {
	Driver string // "file" or "sqlite"
	Path   string
}

// MemberRecord is one observed community member.
type MemberRecord struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// CommunityRecord is one community with its member roster in first-seen order.
type CommunityRecord struct {
	ID      string         `json:"id"`
	Title   string         `json:"title,omitempty"`
	Members []MemberRecord `json:"members,omitempty"`
}

// Store is the persistence API used by the registry, directory and roster.
type Store interface {
	LoadBirthdays(ctx context.Context) (map[string]string, error)
	SaveBirthdays(ctx context.Context, m map[string]string) error

	LoadChannels(ctx context.Context) (map[string]string, error)
	SaveChannels(ctx context.Context, m map[string]string) error

	LoadRoster(ctx context.Context) ([]CommunityRecord, error)
	SaveRoster(ctx context.Context, cs []CommunityRecord) error

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
