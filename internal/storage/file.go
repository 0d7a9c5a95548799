package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "birthdaybot/pkg/logx"
)

// fileStore keeps each concern in its own JSON document:
//
//	<prefix>.birthdays.json
//	<prefix>.channels.json
//	<prefix>.roster.json
//
// Writes go through a temp file + rename so a crash mid-write never leaves a
// torn document behind.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	birthdaysPath string
	channelsPath  string
	rosterPath    string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(filepath.Base(path)))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	return &fileStore{
		log:           log,
		birthdaysPath: prefix + ".birthdays.json",
		channelsPath:  prefix + ".channels.json",
		rosterPath:    prefix + ".roster.json",
	}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) LoadBirthdays(ctx context.Context) (map[string]string, error) {
	_ = ctx
	m := map[string]string{}
	err := s.loadJSON(s.birthdaysPath, &m)
	return m, err
}

func (s *fileStore) SaveBirthdays(ctx context.Context, m map[string]string) error {
	_ = ctx
	return s.saveJSON(s.birthdaysPath, m)
}

func (s *fileStore) LoadChannels(ctx context.Context) (map[string]string, error) {
	_ = ctx
	m := map[string]string{}
	err := s.loadJSON(s.channelsPath, &m)
	return m, err
}

func (s *fileStore) SaveChannels(ctx context.Context, m map[string]string) error {
	_ = ctx
	return s.saveJSON(s.channelsPath, m)
}

func (s *fileStore) LoadRoster(ctx context.Context) ([]CommunityRecord, error) {
	_ = ctx
	var cs []CommunityRecord
	err := s.loadJSON(s.rosterPath, &cs)
	return cs, err
}

func (s *fileStore) SaveRoster(ctx context.Context, cs []CommunityRecord) error {
	_ = ctx
	if cs == nil {
		cs = []CommunityRecord{}
	}
	return s.saveJSON(s.rosterPath, cs)
}

func (s *fileStore) loadJSON(path string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(b, v)
}

func (s *fileStore) saveJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
