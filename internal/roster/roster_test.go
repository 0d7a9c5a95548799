package roster

import (
	"context"
	"reflect"
	"testing"

	"birthdaybot/internal/storage"
	logx "birthdaybot/pkg/logx"
)

type memStore struct {
	roster []storage.CommunityRecord
	saves  int
}

func (s *memStore) LoadBirthdays(context.Context) (map[string]string, error) { return nil, nil }
func (s *memStore) SaveBirthdays(context.Context, map[string]string) error   { return nil }
func (s *memStore) LoadChannels(context.Context) (map[string]string, error)  { return nil, nil }
func (s *memStore) SaveChannels(context.Context, map[string]string) error    { return nil }
func (s *memStore) LoadRoster(context.Context) ([]storage.CommunityRecord, error) {
	return s.roster, nil
}
func (s *memStore) SaveRoster(_ context.Context, cs []storage.CommunityRecord) error {
	s.roster = cs
	s.saves++
	return nil
}
func (s *memStore) Close() error { return nil }

func TestObservePreservesFirstSeenOrder(t *testing.T) {
	t.Parallel()
	st := &memStore{}
	r, err := New(context.Background(), st, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	r.Observe("g1", "Guild One", "222", "Bob")
	r.Observe("g1", "Guild One", "111", "Alice")
	r.Observe("g1", "Guild One", "222", "Bob") // repeat must not reorder

	members, err := r.Members(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	if !reflect.DeepEqual(ids, []string{"222", "111"}) {
		t.Fatalf("member order = %v, want first-seen [222 111]", ids)
	}
}

func TestFlushPersistsOnceAndOnlyWhenDirty(t *testing.T) {
	t.Parallel()
	st := &memStore{}
	r, _ := New(context.Background(), st, logx.Nop())
	ctx := context.Background()

	if err := r.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if st.saves != 0 {
		t.Fatalf("clean roster persisted: saves = %d", st.saves)
	}

	r.Observe("g1", "Guild", "111", "Alice")
	if err := r.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if st.saves != 1 {
		t.Fatalf("saves = %d, want 1", st.saves)
	}
	if err := r.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if st.saves != 1 {
		t.Fatalf("clean flush persisted again: saves = %d", st.saves)
	}
}

func TestRemoveDropsDepartedMember(t *testing.T) {
	t.Parallel()
	st := &memStore{}
	r, _ := New(context.Background(), st, logx.Nop())
	ctx := context.Background()

	r.Observe("g1", "Guild", "111", "Alice")
	r.Observe("g1", "Guild", "222", "Bob")
	r.Observe("g1", "Guild", "333", "Carol")
	if err := r.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	r.Remove("g1", "222")

	members, err := r.Members(ctx, "g1")
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	if !reflect.DeepEqual(ids, []string{"111", "333"}) {
		t.Fatalf("members after remove = %v, want [111 333]", ids)
	}

	// The removal must reach the store on the next flush.
	if err := r.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if st.saves != 2 {
		t.Fatalf("saves = %d, want 2", st.saves)
	}
	if got := st.roster[0].Members; len(got) != 2 {
		t.Fatalf("persisted members = %v", got)
	}

	// Removing an unknown member or community must not dirty the roster.
	r.Remove("g1", "999")
	r.Remove("nope", "111")
	if err := r.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if st.saves != 2 {
		t.Fatalf("no-op remove persisted: saves = %d", st.saves)
	}
}

func TestRoundtripThroughStore(t *testing.T) {
	t.Parallel()
	st := &memStore{}
	r1, _ := New(context.Background(), st, logx.Nop())
	r1.Observe("g1", "Guild", "111", "Alice")
	r1.Observe("g2", "Other", "222", "Bob")
	if err := r1.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	r2, err := New(context.Background(), st, logx.Nop())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	cs, _ := r2.Communities(context.Background())
	if len(cs) != 2 || cs[0].ID != "g1" || cs[1].ID != "g2" {
		t.Fatalf("communities after reload = %v", cs)
	}
	if got := r2.Name("111"); got != "Alice" {
		t.Fatalf("Name(111) = %q, want Alice", got)
	}
}
