package router

import (
	"context"
	"strings"
	"testing"

	"birthdaybot/internal/birthday"
	"birthdaybot/internal/roster"
	"birthdaybot/internal/storage"
	kit "birthdaybot/internal/transport"
	logx "birthdaybot/pkg/logx"
)

type memStore struct {
	birthdays map[string]string
	channels  map[string]string
	roster    []storage.CommunityRecord
}

func (s *memStore) LoadBirthdays(context.Context) (map[string]string, error) {
	return s.birthdays, nil
}
func (s *memStore) SaveBirthdays(_ context.Context, m map[string]string) error {
	s.birthdays = m
	return nil
}
func (s *memStore) LoadChannels(context.Context) (map[string]string, error) { return s.channels, nil }
func (s *memStore) SaveChannels(_ context.Context, m map[string]string) error {
	s.channels = m
	return nil
}
func (s *memStore) LoadRoster(context.Context) ([]storage.CommunityRecord, error) {
	return s.roster, nil
}
func (s *memStore) SaveRoster(_ context.Context, cs []storage.CommunityRecord) error {
	s.roster = cs
	return nil
}
func (s *memStore) Close() error { return nil }

type fakeReplier struct {
	replies []string
}

func (f *fakeReplier) SendText(_ context.Context, _ kit.ChatTarget, text string) error {
	f.replies = append(f.replies, text)
	return nil
}

func (f *fakeReplier) Mention(memberID, name string) string {
	if name == "" {
		name = memberID
	}
	return "@" + name
}

func (f *fakeReplier) last(t *testing.T) string {
	t.Helper()
	if len(f.replies) == 0 {
		t.Fatal("no reply sent")
	}
	return f.replies[len(f.replies)-1]
}

func newTestRouter(t *testing.T) (*Router, *fakeReplier, *birthday.Registry) {
	t.Helper()
	ctx := context.Background()
	st := &memStore{}
	reg, err := birthday.NewRegistry(ctx, st, false, logx.Nop())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	dir, err := birthday.NewDirectory(ctx, st, logx.Nop())
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	ros, err := roster.New(ctx, st, logx.Nop())
	if err != nil {
		t.Fatalf("roster.New: %v", err)
	}
	res := birthday.NewResolver(reg, logx.Nop())
	client := &fakeReplier{}
	return New(client, reg, dir, res, ros, logx.Nop()), client, reg
}

func groupMsg(text string, fromID int64) kit.Update {
	return kit.Update{Message: &kit.Message{
		ChatID:    -100,
		ChatTitle: "Guild",
		FromID:    fromID,
		FromName:  "Alice",
		Text:      text,
		IsGroup:   true,
	}}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		cmd  string
		args []string
		ok   bool
	}{
		{in: "/birthday set 03-15", cmd: "birthday", args: []string{"set", "03-15"}, ok: true},
		{in: "!birthday list", cmd: "birthday", args: []string{"list"}, ok: true},
		{in: "/birthday@SomeBot today", cmd: "birthday", args: []string{"today"}, ok: true},
		{in: "hello there", ok: false},
		{in: "/", ok: false},
		{in: "", ok: false},
	}
	for _, tt := range tests {
		cmd, args, ok := parseCommand(tt.in)
		if ok != tt.ok || cmd != tt.cmd {
			t.Fatalf("parseCommand(%q) = %q, %v, %v", tt.in, cmd, args, ok)
		}
	}
}

func TestSetCommandRegistersBirthday(t *testing.T) {
	t.Parallel()
	r, client, reg := newTestRouter(t)

	r.handle(context.Background(), groupMsg("/birthday set 03-15", 111))

	if got, ok := reg.Get("111"); !ok || got != "03-15" {
		t.Fatalf("registry entry = %q, %v", got, ok)
	}
	if reply := client.last(t); !strings.Contains(reply, "set to 03-15") {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestSetCommandRejectsMalformedDateWithoutMutation(t *testing.T) {
	t.Parallel()
	r, client, reg := newTestRouter(t)
	ctx := context.Background()

	r.handle(ctx, groupMsg("/birthday set 03-15", 111))
	r.handle(ctx, groupMsg("/birthday set 13-01", 111))

	if reply := client.last(t); !strings.Contains(reply, "MM-DD format") {
		t.Fatalf("unexpected rejection reply: %q", reply)
	}
	if got, _ := reg.Get("111"); got != "03-15" {
		t.Fatalf("registry mutated by malformed set: %q", got)
	}
}

func TestListCommand(t *testing.T) {
	t.Parallel()
	r, client, _ := newTestRouter(t)
	ctx := context.Background()

	r.handle(ctx, groupMsg("/birthday list", 111))
	if reply := client.last(t); reply != "No birthdays registered." {
		t.Fatalf("empty list reply = %q", reply)
	}

	r.handle(ctx, groupMsg("/birthday set 03-15", 111))
	r.handle(ctx, groupMsg("/birthday list", 111))
	if reply := client.last(t); !strings.Contains(reply, "03-15: Alice") {
		t.Fatalf("list reply = %q", reply)
	}
}

func TestChannelCommandRequiresAdmin(t *testing.T) {
	t.Parallel()
	r, client, _ := newTestRouter(t)
	ctx := context.Background()

	r.handle(ctx, groupMsg("/birthday channel 555", 111))
	if reply := client.last(t); !strings.Contains(reply, "Only admins") {
		t.Fatalf("non-admin reply = %q", reply)
	}

	r.SetAdmins([]int64{111})
	r.handle(ctx, groupMsg("/birthday channel 555", 111))
	if reply := client.last(t); !strings.Contains(reply, "set to 555") {
		t.Fatalf("admin reply = %q", reply)
	}

	r.handle(ctx, groupMsg("/birthday channel nope", 111))
	if reply := client.last(t); !strings.Contains(reply, "numeric") {
		t.Fatalf("invalid channel reply = %q", reply)
	}
}

func TestRepliesEscapeDisplayNames(t *testing.T) {
	t.Parallel()
	r, client, _ := newTestRouter(t)
	ctx := context.Background()

	msg := groupMsg("/birthday set 03-15", 111)
	msg.Message.FromName = "<Alice & Bob>"
	r.handle(ctx, msg)
	reply := client.last(t)
	if strings.Contains(reply, "<Alice") {
		t.Fatalf("set reply leaks raw HTML: %q", reply)
	}
	if !strings.Contains(reply, "&lt;Alice &amp; Bob&gt;") {
		t.Fatalf("set reply missing escaped name: %q", reply)
	}

	// The list path resolves the same name through the roster.
	r.handle(ctx, groupMsg("/birthday list", 222))
	reply = client.last(t)
	if strings.Contains(reply, "<Alice") || !strings.Contains(reply, "03-15: &lt;Alice &amp; Bob&gt;") {
		t.Fatalf("list reply not escaped: %q", reply)
	}
}

func TestBareCommandShowsUsage(t *testing.T) {
	t.Parallel()
	r, client, _ := newTestRouter(t)
	r.handle(context.Background(), groupMsg("/birthday", 111))
	if reply := client.last(t); !strings.Contains(reply, "/birthday set MM-DD") {
		t.Fatalf("usage reply = %q", reply)
	}
}

func TestLeaveUpdateRemovesMemberFromRoster(t *testing.T) {
	t.Parallel()
	r, client, _ := newTestRouter(t)
	ctx := context.Background()

	r.handle(ctx, groupMsg("hi", 111))
	left := groupMsg("", 111)
	left.Message.Left = true
	r.handle(ctx, left)

	members, err := r.ros.Members(ctx, "-100")
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("departed member still in roster: %v", members)
	}
	if len(client.replies) != 0 {
		t.Fatalf("leave update produced replies: %v", client.replies)
	}
}

func TestNonCommandMessagesFeedRosterSilently(t *testing.T) {
	t.Parallel()
	r, client, _ := newTestRouter(t)
	ctx := context.Background()

	r.handle(ctx, groupMsg("just chatting", 111))
	if len(client.replies) != 0 {
		t.Fatalf("non-command produced replies: %v", client.replies)
	}

	// The observed member is now part of the community snapshot.
	r.handle(ctx, groupMsg("/birthday set 03-15", 111))
	r.handle(ctx, groupMsg("/birthday today", 222))
	_ = client.last(t) // depends on the current date; only assert no panic and a reply
}
