// Package router turns incoming chat updates into registry/directory
// mutations and queries. Handlers are plain methods over the owned
// components; there is no command-framework registration.
package router

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"
	"time"

	"birthdaybot/internal/birthday"
	"birthdaybot/internal/roster"
	kit "birthdaybot/internal/transport"
	logx "birthdaybot/pkg/logx"
)

const usageText = "Use '/birthday set MM-DD' to register your birthday, " +
	"'/birthday today' to see today's birthdays, or " +
	"'/birthday list' to list birthdays."

// Replier is the slice of the chat client the router needs.
type Replier interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string) error
	Mention(memberID, name string) string
}

type Router struct {
	log    logx.Logger
	client Replier
	reg    *birthday.Registry
	dir    *birthday.Directory
	res    *birthday.Resolver
	ros    *roster.Roster

	mu     sync.RWMutex
	admins map[int64]struct{}
}

func New(client Replier, reg *birthday.Registry, dir *birthday.Directory, res *birthday.Resolver, ros *roster.Roster, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		log:    log,
		client: client,
		reg:    reg,
		dir:    dir,
		res:    res,
		ros:    ros,
		admins: map[int64]struct{}{},
	}
}

// SetAdmins replaces the set of users allowed to run admin verbs.
func (r *Router) SetAdmins(ids []int64) {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	r.mu.Lock()
	r.admins = m
	r.mu.Unlock()
}

func (r *Router) isAdmin(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.admins[id]
	return ok
}

// DispatchLoop consumes updates until ctx is canceled.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.handle(ctx, up)
		}
	}
}

func (r *Router) handle(ctx context.Context, up kit.Update) {
	m := up.Message
	if m == nil {
		return
	}

	// Every group update feeds the membership roster, commands or not.
	if m.IsGroup {
		if m.Left {
			r.ros.Remove(strconv.FormatInt(m.ChatID, 10), strconv.FormatInt(m.FromID, 10))
			return
		}
		r.ros.Observe(
			strconv.FormatInt(m.ChatID, 10), m.ChatTitle,
			strconv.FormatInt(m.FromID, 10), m.FromName,
		)
	}

	cmd, args, ok := parseCommand(m.Text)
	if !ok || cmd != "birthday" {
		return
	}

	hctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	switch sub(args) {
	case "":
		r.reply(hctx, m, usageText)
	case "set":
		r.handleSet(hctx, m, rest(args))
	case "today":
		r.handleToday(hctx, m)
	case "list":
		r.handleList(hctx, m)
	case "channel":
		r.handleChannel(hctx, m, rest(args))
	default:
		r.reply(hctx, m, usageText)
	}
}

// parseCommand accepts "/birthday ..." and "!birthday ..." forms, including
// the "/birthday@BotName" mention style.
func parseCommand(text string) (cmd string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if len(text) < 2 || (text[0] != '/' && text[0] != '!') {
		return "", nil, false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", nil, false
	}
	cmd = strings.ToLower(fields[0])
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return cmd, fields[1:], true
}

func sub(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return strings.ToLower(args[0])
}

func rest(args []string) []string {
	if len(args) <= 1 {
		return nil
	}
	return args[1:]
}

func (r *Router) handleSet(ctx context.Context, m *kit.Message, args []string) {
	if len(args) != 1 {
		r.reply(ctx, m, "Usage: /birthday set MM-DD")
		return
	}
	date := args[0]
	err := r.reg.Set(ctx, strconv.FormatInt(m.FromID, 10), date)
	switch {
	case errors.Is(err, birthday.ErrInvalidDate):
		r.reply(ctx, m, "Date must be in MM-DD format.")
	case err != nil:
		r.log.Error("birthday set failed", logx.Int64("user", m.FromID), logx.Err(err))
		r.reply(ctx, m, "Could not save your birthday, try again later.")
	default:
		// Replies are sent in HTML parse mode; names are user-controlled.
		r.reply(ctx, m, fmt.Sprintf("Birthday for %s set to %s.", html.EscapeString(m.FromName), date))
	}
}

func (r *Router) handleToday(ctx context.Context, m *kit.Message) {
	due, err := r.res.DueIn(ctx, time.Now(), r.ros, strconv.FormatInt(m.ChatID, 10))
	if err != nil {
		r.log.Error("today lookup failed", logx.Int64("chat", m.ChatID), logx.Err(err))
		r.reply(ctx, m, "Could not look up today's birthdays.")
		return
	}
	if len(due) == 0 {
		r.reply(ctx, m, "No birthdays today.")
		return
	}
	mentions := make([]string, 0, len(due))
	for _, id := range due {
		mentions = append(mentions, r.client.Mention(id, r.ros.Name(id)))
	}
	r.reply(ctx, m, "Today's birthdays: "+strings.Join(mentions, ", "))
}

func (r *Router) handleList(ctx context.Context, m *kit.Message) {
	entries := r.reg.All()
	if len(entries) == 0 {
		r.reply(ctx, m, "No birthdays registered.")
		return
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		name := r.ros.Name(e.MemberID)
		if name == "" {
			name = e.MemberID
		}
		lines = append(lines, e.MonthDay+": "+html.EscapeString(name))
	}
	r.reply(ctx, m, strings.Join(lines, "\n"))
}

func (r *Router) handleChannel(ctx context.Context, m *kit.Message, args []string) {
	if !r.isAdmin(m.FromID) {
		r.reply(ctx, m, "Only admins can set the notification channel.")
		return
	}
	if len(args) != 1 {
		r.reply(ctx, m, "Usage: /birthday channel <channel id>")
		return
	}
	err := r.dir.SetChannel(ctx, strconv.FormatInt(m.ChatID, 10), args[0])
	switch {
	case errors.Is(err, birthday.ErrInvalidChannel):
		r.reply(ctx, m, "Channel id must be numeric.")
	case err != nil:
		r.log.Error("channel set failed", logx.Int64("chat", m.ChatID), logx.Err(err))
		r.reply(ctx, m, "Could not save the notification channel, try again later.")
	default:
		r.reply(ctx, m, "Notification channel set to "+args[0]+".")
	}
}

func (r *Router) reply(ctx context.Context, m *kit.Message, text string) {
	if err := r.client.SendText(ctx, kit.ChatTarget{ChatID: m.ChatID}, text); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat", m.ChatID), logx.Err(err))
	}
}
