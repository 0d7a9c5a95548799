package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "birthdaybot/internal/transport"
	logx "birthdaybot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Client adapts telebot to the transport.Client interface.
type Client struct {
	cfg Config
	log logx.Logger

	bot *tele.Bot
	out atomic.Value // stores (chan<- kit.Update)

	runMu   sync.Mutex
	running bool
	done    chan struct{}

	// telebot's Stop blocks until the running loop confirms; a second call
	// would wait on that channel forever.
	stopOnce sync.Once

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the poll loop. Logged on Stop to avoid per-update spam.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{cfg: cfg, log: log, bot: b}
	var nilOut chan<- kit.Update
	c.out.Store(nilOut)
	c.registerHandlers()
	return c, nil
}

func (c *Client) registerHandlers() {
	c.bot.Handle(tele.OnText, func(tc tele.Context) error {
		m := tc.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		c.forward(messageFrom(m, m.Text))
		return nil
	})

	// Joins carry no text but still update the membership roster.
	c.bot.Handle(tele.OnUserJoined, func(tc tele.Context) error {
		m := tc.Message()
		if m == nil {
			return nil
		}
		isGroup := m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup
		for _, u := range m.UsersJoined {
			u := u
			c.forward(kit.Update{Message: &kit.Message{
				ID:           m.ID,
				ChatID:       m.Chat.ID,
				ChatTitle:    m.Chat.Title,
				FromID:       u.ID,
				FromName:     displayName(&u),
				FromUsername: u.Username,
				IsGroup:      isGroup,
			}})
		}
		return nil
	})

	// Departures are the one membership change Telegram pushes to bots;
	// without them a former member would stay in the roster forever.
	c.bot.Handle(tele.OnUserLeft, func(tc tele.Context) error {
		m := tc.Message()
		if m == nil || m.UserLeft == nil {
			return nil
		}
		isGroup := m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup
		c.forward(kit.Update{Message: &kit.Message{
			ID:           m.ID,
			ChatID:       m.Chat.ID,
			ChatTitle:    m.Chat.Title,
			FromID:       m.UserLeft.ID,
			FromName:     displayName(m.UserLeft),
			FromUsername: m.UserLeft.Username,
			IsGroup:      isGroup,
			Left:         true,
		}})
		return nil
	})
}

func messageFrom(m *tele.Message, text string) kit.Update {
	isGroup := m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup
	return kit.Update{Message: &kit.Message{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		ChatTitle:    m.Chat.Title,
		FromID:       m.Sender.ID,
		FromName:     displayName(m.Sender),
		FromUsername: m.Sender.Username,
		Text:         text,
		IsGroup:      isGroup,
	}}
}

func displayName(u *tele.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return name
}

func (c *Client) forward(up kit.Update) {
	v := c.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&c.droppedUpdates, 1)
	}
}

func (c *Client) stopBot() {
	c.stopOnce.Do(c.bot.Stop)
}

func (c *Client) Start(ctx context.Context, out chan<- kit.Update) error {
	c.runMu.Lock()
	if c.running {
		c.runMu.Unlock()
		return nil
	}
	c.running = true
	c.out.Store(out)
	c.done = make(chan struct{})
	done := c.done
	c.runMu.Unlock()

	go func() {
		<-ctx.Done()
		c.stopBot()
	}()
	go func() {
		defer close(done)
		c.log.Info("polling started")
		c.bot.Start() // blocks until Stop()
		c.log.Info("polling stopped")
	}()
	return nil
}

func (c *Client) Stop(ctx context.Context) error {
	c.runMu.Lock()
	wasRunning := c.running
	c.running = false
	done := c.done
	var nilOut chan<- kit.Update
	c.out.Store(nilOut)
	c.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if n := atomic.SwapUint64(&c.droppedUpdates, 0); n > 0 {
		c.log.Warn("incoming updates dropped (channel full)", logx.Any("count", n))
	}

	// telebot Stop is expected to be fast; run it async just in case.
	go c.stopBot()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		c.log.Warn("telegram stop timed out", logx.Err(ctx.Err()))
		return nil
	}
}

func (c *Client) SendText(ctx context.Context, to kit.ChatTarget, text string) error {
	_ = ctx // telebot has no per-call context
	chat := &tele.Chat{ID: to.ChatID}
	_, err := c.bot.Send(chat, text, &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
	})
	return err
}

func (c *Client) SendPhoto(ctx context.Context, to kit.ChatTarget, a kit.Attachment, caption string) error {
	_ = ctx
	chat := &tele.Chat{ID: to.ChatID}
	photo := &tele.Photo{
		File:    tele.FromReader(bytes.NewReader(a.Data)),
		Caption: caption,
	}
	_, err := c.bot.Send(chat, photo, &tele.SendOptions{ParseMode: tele.ModeHTML})
	return err
}

// DefaultChannel treats the community chat itself as the fallback channel:
// Telegram groups have no sub-channels, so a group the bot is still a member
// of is always sendable.
func (c *Client) DefaultChannel(ctx context.Context, communityID string) (string, bool) {
	_ = ctx
	id, err := strconv.ParseInt(communityID, 10, 64)
	if err != nil {
		return "", false
	}
	if _, err := c.bot.ChatByID(id); err != nil {
		return "", false
	}
	return communityID, true
}

func (c *Client) AvatarJPEG(ctx context.Context, memberID string) ([]byte, error) {
	_ = ctx
	id, err := strconv.ParseInt(memberID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("avatar: bad member id %q: %w", memberID, err)
	}
	photos, err := c.bot.ProfilePhotosOf(&tele.User{ID: id})
	if err != nil {
		return nil, fmt.Errorf("avatar: profile photos: %w", err)
	}
	if len(photos) == 0 {
		return nil, fmt.Errorf("avatar: member %s has no profile photo", memberID)
	}
	rc, err := c.bot.File(&photos[0].File)
	if err != nil {
		return nil, fmt.Errorf("avatar: download: %w", err)
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}

func (c *Client) Mention(memberID, name string) string {
	if name == "" {
		name = memberID
	}
	return `<a href="tg://user?id=` + memberID + `">` + html.EscapeString(name) + `</a>`
}
