// Package dispatch delivers the per-community birthday reminders computed by
// the resolver. Communities are processed independently: a channel that
// cannot be resolved, a card that fails to render or a send that errors
// never blocks delivery to the remaining communities.
package dispatch

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"birthdaybot/internal/birthday"
	kit "birthdaybot/internal/transport"
	logx "birthdaybot/pkg/logx"
)

// Renderer produces the optional card attachment. Failure is non-fatal: the
// reminder degrades to text-only.
type Renderer interface {
	Render(ctx context.Context, memberIDs []string) (kit.Attachment, error)
}

// Sender is the slice of the chat client the dispatcher needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string) error
	SendPhoto(ctx context.Context, to kit.ChatTarget, a kit.Attachment, caption string) error
	DefaultChannel(ctx context.Context, communityID string) (string, bool)
	Mention(memberID, name string) string
}

type Config struct {
	// RatePerSec caps sends across a pass; 0 means 1/s.
	RatePerSec int

	// CommunityTimeout bounds channel resolution + render + send for one
	// community; 0 disables the bound.
	CommunityTimeout time.Duration

	// WithCard enables card rendering.
	WithCard bool
}

type Status string

const (
	StatusSent    Status = "sent"
	StatusSkipped Status = "skipped" // no usable channel; non-fatal omission
	StatusFailed  Status = "failed"  // send failed
)

type Outcome struct {
	CommunityID string
	Status      Status
	Members     int
	WithCard    bool
	Err         error
}

// Report collects per-community outcomes of one pass.
type Report struct {
	Sent     int
	Skipped  int
	Failed   int
	Outcomes []Outcome
}

type Dispatcher struct {
	log      logx.Logger
	client   Sender
	dir      *birthday.Directory
	renderer Renderer
	nameOf   func(memberID string) string

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
}

// New creates a dispatcher. nameOf resolves display names for mentions and
// may be nil.
func New(cfg Config, client Sender, dir *birthday.Directory, renderer Renderer, nameOf func(string) string, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if nameOf == nil {
		nameOf = func(string) string { return "" }
	}
	d := &Dispatcher{log: log, client: client, dir: dir, renderer: renderer, nameOf: nameOf}
	d.Apply(cfg)
	return d
}

func (d *Dispatcher) Apply(cfg Config) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	d.mu.Lock()
	d.cfg = cfg
	if d.limiter == nil {
		d.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	} else {
		d.limiter.SetLimit(rate.Limit(rps))
		d.limiter.SetBurst(rps)
	}
	d.mu.Unlock()
}

func (d *Dispatcher) snapshot() (Config, *rate.Limiter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg, d.limiter
}

// Dispatch sends one reminder per due community. It never returns an error:
// all outcomes land in the Report.
func (d *Dispatcher) Dispatch(ctx context.Context, due map[string][]string) Report {
	cfg, limiter := d.snapshot()

	// Stable order keeps logs and send sequence deterministic.
	ids := make([]string, 0, len(due))
	for id := range due {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var rep Report
	for _, communityID := range ids {
		out := d.dispatchOne(ctx, cfg, limiter, communityID, due[communityID])
		rep.Outcomes = append(rep.Outcomes, out)
		switch out.Status {
		case StatusSent:
			rep.Sent++
		case StatusSkipped:
			rep.Skipped++
		case StatusFailed:
			rep.Failed++
		}
	}
	return rep
}

func (d *Dispatcher) dispatchOne(ctx context.Context, cfg Config, limiter *rate.Limiter, communityID string, members []string) Outcome {
	cctx := ctx
	if cfg.CommunityTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, cfg.CommunityTimeout)
		defer cancel()
	}

	channelID, ok := d.dir.Resolve(cctx, communityID, d.client.DefaultChannel)
	if !ok {
		d.log.Warn("no usable channel; skipping community", logx.String("community", communityID))
		return Outcome{CommunityID: communityID, Status: StatusSkipped, Members: len(members)}
	}
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		d.log.Warn("unusable channel id; skipping community",
			logx.String("community", communityID), logx.String("channel", channelID))
		return Outcome{CommunityID: communityID, Status: StatusSkipped, Members: len(members)}
	}
	target := kit.ChatTarget{ChatID: chatID}

	text := d.MessageText(members)

	var card *kit.Attachment
	if cfg.WithCard && d.renderer != nil {
		a, err := d.renderer.Render(cctx, members)
		if err != nil {
			d.log.Warn("card render failed; sending text-only",
				logx.String("community", communityID), logx.Err(err))
		} else {
			card = &a
		}
	}

	if err := limiter.Wait(cctx); err != nil {
		return Outcome{CommunityID: communityID, Status: StatusFailed, Members: len(members), Err: err}
	}

	if card != nil {
		err = d.client.SendPhoto(cctx, target, *card, text)
	} else {
		err = d.client.SendText(cctx, target, text)
	}
	if err != nil {
		d.log.Warn("reminder send failed", logx.String("community", communityID), logx.Err(err))
		return Outcome{CommunityID: communityID, Status: StatusFailed, Members: len(members), Err: err}
	}
	return Outcome{CommunityID: communityID, Status: StatusSent, Members: len(members), WithCard: card != nil}
}

// MessageText builds the celebratory message with mentions in member order.
func (d *Dispatcher) MessageText(members []string) string {
	mentions := make([]string, 0, len(members))
	for _, id := range members {
		mentions = append(mentions, d.client.Mention(id, d.nameOf(id)))
	}
	return "\U0001F382 Today's birthdays: " + strings.Join(mentions, ", ")
}
