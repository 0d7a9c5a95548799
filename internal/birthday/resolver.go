package birthday

import (
	"context"
	"time"

	kit "birthdaybot/internal/transport"
	logx "birthdaybot/pkg/logx"
)

// MembershipProvider supplies the live community/member snapshot at pass
// time. It is never cached by the resolver.
type MembershipProvider interface {
	Communities(ctx context.Context) ([]kit.Community, error)
	Members(ctx context.Context, communityID string) ([]kit.Member, error)
}

// Resolver computes which communities owe a reminder today. Both the daily
// scheduled pass and the interactive "today" command use it.
type Resolver struct {
	reg *Registry
	log logx.Logger
}

func NewResolver(reg *Registry, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{reg: reg, log: log}
}

// TodayKey formats now as the registry's "MM-DD" key.
func TodayKey(now time.Time) string { return now.Format("01-02") }

// DueToday returns communityID -> due member ids, preserving the membership
// provider's member order. Communities with no due members are omitted. An
// empty registry short-circuits without touching the provider.
func (r *Resolver) DueToday(ctx context.Context, now time.Time, membership MembershipProvider) (map[string][]string, error) {
	if r.reg.Len() == 0 {
		return map[string][]string{}, nil
	}

	due := r.reg.Matching(TodayKey(now))
	if len(due) == 0 {
		return map[string][]string{}, nil
	}
	dueSet := make(map[string]struct{}, len(due))
	for _, id := range due {
		dueSet[id] = struct{}{}
	}

	communities, err := membership.Communities(ctx)
	if err != nil {
		return nil, err
	}

	out := map[string][]string{}
	for _, c := range communities {
		members, err := membership.Members(ctx, c.ID)
		if err != nil {
			// One community's lookup failing must not block the others.
			r.log.Warn("member lookup failed", logx.String("community", c.ID), logx.Err(err))
			continue
		}
		var hit []string
		for _, m := range members {
			if _, ok := dueSet[m.ID]; ok {
				hit = append(hit, m.ID)
			}
		}
		if len(hit) > 0 {
			out[c.ID] = hit
		}
	}
	return out, nil
}

// DueIn resolves today's due members for a single community. Used by the
// interactive "today" command so it shares DueToday's semantics.
func (r *Resolver) DueIn(ctx context.Context, now time.Time, membership MembershipProvider, communityID string) ([]string, error) {
	if r.reg.Len() == 0 {
		return nil, nil
	}
	due := r.reg.Matching(TodayKey(now))
	if len(due) == 0 {
		return nil, nil
	}
	dueSet := make(map[string]struct{}, len(due))
	for _, id := range due {
		dueSet[id] = struct{}{}
	}
	members, err := membership.Members(ctx, communityID)
	if err != nil {
		return nil, err
	}
	var hit []string
	for _, m := range members {
		if _, ok := dueSet[m.ID]; ok {
			hit = append(hit, m.ID)
		}
	}
	return hit, nil
}
