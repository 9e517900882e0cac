// README: Token resolution and multi-user push fan-out.
package notify

import (
	"context"

	"go.uber.org/zap"

	"dispatch/internal/modules/user"
)

// Fanout pushes one message to a set of users, resolving each user's device
// token through the cache with the users table as fallback. Cache may be
// nil; delivery stays best-effort either way.
type Fanout struct {
	notifier Notifier
	cache    *TokenCache
	log      *zap.Logger
}

func NewFanout(notifier Notifier, cache *TokenCache, log *zap.Logger) *Fanout {
	return &Fanout{notifier: notifier, cache: cache, log: log}
}

func (f *Fanout) token(ctx context.Context, u user.SystemUser) string {
	if f.cache != nil {
		if tok, ok, err := f.cache.Get(ctx, u.Username); err == nil && ok {
			return tok
		} else if err != nil {
			f.log.Warn("token cache read failed", zap.String("username", u.Username), zap.Error(err))
		}
	}
	if u.FCMToken == nil {
		return ""
	}
	if f.cache != nil {
		if err := f.cache.Set(ctx, u.Username, *u.FCMToken); err != nil {
			f.log.Warn("token cache write failed", zap.String("username", u.Username), zap.Error(err))
		}
	}
	return *u.FCMToken
}

// Send pushes to every user in the list that has a resolvable token.
func (f *Fanout) Send(ctx context.Context, users []user.SystemUser, title, body string, data map[string]string) {
	for _, u := range users {
		if tok := f.token(ctx, u); tok != "" {
			f.notifier.Push(tok, title, body, data)
		}
	}
}
