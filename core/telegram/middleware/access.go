package middleware

import tele "gopkg.in/telebot.v4"

// AdminChecker reports whether an identity holds admin rights.
type AdminChecker interface {
	IsAdmin(id int64) bool
}

// AdminFunc adapts a function to AdminChecker.
type AdminFunc func(id int64) bool

// IsAdmin calls f.
func (f AdminFunc) IsAdmin(id int64) bool { return f(id) }

// AdminOptions defines how admin-only checks should behave.
type AdminOptions struct {
	Admins   AdminChecker
	OnReject tele.HandlerFunc
}

func (o AdminOptions) allowed(c tele.Context) bool {
	if o.Admins == nil {
		return false
	}
	u := c.Sender()
	return u != nil && o.Admins.IsAdmin(u.ID)
}

// WithAdminCheck wraps a command handler enforcing admin-only execution when required.
func WithAdminCheck(opts AdminOptions, adminOnly bool, h tele.HandlerFunc) tele.HandlerFunc {
	if !adminOnly {
		return h
	}
	return func(c tele.Context) error {
		if !opts.allowed(c) {
			if opts.OnReject != nil {
				return opts.OnReject(c)
			}
			return nil
		}
		return h(c)
	}
}

// AdminOnlyMiddleware ensures that only admins can invoke downstream handlers.
func AdminOnlyMiddleware(opts AdminOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return WithAdminCheck(opts, true, next)
	}
}
