package telegram

import (
	"strings"

	coreconfig "github.com/m3rciful/featurebot/core/config"
	"github.com/m3rciful/featurebot/core/telegram/middleware"

	"github.com/prometheus/client_golang/prometheus"
)

// MiddlewareOptions supplies the collaborators of the default chain.
type MiddlewareOptions struct {
	// Gate enables the admission middleware when set and rate limiting is not disabled.
	Gate middleware.Admitter
	// Blocked counts updates rejected by the gate.
	Blocked prometheus.Counter
	// Updates counts inbound updates by kind.
	Updates *prometheus.CounterVec
	// After is appended once the update has been admitted.
	After []Middleware
}

// DefaultMiddlewares builds the shared middleware chain for bots:
// recover, logger, metrics, admission, then opts.After.
func DefaultMiddlewares(cfg *coreconfig.Config, opts MiddlewareOptions) []Middleware {
	mws := []Middleware{
		{Name: "recover", Use: middleware.RecoverMiddleware},
		{Name: "logger", Use: middleware.LoggerMiddleware},
		{Name: "replies", Use: middleware.CountReplies},
	}
	if opts.Updates != nil {
		mws = append(mws, Middleware{Name: "updates", Use: middleware.UpdateCounter(opts.Updates)})
	}

	if cfg != nil && !cfg.RateLimit.Disabled && opts.Gate != nil {
		ex := make(map[string]struct{}, len(cfg.RateLimit.ExcludeUpdates))
		for _, t := range cfg.RateLimit.ExcludeUpdates {
			ex[strings.ToLower(t)] = struct{}{}
		}
		mws = append(mws, Middleware{
			Name: "rate_limit",
			Use: middleware.RateLimitMiddleware(middleware.RateLimitOptions{
				Gate:    opts.Gate,
				Exclude: ex,
				Blocked: opts.Blocked,
			}),
		})
	}

	return append(mws, opts.After...)
}
