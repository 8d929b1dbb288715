package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/whisper/internal/crypto"
	"github.com/eldtechnologies/whisper/internal/metrics"
	"github.com/eldtechnologies/whisper/internal/session"
)

const (
	// violationsBeforeBlock rejected requests within violationWindow get an
	// IP blocked for blockDuration.
	violationsBeforeBlock = 10
	violationWindow       = time.Hour
	blockDuration         = 24 * time.Hour
)

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	Whitelist        []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled bool
}

// route is a rate-limited endpoint: requests whose "METHOD path" starts with
// prefix share a budget of limit per window, counted per key.
type route struct {
	prefix string
	limit  int
	window time.Duration
	key    func(r *http.Request) string
}

// routes is matched in order; the first prefix that fits wins.
var routes = []route{
	{"POST /api/users/register", 10, time.Hour, ipKey},
	{"POST /api/users/login", 20, 15 * time.Minute, ipKey},
	{"POST /api/users/logout", 30, time.Minute, sessionKey},
	{"PUT /api/users/edit/", 20, time.Minute, sessionKey},
	{"DELETE /api/users/delete/", 5, time.Hour, sessionKey},
	{"GET /api/users", 120, time.Minute, ipKey},
	{"GET /api/messages/", 120, time.Minute, sessionKey},
	{"GET /api/stats", 60, time.Minute, ipKey},
	{"GET /ws", 30, time.Minute, ipKey},
}

func matchRoute(r *http.Request) (route, bool) {
	target := r.Method + " " + r.URL.Path
	for _, rt := range routes {
		if strings.HasPrefix(target, rt.prefix) {
			return rt, true
		}
	}
	return route{}, false
}

// RateLimiter enforces per-route sliding windows kept in Redis sorted sets.
type RateLimiter struct {
	client    *redis.Client
	blocker   *IPBlocker
	exempt    allowList
	autoBlock bool
	logger    zerolog.Logger
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	exempt := parseAllowList(cfg.Whitelist, logger)
	if len(cfg.Whitelist) > 0 {
		logger.Info().
			Int("ips", len(exempt.ips)).
			Int("cidrs", len(exempt.nets)).
			Msg("rate limit whitelist configured")
	}

	return &RateLimiter{
		client:    client,
		blocker:   NewIPBlocker(client),
		exempt:    exempt,
		autoBlock: cfg.AutoBlockEnabled,
		logger:    logger,
	}
}

// allowList is a set of single IPs and CIDR ranges.
type allowList struct {
	ips  map[string]bool
	nets []*net.IPNet
}

func parseAllowList(entries []string, logger zerolog.Logger) allowList {
	al := allowList{ips: make(map[string]bool)}
	for _, entry := range entries {
		if !strings.Contains(entry, "/") {
			al.ips[entry] = true
			continue
		}
		_, n, err := net.ParseCIDR(entry)
		if err != nil {
			logger.Warn().Str("entry", entry).Err(err).Msg("ignoring invalid whitelist CIDR")
			continue
		}
		al.nets = append(al.nets, n)
	}
	return al
}

func (al allowList) contains(addr string) bool {
	if al.ips[addr] {
		return true
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range al.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func ipKey(r *http.Request) string {
	return "ratelimit:ip:" + RealIP(r)
}

// sessionKey counts per session cookie, or per IP when there is none. The
// cookie is hashed so raw session values never reach Redis keys.
func sessionKey(r *http.Request) string {
	cookie, err := r.Cookie(session.CookieName)
	if err != nil || cookie.Value == "" {
		return ipKey(r)
	}
	sum := sha256.Sum256([]byte(cookie.Value))
	return "ratelimit:session:" + hex.EncodeToString(sum[:16])
}

// RealIP returns the client address, preferring proxy headers.
func RealIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// allow records one request under key and reports whether it fits in the
// last window. Rejected requests are recorded too, so a client that keeps
// retrying stays limited.
func (rl *RateLimiter) allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	now := time.Now()

	pipe := rl.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now.Add(-window).UnixMilli(), 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: crypto.NewULID()})
	count := pipe.ZCard(ctx, key)
	pipe.PExpire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}

	n := int(count.Val())
	return n <= limit, max(limit-n, 0), nil
}

// Middleware returns the rate limiting middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RealIP(r)
		if rl.exempt.contains(ip) {
			next.ServeHTTP(w, r)
			return
		}

		if rl.blocker.IsBlocked(r.Context(), ip) {
			metrics.BlockedRequests.WithLabelValues("ip_blocked").Inc()
			rl.logger.Warn().
				Str("type", "security").
				Str("event", "blocked_request").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Msg("request from blocked IP")
			jsonError(w, http.StatusForbidden, "temporarily blocked")
			return
		}

		rt, ok := matchRoute(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		key := rt.key(r)
		allowed, remaining, err := rl.allow(r.Context(), key, rt.limit, rt.window)
		if err != nil {
			// Redis trouble should not take the API down with it.
			rl.logger.Error().Err(err).Str("key", key).Msg("rate limit check failed")
			next.ServeHTTP(w, r)
			return
		}

		resetAt := time.Now().Add(rt.window)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rt.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(rt.window.Seconds())))
			metrics.RateLimitHits.WithLabelValues(r.Method + " " + normalizePath(r.URL.Path)).Inc()
			rl.logger.Warn().
				Str("type", "security").
				Str("event", "rate_limit_exceeded").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Msg("rate limit exceeded")

			if rl.autoBlock {
				rl.recordViolation(r.Context(), ip)
			}
			jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// recordViolation counts a rejected request and blocks the IP once it has
// too many in violationWindow.
func (rl *RateLimiter) recordViolation(ctx context.Context, ip string) {
	key := "violations:ip:" + ip

	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, violationWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.logger.Error().Err(err).Str("ip", ip).Msg("failed to record rate limit violation")
		return
	}

	if n := incr.Val(); n >= violationsBeforeBlock {
		rl.blocker.Block(ctx, ip, blockDuration, "repeated rate limit violations")
		rl.logger.Warn().
			Str("type", "security").
			Str("event", "ip_auto_blocked").
			Str("ip", ip).
			Int64("violations", n).
			Msg("IP blocked after repeated violations")
	}
}

// IPBlocker keeps temporary IP blocks in Redis.
type IPBlocker struct {
	client *redis.Client
}

// NewIPBlocker creates a new IP blocker.
func NewIPBlocker(client *redis.Client) *IPBlocker {
	return &IPBlocker{client: client}
}

func blockKey(ip string) string { return "blocked:ip:" + ip }

// IsBlocked reports whether ip is blocked. Lookup errors count as not blocked.
func (b *IPBlocker) IsBlocked(ctx context.Context, ip string) bool {
	n, err := b.client.Exists(ctx, blockKey(ip)).Result()
	return err == nil && n > 0
}

// Block blocks ip for d, recording reason as the key's value.
func (b *IPBlocker) Block(ctx context.Context, ip string, d time.Duration, reason string) {
	b.client.Set(ctx, blockKey(ip), reason, d)
}

// Unblock lifts a block.
func (b *IPBlocker) Unblock(ctx context.Context, ip string) {
	b.client.Del(ctx, blockKey(ip))
}
