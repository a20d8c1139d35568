package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/talkline-io/talkline-api/internal/observability"
	"github.com/talkline-io/talkline-api/internal/repository"
)

// Handshake rejection reasons. Each is fatal for that connection attempt.
var (
	ErrMissingHandshake  = errors.New("website id, origin and user agent are required")
	ErrUnknownWebsite    = errors.New("unknown website")
	ErrDomainMismatch    = errors.New("domain mismatch")
	ErrConnectionQuota   = errors.New("connection limit reached for domain")
	ErrAutomatedClient   = errors.New("automated clients are not allowed")
	errWebsiteLookupFail = errors.New("website lookup failed")
)

// Handshake is the connection metadata available before the upgrade.
type Handshake struct {
	WebsiteID string
	Origin    string
	UserAgent string
	ClientIP  string
	IsAdmin   bool
	SessionID string
	Reconnect bool
}

// Session is the accepted connection context.
type Session struct {
	ID          string
	WebsiteID   string
	Domain      string
	IsAdmin     bool
	ConnectedAt time.Time
}

var botSignatures = []string{
	"bot", "crawler", "spider", "scraper", "curl", "wget",
	"python-requests", "headless", "phantomjs",
}

// Authenticator validates every incoming connection before any event handler
// runs. The domain cache is constructor-injected and defaults to always-miss.
type Authenticator struct {
	websites       repository.WebsiteRepository
	domains        DomainCache
	connections    *ConnectionLimiter
	platformSuffix string
	connSeq        atomic.Uint64
	now            func() time.Time
	logger         zerolog.Logger
}

// NewAuthenticator wires the connection authenticator. platformSuffix names
// the platform's own hosted subdomains (e.g. ".talkline.app"), which are
// always accepted.
func NewAuthenticator(websites repository.WebsiteRepository, domains DomainCache, connections *ConnectionLimiter, platformSuffix string, logger zerolog.Logger) *Authenticator {
	if domains == nil {
		domains = NewNoopDomainCache()
	}
	if connections == nil {
		connections = NewConnectionLimiter(DefaultConnectionLimit, DefaultConnectionWindow)
	}
	return &Authenticator{
		websites:       websites,
		domains:        domains,
		connections:    connections,
		platformSuffix: strings.ToLower(strings.TrimSpace(platformSuffix)),
		now:            time.Now,
		logger:         logger.With().Str("component", "authenticator").Logger(),
	}
}

// Authenticate applies the handshake rules in order and either produces an
// accepted session context or rejects with a reason. The connection-counter
// increment is the only mutation.
func (a *Authenticator) Authenticate(ctx context.Context, hs Handshake) (Session, error) {
	hs.WebsiteID = strings.TrimSpace(hs.WebsiteID)
	hs.Origin = strings.TrimSpace(hs.Origin)
	hs.UserAgent = strings.TrimSpace(hs.UserAgent)

	if hs.WebsiteID == "" || hs.Origin == "" || hs.UserAgent == "" {
		return a.reject(hs, ErrMissingHandshake)
	}

	website, err := a.websites.GetByID(ctx, hs.WebsiteID)
	if err != nil {
		a.logger.Debug().Err(err).Str("website_id", hs.WebsiteID).Msg("website lookup failed")
		return a.reject(hs, ErrUnknownWebsite)
	}

	domain := NormalizeDomain(hs.Origin)

	if !hs.IsAdmin {
		if !a.domainAllowed(ctx, domain, website.Domain) {
			return a.reject(hs, ErrDomainMismatch)
		}
	}

	if !a.connections.Allow(domain) {
		return a.reject(hs, ErrConnectionQuota)
	}

	if !hs.IsAdmin && looksAutomated(hs.UserAgent) {
		return a.reject(hs, ErrAutomatedClient)
	}

	sessionID := hs.SessionID
	if !hs.Reconnect || sessionID == "" {
		sessionID = a.mintSessionID(hs.WebsiteID)
	}

	return Session{
		ID:          sessionID,
		WebsiteID:   hs.WebsiteID,
		Domain:      domain,
		IsAdmin:     hs.IsAdmin,
		ConnectedAt: a.now().UTC(),
	}, nil
}

func (a *Authenticator) reject(hs Handshake, reason error) (Session, error) {
	observability.ChatRejections().WithLabelValues(reason.Error()).Inc()
	a.logger.Warn().
		Str("website_id", hs.WebsiteID).
		Str("origin", hs.Origin).
		Str("client_ip", hs.ClientIP).
		Bool("is_admin", hs.IsAdmin).
		Str("reason", reason.Error()).
		Msg("connection rejected")
	return Session{}, reason
}

// domainAllowed walks the fallback chain: platform subdomain, registered
// domain of this website (sub/superdomain tolerated), cached registry set,
// fresh registry lookup. Only after all four misses is the connection a
// domain mismatch.
func (a *Authenticator) domainAllowed(ctx context.Context, domain, registered string) bool {
	if domain == "" {
		return false
	}
	if a.platformSuffix != "" && (domain == strings.TrimPrefix(a.platformSuffix, ".") || strings.HasSuffix(domain, a.platformSuffix)) {
		return true
	}
	if domainsRelated(domain, NormalizeDomain(registered)) {
		return true
	}
	if a.domains.Contains(ctx, domain) {
		return true
	}

	all, err := a.websites.ListDomains(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("registry domain lookup failed")
		return false
	}
	a.domains.Replace(ctx, normalizeDomains(all))
	for _, candidate := range all {
		if domainsRelated(domain, NormalizeDomain(candidate)) {
			return true
		}
	}
	return false
}

// mintSessionID derives a globally-unique id from the website id, a
// per-process connection counter, the current time and random bits.
func (a *Authenticator) mintSessionID(websiteID string) string {
	seq := a.connSeq.Add(1)
	random := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return fmt.Sprintf("%s-%d-%d-%s", websiteID, seq, a.now().UnixNano(), random)
}

// NormalizeDomain strips scheme, port and trailing slash and lowercases.
func NormalizeDomain(origin string) string {
	domain := strings.TrimSpace(strings.ToLower(origin))
	if idx := strings.Index(domain, "://"); idx >= 0 {
		domain = domain[idx+3:]
	}
	domain = strings.TrimSuffix(domain, "/")
	if idx := strings.IndexByte(domain, '/'); idx >= 0 {
		domain = domain[:idx]
	}
	if idx := strings.LastIndexByte(domain, ':'); idx >= 0 {
		domain = domain[:idx]
	}
	return domain
}

func normalizeDomains(domains []string) []string {
	out := make([]string, 0, len(domains))
	for _, domain := range domains {
		if normalized := NormalizeDomain(domain); normalized != "" {
			out = append(out, normalized)
		}
	}
	return out
}

func domainsRelated(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.HasSuffix(a, "."+b) || strings.HasSuffix(b, "."+a)
}

func looksAutomated(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, signature := range botSignatures {
		if strings.Contains(ua, signature) {
			return true
		}
	}
	return false
}
