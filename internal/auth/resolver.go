package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/tunerboard/internal/tuners"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const defaultProfileCacheTTL = 10 * time.Minute

var (
	errMissingVerifier = errors.New("auth: session verifier required")
	errMissingProfiles = errors.New("auth: profile source required")
)

// ResolverConfig wires a Resolver.
type ResolverConfig struct {
	Verifier        SessionVerifier
	Profiles        ProfileSource
	ProfileCacheTTL time.Duration
	Logger          *zap.Logger
}

// Resolver turns session tokens into tuners.Identity values, caching profiles per user id.
type Resolver struct {
	verifier SessionVerifier
	profiles ProfileSource
	cache    *cache.Cache
	logger   *zap.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Verifier == nil {
		return nil, errMissingVerifier
	}
	if cfg.Profiles == nil {
		return nil, errMissingProfiles
	}
	ttl := cfg.ProfileCacheTTL
	if ttl <= 0 {
		ttl = defaultProfileCacheTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		verifier: cfg.Verifier,
		profiles: cfg.Profiles,
		cache:    cache.New(ttl, ttl+ttl/2),
		logger:   logger,
	}, nil
}

// Resolve verifies token and loads the matching profile. An empty token yields
// the anonymous identity without error. Session failures wrap the auth session
// errors; profile failures wrap tuners.ErrUpstreamIdentity. The anonymous
// identity accompanies every error.
func (r *Resolver) Resolve(ctx context.Context, token string) (tuners.Identity, error) {
	if strings.TrimSpace(token) == "" {
		return tuners.Anonymous(), nil
	}
	userID, err := r.verifier.VerifySession(ctx, token)
	if err != nil {
		return tuners.Anonymous(), err
	}

	if cached, ok := r.cache.Get(userID); ok {
		if profile, ok := cached.(Profile); ok {
			return identityFromProfile(userID, profile), nil
		}
	}

	profile, err := r.profiles.LookupProfile(ctx, userID)
	if err != nil {
		r.logger.Warn("profile lookup failed", zap.String("user_id", userID), zap.Error(err))
		return tuners.Anonymous(), fmt.Errorf("%w: %v", tuners.ErrUpstreamIdentity, err)
	}
	r.cache.SetDefault(userID, profile)
	return identityFromProfile(userID, profile), nil
}

func identityFromProfile(userID string, profile Profile) tuners.Identity {
	username := profile.Username
	if strings.TrimSpace(username) == "" {
		username = userID
	}
	return tuners.Identity{
		ID:              userID,
		Username:        username,
		AvatarURL:       profile.AvatarURL,
		IsAdmin:         profile.IsAdmin,
		IsAuthenticated: true,
	}
}
