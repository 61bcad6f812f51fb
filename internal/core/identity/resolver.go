// Package identity derives the per-requester key used for claim rate limiting.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"strings"

	"github.com/spigotlabs/spigot/internal/core"
)

const (
	StrategyNetwork     = "network"
	StrategyFingerprint = "fingerprint"
)

// Resolver turns request metadata into an identity key. An empty key means
// the request carried nothing to tell it apart from other requesters.
type Resolver interface {
	Resolve(req core.ClaimRequest) string
	Name() string
}

// NetworkResolver keys requesters by their originating network address.
type NetworkResolver struct{}

func (NetworkResolver) Name() string { return StrategyNetwork }

func (NetworkResolver) Resolve(req core.ClaimRequest) string {
	addr := OriginAddress(req.Origin)
	if addr == "" {
		return ""
	}
	return "ip:" + strings.ToLower(addr)
}

// FingerprintResolver prefers the client-generated device fingerprint and falls
// back to the network address unless the fingerprint is required.
type FingerprintResolver struct {
	Required bool
}

func (FingerprintResolver) Name() string { return StrategyFingerprint }

func (r FingerprintResolver) Resolve(req core.ClaimRequest) string {
	if fp := strings.TrimSpace(req.Fingerprint); fp != "" {
		return "fp:" + fp
	}
	if r.Required {
		return ""
	}
	return NetworkResolver{}.Resolve(req)
}

// New returns the resolver registered under strategy.
func New(strategy string, requireFingerprint bool) (Resolver, error) {
	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case "", StrategyNetwork:
		return NetworkResolver{}, nil
	case StrategyFingerprint:
		return FingerprintResolver{Required: requireFingerprint}, nil
	default:
		return nil, fmt.Errorf("unsupported identity strategy: %s", strategy)
	}
}

// OriginAddress picks the first X-Forwarded-For hop, then X-Real-IP, then the
// connection's remote host.
func OriginAddress(origin core.RequestOrigin) string {
	if forwarded := strings.TrimSpace(origin.ForwardedFor); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	if realIP := strings.TrimSpace(origin.RealIP); realIP != "" {
		return realIP
	}

	remote := strings.TrimSpace(origin.RemoteAddr)
	if remote == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}

// Digest is a short, log-safe stand-in for an identity key.
func Digest(key string) string {
	if key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:6])
}
