// Package captcha talks to an hCaptcha-compatible siteverify endpoint.
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spigotlabs/spigot/internal/core"
)

const (
	DefaultVerifyURL = "https://hcaptcha.com/siteverify"
	DefaultTimeout   = 10 * time.Second

	maxResponseBytes = 64 << 10
)

// Verifier checks human-verification tokens against the provider.
type Verifier struct {
	Client    *http.Client
	VerifyURL string
	Secret    string
	Timeout   time.Duration
}

// Verify returns nil when the provider accepts token. A provider refusal is a
// *core.VerificationRejectedError; anything that prevents a verdict (transport
// failure, timeout, unreadable body) wraps core.ErrVerificationUnavailable.
func (v *Verifier) Verify(ctx context.Context, token string) error {
	if v == nil || strings.TrimSpace(v.Secret) == "" {
		return fmt.Errorf("%w: verifier is not configured", core.ErrVerificationUnavailable)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	timeout := v.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	form := url.Values{}
	form.Set("secret", v.Secret)
	form.Set("response", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrVerificationUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := v.client().Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrVerificationUnavailable, err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: provider returned status %d", core.ErrVerificationUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", core.ErrVerificationUnavailable, err)
	}

	payload := map[string]any{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("%w: malformed response: %v", core.ErrVerificationUnavailable, err)
	}

	success, ok := payload["success"].(bool)
	if !ok {
		return fmt.Errorf("%w: response missing success flag", core.ErrVerificationUnavailable)
	}
	if !success {
		return &core.VerificationRejectedError{Details: payload}
	}

	return nil
}

// IsRejected reports whether err is a provider refusal rather than an outage.
func IsRejected(err error) bool {
	return errors.Is(err, core.ErrVerificationRejected)
}

func (v *Verifier) verifyURL() string {
	if u := strings.TrimSpace(v.VerifyURL); u != "" {
		return u
	}
	return DefaultVerifyURL
}

func (v *Verifier) client() *http.Client {
	if v.Client != nil {
		return v.Client
	}
	return &http.Client{Timeout: DefaultTimeout}
}
