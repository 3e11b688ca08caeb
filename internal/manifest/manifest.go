package manifest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

const (
	fetchAttempts = 3
	fetchBackoff  = 2 * time.Second
	fetchTimeout  = 30 * time.Second
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Fetch retrieves a manifest template over HTTP, retrying transient failures
// a fixed number of times with a fixed delay.
func (a *Applier) Fetch(ctx context.Context, url string) (string, error) {
	logger := log.FromContext(ctx)

	var lastErr error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		body, err := a.fetchOnce(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
		logger.Info("manifest fetch failed, retrying", "url", url, "attempt", attempt, "error", err.Error())
		if attempt < fetchAttempts {
			select {
			case <-time.After(fetchBackoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", fmt.Errorf("failed to fetch manifest from %s after %d attempts: %w", url, fetchAttempts, lastErr)
}

func (a *Applier) fetchOnce(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Render substitutes {{ VAR }} placeholders from vars. A placeholder with no
// matching entry is left verbatim so optional values can stay unresolved, but
// each one is surfaced as a warning.
func Render(ctx context.Context, template string, vars map[string]string) string {
	logger := log.FromContext(ctx)

	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		value, ok := vars[name]
		if !ok {
			logger.Info("placeholder left unresolved", "placeholder", name)
			return match
		}
		return value
	})
}
