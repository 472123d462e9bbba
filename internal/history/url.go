package history

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// NormalizeURL returns the stored form of raw: scheme and host lower-cased
// and an empty path on a hierarchical URL replaced by "/". The fragment is
// kept.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("url %q has no scheme", raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Opaque == "" && u.Host != "" && u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

func schemeOf(raw string) string {
	if i := strings.Index(raw, ":"); i > 0 {
		return strings.ToLower(raw[:i])
	}
	return ""
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// originOf returns scheme://host[:port] for hierarchical URLs, or "".
func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// segmentName is the key under which visits to raw are counted for most
// visited: the URL with scheme forced to http, a leading "www." dropped and
// no user info, port, query or fragment.
func segmentName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return "http://" + host + path
}

// redirectComparisonForm renders raw the way redirect hops are compared when
// deciding whether a redirect was only an upgrade to HTTPS: without the
// http(s) scheme, user info, port and trivial subdomains.
func redirectComparisonForm(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	host := strings.ToLower(u.Hostname())
	for _, trivial := range []string{"www.", "m."} {
		host = strings.TrimPrefix(host, trivial)
	}
	var b strings.Builder
	if u.Scheme != "http" && u.Scheme != "https" {
		b.WriteString(u.Scheme)
		b.WriteString("://")
	}
	b.WriteString(host)
	b.WriteString(u.EscapedPath())
	if u.RawQuery != "" {
		b.WriteString("?")
		b.WriteString(u.RawQuery)
	}
	if u.Fragment != "" {
		b.WriteString("#")
		b.WriteString(u.EscapedFragment())
	}
	return b.String()
}

// registryLength returns the length of the public registry of host counting
// only ICANN suffixes, or 0 when host has none (or is itself a registry).
func registryLength(host string) int {
	h := host
	for h != "" {
		suffix, icann := publicsuffix.PublicSuffix(h)
		if icann {
			if suffix == host {
				return 0
			}
			return len(suffix)
		}
		// Private or unlisted: retry with the suffix minus its first label.
		i := strings.IndexByte(suffix, '.')
		if i < 0 {
			return 0
		}
		h = suffix[i+1:]
	}
	return 0
}

func hasSuffixLabel(host string, suffixes []string) bool {
	for _, s := range suffixes {
		s = strings.ToLower(strings.Trim(s, ". "))
		if s == "" {
			continue
		}
		if host == s || strings.HasSuffix(host, "."+s) {
			return true
		}
	}
	return false
}

// isIntranetHost applies the registry rules to host, ignoring typed history.
func (b *Backend) isIntranetHost(host string) bool {
	if host == "" {
		return false
	}
	if net.ParseIP(host) != nil {
		return true
	}
	if hasSuffixLabel(host, b.cfg.Intranet.Suffixes) {
		return true
	}
	if hasSuffixLabel(host, b.cfg.Intranet.Registries) {
		return false
	}
	return registryLength(host) == 0
}

// isUntypedIntranetHost reports whether raw points at an intranet host the
// user never typed.
func (b *Backend) isUntypedIntranetHost(ctx context.Context, raw string) bool {
	switch schemeOf(raw) {
	case "http", "https", "ftp":
	default:
		return false
	}
	host := hostOf(raw)
	if !b.isIntranetHost(host) {
		return false
	}
	typed, err := b.db.IsTypedHost(ctx, host)
	if err != nil {
		b.logger.Warn("typed host lookup failed", "host", host, "error", err)
		return false
	}
	return !typed
}

// CanAddURL reports whether raw may be stored: its scheme is allowed, its
// host is not excluded and the delegate agrees.
func (b *Backend) CanAddURL(raw string) bool {
	if raw == "" {
		return false
	}
	scheme := schemeOf(raw)
	allowed := false
	for _, s := range b.cfg.Capture.AllowedSchemes {
		if strings.EqualFold(s, scheme) {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}
	if b.exclusions.IsExcluded(hostOf(raw)) {
		return false
	}
	return b.delegate.CanAddURL(raw)
}
