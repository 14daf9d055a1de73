package transport

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// OriginPolicy decides which browser origins may reach the control API.
// Requests without an Origin header come from non-browser clients and pass.
type OriginPolicy struct {
	allowed map[string]bool
}

// NewOriginPolicy trusts loopback pages plus the listed origins
// (scheme://host[:port]).
func NewOriginPolicy(allowed []string) *OriginPolicy {
	p := &OriginPolicy{allowed: make(map[string]bool, len(allowed))}
	for _, o := range allowed {
		p.allowed[strings.TrimSuffix(strings.ToLower(o), "/")] = true
	}
	return p
}

// Allow reports whether r may be served.
//
// A page served from loopback may call a loopback listener on any port.
// Same-origin pages are trusted only when the host is an IP literal, since a
// DNS name pointing at 127.0.0.1 can be rebound by whoever controls it.
func (p *OriginPolicy) Allow(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	if p != nil && p.allowed[strings.ToLower(u.Scheme+"://"+u.Host)] {
		return true
	}

	originHost := u.Hostname()
	reqHost := hostname(r.Host)
	if isLoopback(originHost) && isLoopback(reqHost) {
		return true
	}
	return strings.EqualFold(u.Host, r.Host) && net.ParseIP(reqHost) != nil
}

func hostname(hostport string) string {
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.Trim(h, "[]")
	}
	return strings.Trim(hostport, "[]")
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
