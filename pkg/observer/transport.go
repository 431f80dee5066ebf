// Package observer instruments an HTTP client so every outbound call is reported
// to the token layer, and calls to the identity endpoint can be refused while
// requests are globally blocked.
package observer

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cecil-the-coder/auth-resilience-kit/pkg/types"
)

// ErrBlocked is returned for identity endpoint requests refused by the gate
var ErrBlocked = errors.New("identity requests are blocked")

// Matcher decides whether a request targets the identity endpoint
type Matcher interface {
	IsIdentityEndpoint(req *http.Request) bool
}

// Gate reports whether identity requests are currently forbidden
type Gate interface {
	IsBlocked() bool
}

// HostMatcher matches requests by host name. An entry starting with "." matches
// the domain and every subdomain.
type HostMatcher struct {
	hosts    map[string]struct{}
	suffixes []string
}

// NewHostMatcher creates a matcher for hosts
func NewHostMatcher(hosts ...string) *HostMatcher {
	m := &HostMatcher{hosts: make(map[string]struct{})}
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		switch {
		case h == "":
		case strings.HasPrefix(h, "."):
			m.suffixes = append(m.suffixes, h)
			m.hosts[strings.TrimPrefix(h, ".")] = struct{}{}
		default:
			m.hosts[h] = struct{}{}
		}
	}
	return m
}

func (m *HostMatcher) IsIdentityEndpoint(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	host := strings.ToLower(req.URL.Hostname())
	if _, ok := m.hosts[host]; ok {
		return true
	}
	for _, suffix := range m.suffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

// Config configures a Transport
type Config struct {
	Base     http.RoundTripper // default http.DefaultTransport
	Matcher  Matcher           // nil treats every request as non-identity
	Observer types.NetworkObserver
	Gate     Gate // optional
}

// Transport is an http.RoundTripper that reports each round trip as an Observation
type Transport struct {
	base     http.RoundTripper
	matcher  Matcher
	observer types.NetworkObserver
	gate     Gate
}

// NewTransport wraps cfg.Base
func NewTransport(cfg Config) *Transport {
	base := cfg.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{
		base:     base,
		matcher:  cfg.Matcher,
		observer: cfg.Observer,
		gate:     cfg.Gate,
	}
}

// NewClient returns an http.Client using an observing transport
func NewClient(cfg Config, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: NewTransport(cfg),
		Timeout:   timeout,
	}
}

// RoundTrip implements http.RoundTripper. Requests refused by the gate are not observed.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	identity := t.matcher != nil && t.matcher.IsIdentityEndpoint(req)
	if identity && t.gate != nil && t.gate.IsBlocked() {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, ErrBlocked
	}

	resp, err := t.base.RoundTrip(req)

	if t.observer != nil {
		obs := types.Observation{
			IdentityEndpoint: identity,
			URL:              redact(req),
		}
		switch {
		case err != nil:
			obs.Outcome = types.Exception(err.Error())
		case resp.StatusCode >= http.StatusBadRequest:
			obs.Outcome = types.HTTPError(resp.StatusCode)
		default:
			obs.Outcome = types.Success()
		}
		t.observer.Observe(obs)
	}

	return resp, err
}

// redact drops the query string and user info, which may carry credentials
func redact(req *http.Request) string {
	if req.URL == nil {
		return ""
	}
	u := *req.URL
	u.RawQuery = ""
	u.User = nil
	u.Fragment = ""
	return u.String()
}

var _ http.RoundTripper = (*Transport)(nil)
