package credstore

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
)

type cookieRef struct {
	u      *url.URL
	name   string
	path   string
	domain string
}

// CookieJar is an http.CookieJar that remembers which cookies it was given, so
// a namespace of them can be cleared later. cookiejar.Jar has no delete or
// enumerate, so clearing re-sets each tracked cookie with a negative MaxAge.
type CookieJar struct {
	mu      sync.Mutex
	jar     *cookiejar.Jar
	tracked map[string]cookieRef
}

// NewCookieJar creates an empty jar
func NewCookieJar() (*CookieJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &CookieJar{jar: jar, tracked: make(map[string]cookieRef)}, nil
}

// SetCookies implements http.CookieJar
func (j *CookieJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.jar.SetCookies(u, cookies)
	for _, c := range cookies {
		ref := cookieRef{u: u, name: c.Name, path: c.Path, domain: c.Domain}
		id := u.Host + ";" + c.Domain + ";" + c.Path + ";" + c.Name
		if c.MaxAge < 0 {
			delete(j.tracked, id)
			continue
		}
		j.tracked[id] = ref
	}
}

// Cookies implements http.CookieJar
func (j *CookieJar) Cookies(u *url.URL) []*http.Cookie {
	return j.jar.Cookies(u)
}

// ClearNamespace expires every tracked cookie whose name starts with prefix and
// returns how many were cleared
func (j *CookieJar) ClearNamespace(prefix string) int {
	j.mu.Lock()
	defer j.mu.Unlock()

	cleared := 0
	for id, ref := range j.tracked {
		if !strings.HasPrefix(ref.name, prefix) {
			continue
		}
		j.jar.SetCookies(ref.u, []*http.Cookie{{
			Name:   ref.name,
			Path:   ref.path,
			Domain: ref.domain,
			MaxAge: -1,
		}})
		delete(j.tracked, id)
		cleared++
	}
	return cleared
}

// Len returns the number of tracked cookies
func (j *CookieJar) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.tracked)
}

var _ http.CookieJar = (*CookieJar)(nil)
