package route

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// Locale is a UI language prefix. Every page path starts with one: /en/..., /ar/...
type Locale string

const (
	LocaleEN Locale = "en"
	LocaleAR Locale = "ar"

	DefaultLocale = LocaleEN
)

// Entry points the session core navigates to. They are locale-relative.
const (
	Login     = "/login"
	Dashboard = "/dashboard"
)

const headerLocale = "X-Locale"

func ParseLocale(v string) (Locale, bool) {
	switch Locale(strings.ToLower(strings.TrimSpace(v))) {
	case LocaleEN:
		return LocaleEN, true
	case LocaleAR:
		return LocaleAR, true
	default:
		return "", false
	}
}

func (l Locale) Valid() bool {
	_, ok := ParseLocale(string(l))
	return ok
}

// Dir returns the text direction used by the layout for this locale.
func (l Locale) Dir() string {
	if l == LocaleAR {
		return "rtl"
	}
	return "ltr"
}

// Path builds a locale-prefixed path: Path("ar", "/login") == "/ar/login".
func Path(l Locale, r string) string {
	if parsed, ok := ParseLocale(string(l)); ok {
		l = parsed
	} else {
		l = DefaultLocale
	}
	if r == "" || r[0] != '/' {
		r = "/" + r
	}
	return "/" + string(l) + r
}

// LocaleFromPath reads the locale prefix of p, falling back to DefaultLocale.
func LocaleFromPath(p string) Locale {
	seg := strings.TrimPrefix(p, "/")
	if i := strings.IndexByte(seg, '/'); i >= 0 {
		seg = seg[:i]
	}
	if l, ok := ParseLocale(seg); ok {
		return l
	}
	return DefaultLocale
}

// FromRequest resolves the caller's current locale. Order: ?locale=, X-Locale,
// the Referer page prefix, then the primary Accept-Language tag.
func FromRequest(r *http.Request, def Locale) Locale {
	if l, ok := ParseLocale(r.URL.Query().Get("locale")); ok {
		return l
	}
	if l, ok := ParseLocale(r.Header.Get(headerLocale)); ok {
		return l
	}
	if ref := r.Referer(); ref != "" {
		if u, err := url.Parse(ref); err == nil {
			seg := strings.TrimPrefix(u.Path, "/")
			if i := strings.IndexByte(seg, '/'); i >= 0 {
				seg = seg[:i]
			}
			if l, ok := ParseLocale(seg); ok {
				return l
			}
		}
	}
	if al := r.Header.Get("Accept-Language"); al != "" {
		tag := strings.SplitN(al, ",", 2)[0]
		tag = strings.SplitN(tag, ";", 2)[0]
		tag = strings.SplitN(tag, "-", 2)[0]
		if l, ok := ParseLocale(tag); ok {
			return l
		}
	}
	if _, ok := ParseLocale(string(def)); ok {
		return def
	}
	return DefaultLocale
}

// Navigator performs a client navigation to an absolute, locale-prefixed path.
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(path string)

func (f NavigatorFunc) Navigate(path string) { f(path) }

// Recorder is a Navigator that remembers every navigation. HTTP handlers use it
// to turn a navigation side effect into a redirect on the response.
type Recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *Recorder) Navigate(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

// Last returns the most recent navigation target.
func (r *Recorder) Last() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.paths) == 0 {
		return "", false
	}
	return r.paths[len(r.paths)-1], true
}

func (r *Recorder) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.paths))
	copy(out, r.paths)
	return out
}
