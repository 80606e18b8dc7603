package navigation

import (
	"net/url"
)

// WithParam returns raw with key=value set, keeping every other parameter
func WithParam(raw, key, value string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// WithoutParam returns u with key removed, keeping every other parameter
func WithoutParam(u *url.URL, key string) *url.URL {
	out := *u
	q := out.Query()
	q.Del(key)
	out.RawQuery = q.Encode()
	return &out
}

// HasParam reports whether u carries key=value
func HasParam(u *url.URL, key, value string) bool {
	if u == nil {
		return false
	}
	return u.Query().Get(key) == value
}

// Origin returns scheme://host of u
func Origin(u *url.URL) string {
	return (&url.URL{Scheme: u.Scheme, Host: u.Host}).String()
}
