package storage

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"time"

	"golang.org/x/net/publicsuffix"
)

// CookieJar is a CookieStore over an http.CookieJar for a single origin
type CookieJar struct {
	jar    http.CookieJar
	origin *url.URL
}

// NewCookieJar creates an empty jar for origin
func NewCookieJar(origin string) (*CookieJar, error) {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: bad cookie origin %q", ErrInvalidConfig, origin)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	return &CookieJar{jar: jar, origin: u}, nil
}

// Jar exposes the underlying jar, e.g. for an http.Client
func (c *CookieJar) Jar() http.CookieJar {
	return c.jar
}

// SetCookie stores a cookie for the origin
func (c *CookieJar) SetCookie(cookie *http.Cookie) {
	c.jar.SetCookies(c.origin, []*http.Cookie{cookie})
}

func (c *CookieJar) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cookies := c.jar.Cookies(c.origin)
	names := make([]string, 0, len(cookies))
	for _, ck := range cookies {
		names = append(names, ck.Name)
	}
	sort.Strings(names)
	return names, nil
}

func (c *CookieJar) Expire(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.jar.SetCookies(c.origin, []*http.Cookie{{
		Name:    name,
		Path:    "/",
		MaxAge:  -1,
		Expires: time.Unix(0, 0),
	}})
	return nil
}
