// Package webapp hosts one hub or leaf app over HTTP.
//
// Every request is a page load: it gets its own session.Machine, redirect
// coordinator and navigator, mounts, runs the route's operation and renders
// at most one navigation. Page routes render a navigation as a 302; API
// routes render it as a 401 whose body names the redirect target.
//
// Credentials are kept per browser, identified by a uuid cookie, in Redis
// under ssosync:{origin}:{browser}:{tier} or in process memory.
package webapp
