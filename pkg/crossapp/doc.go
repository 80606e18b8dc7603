// Package crossapp propagates login and logout between app instances on
// different origins.
//
// Each origin keeps its own credential storage, so the only channel between
// apps is the URL. A leaf app with no cached account tries a silent sign-in
// against the provider session. Any app that learns the provider session is
// gone clears its storage and sends the user to the hub with a logout signal
// (logout=true). The hub consumes that signal once, strips it from the
// address bar and reloads.
//
// Whether an instance behaves as the hub or a leaf is configuration, not type.
package crossapp
