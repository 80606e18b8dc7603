// Package session holds the per-instance authentication state machine.
//
// A Machine lives for one page load of one app. Mount runs the startup
// sequence in a fixed order:
//
//  1. finish any in-flight login redirect and apply its result
//  2. on the hub, consume a logout signal
//  3. validate a cached account against the provider session
//  4. on a leaf that is still signed out, try a silent sign-in
//
// Every other operation waits for step 1, so nothing observes the instance
// before a redirect result has been applied.
//
// When the provider reports that interaction is required the instance moves
// to Invalidated, which is terminal, and hands off to the crossapp
// Synchronizer to log every app out.
package session
