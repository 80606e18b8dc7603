// Package httputil provides HTTP handler utilities for consistent error
// responses, request ids, logging and panic recovery.
//
// # Responses
//
//	httputil.WriteSuccess(w, state)
//	httputil.WriteUnauthorized(w, "session ended", hubURL+"?logout=true")
//	httputil.WriteServiceUnavailable(w, "identity provider unreachable")
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//	)(router)
package httputil
