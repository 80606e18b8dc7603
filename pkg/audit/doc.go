// Package audit records session lifecycle events for security review.
//
// # Event Types
//
//	session.login           an app instance became authenticated
//	session.logout          explicit user logout
//	session.invalidated     the provider session was found gone
//	session.cascade         a forced logout was propagated (navigation or reload)
//	session.signal_handled  the hub consumed a logout signal
//
// # Usage Example
//
//	logger, err := audit.NewFileLogger(audit.DefaultFileLoggerConfig())
//	...
//	_ = logger.Log(ctx, audit.NewEvent(audit.EventTypeSessionLogin, audit.EventStatusSuccess).
//		WithApp("orders", "leaf").
//		WithAccount(account.ID, account.Username))
//
// NewMultiLogger fans events out to several sinks, typically the FileLogger
// and a LogLogger on the process log, writing off the request path.
//
// Loggers never block the session core on failure; callers log and continue.
package audit
