// Package httputil holds the JSON request and response helpers and the
// generic middleware shared by sitework's HTTP handlers.
//
// Every error reply has the same shape:
//
//	{"code": "forbidden", "error": "Your role cannot edit costs."}
//
// Middleware composes with Chain, outermost first:
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.RecoveryMiddleware,
//		httputil.LoggingMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
package httputil
