// Package httputil holds the JSON response helpers, request parsing and
// middleware shared by the indexer's HTTP API.
//
//	httputil.WriteJSON(w, http.StatusOK, status)
//	httputil.WriteBadRequest(w, "invalid job id")
//
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//	)(router)
package httputil
