// Package httpmw holds the request-scoped middleware of the admin listener:
// request IDs, a per-request logger and the access log.
//
// Request data that a client controls (query strings, user-agent, most
// headers) stays out of logs. The request ID header is accepted only when
// it is short and printable.
package httpmw
