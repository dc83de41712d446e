// Package httputil provides JSON response helpers shared by all HTTP
// handlers: a standard error envelope, status-code conveniences, and safe
// request-body decoding.
package httputil
