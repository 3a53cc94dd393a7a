package http

import "github.com/timour/order-microservices/internal/platform/apperr"

var (
	errUnauthenticated = apperr.New(apperr.AuthN, "missing authenticated principal")
	errBadPagination   = apperr.New(apperr.Validation, "invalid limit/offset")
)
