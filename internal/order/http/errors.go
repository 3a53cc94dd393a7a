package http

import "github.com/timour/order-microservices/internal/platform/apperr"

var (
	errUnauthenticated = apperr.New(apperr.AuthN, "missing authenticated principal")
	errMalformedBody   = apperr.New(apperr.Validation, "malformed request body")
	errBadPagination   = apperr.New(apperr.Validation, "invalid pagination parameters")
)
