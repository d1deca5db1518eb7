// Package erp implements the ERP Client port against Business Central's
// OData-style web services.
package erp

import (
	"errors"
	"net/http"

	"github.com/emagero/second-check/internal/domain"
)

// classifyStatus maps an HTTP response status to an ERPKind.
func classifyStatus(op string, status int, body string) error {
	switch {
	case status == http.StatusNotFound:
		return &domain.ERPError{Kind: domain.ERPNotFound, Op: op, Err: errors.New(body)}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &domain.ERPError{Kind: domain.ERPAuth, Op: op, Err: errors.New(body)}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return &domain.ERPError{Kind: domain.ERPTimeout, Op: op, Err: errors.New(body)}
	case status >= 500:
		return &domain.ERPError{Kind: domain.ERPTransport, Op: op, Err: errors.New(body)}
	default:
		return &domain.ERPError{Kind: domain.ERPTransport, Op: op, Err: errors.New(body)}
	}
}

func wrapTransport(op string, err error) error {
	return &domain.ERPError{Kind: domain.ERPTransport, Op: op, Err: err}
}

func wrapParse(op string, err error) error {
	return &domain.ERPError{Kind: domain.ERPParse, Op: op, Err: err}
}
