/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package authdns

import "github.com/miekg/dns"

// QueryError is the single error kind the query engine surfaces
// (§7); it always maps directly to an RCODE, so there is no separate
// Go error type per failure mode.
type QueryError struct {
	Kind    ErrKind
	Message string
}

func (e *QueryError) Error() string { return e.Message }

// ErrKind enumerates the rows of the §7 error table.
type ErrKind uint8

const (
	ErrNone ErrKind = iota
	ErrFormat
	ErrRefused
	ErrServfail
	ErrNotimp
	ErrNxdomain
	ErrNodata
	ErrNotauth
)

// Rcode maps an ErrKind to the RCODE placed in the response header.
// NODATA is not a distinct RCODE (it is NOERROR with an empty Answer
// section, per §7), so it maps to RcodeSuccess like the non-error case.
func (k ErrKind) Rcode() int {
	switch k {
	case ErrFormat:
		return dns.RcodeFormatError
	case ErrRefused:
		return dns.RcodeRefused
	case ErrServfail:
		return dns.RcodeServerFailure
	case ErrNotimp:
		return dns.RcodeNotImplemented
	case ErrNxdomain:
		return dns.RcodeNameError
	case ErrNotauth:
		return dns.RcodeNotAuth
	default:
		return dns.RcodeSuccess
	}
}

func newErr(kind ErrKind, msg string) *QueryError {
	return &QueryError{Kind: kind, Message: msg}
}
