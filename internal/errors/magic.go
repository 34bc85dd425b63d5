// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package errors

import "fmt"

// MagicError carries the two orthogonal error channels every MAGIC Diameter
// answer reports: the protocol-layer Result-Code (AVP 268) and the
// business-layer MAGIC-Status-Code (AVP 10053). See spec §7.
type MagicError struct {
	// Base holds the Kind and message. It is a named field because an
	// embedded *Error would clash with the Error method below.
	Base       *Error
	ResultCode uint32
	StatusCode uint32
	FailedAVP  string
}

// Error implements the error interface.
func (e *MagicError) Error() string {
	if e.FailedAVP != "" {
		return fmt.Sprintf("%s (result=%d status=%d avp=%s)", e.Base.Message, e.ResultCode, e.StatusCode, e.FailedAVP)
	}
	return fmt.Sprintf("%s (result=%d status=%d)", e.Base.Message, e.ResultCode, e.StatusCode)
}

func (e *MagicError) Unwrap() error {
	return e.Base.Unwrap()
}

// Magic creates a MagicError carrying both status channels.
func Magic(kind Kind, resultCode, statusCode uint32, msg string) *MagicError {
	return &MagicError{
		Base:       &Error{Kind: kind, Message: msg},
		ResultCode: resultCode,
		StatusCode: statusCode,
	}
}

// MagicAVP is Magic plus the offending AVP name, for Failed-AVP answers.
func MagicAVP(kind Kind, resultCode, statusCode uint32, avp, msg string) *MagicError {
	e := Magic(kind, resultCode, statusCode, msg)
	e.FailedAVP = avp
	return e
}

// AsMagic extracts a *MagicError from the chain, if any.
func AsMagic(err error) (*MagicError, bool) {
	var m *MagicError
	if As(err, &m) {
		return m, true
	}
	return nil, false
}
