package schema

import (
	"errors"
	"fmt"

	"github.com/itsthedevman/esm-arma/internal/protocol"
)

type ErrorKind int

const (
	UnknownMessage ErrorKind = iota + 1
	ArityMismatch
	TypeMismatch
	UnresolvedReference
)

func (k ErrorKind) String() string {
	switch k {
	case UnknownMessage:
		return "unknown message"
	case ArityMismatch:
		return "arity mismatch"
	case TypeMismatch:
		return "type mismatch"
	case UnresolvedReference:
		return "unresolved reference"
	default:
		return "schema error"
	}
}

// Code maps the kind onto its response code.
func (k ErrorKind) Code() protocol.Code {
	switch k {
	case UnknownMessage:
		return protocol.CodeUnknownMessage
	case ArityMismatch:
		return protocol.CodeArityMismatch
	case TypeMismatch:
		return protocol.CodeTypeMismatch
	case UnresolvedReference:
		return protocol.CodeUnresolvedReference
	default:
		return protocol.CodeInternal
	}
}

type Error struct {
	Kind    ErrorKind
	Message string
	Index   int // -1 when not tied to a position
	Param   string
	Want    string
	Got     string
}

func (e *Error) Error() string {
	switch {
	case e.Index >= 0 && e.Want != "":
		return fmt.Sprintf("%s: %s: param %d (%s) want %s got %s", e.Kind, e.Message, e.Index, e.Param, e.Want, e.Got)
	case e.Index >= 0:
		return fmt.Sprintf("%s: %s: param %d (%s) %q", e.Kind, e.Message, e.Index, e.Param, e.Got)
	case e.Want != "":
		return fmt.Sprintf("%s: %s: want %s params got %s", e.Kind, e.Message, e.Want, e.Got)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

// AsError extracts a schema error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
