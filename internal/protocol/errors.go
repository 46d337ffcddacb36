package protocol

import "fmt"

// Frame-level error codes, sent in ERROR frames before a request name is known.
const (
	ErrProtoBadRequest   = "E_PROTO_BAD_REQUEST"
	ErrProtoUnauthorized = "E_PROTO_UNAUTHORIZED"
	ErrProtoVersion      = "E_PROTO_VERSION"
)

// Code is the integer response_code carried as the first positional
// parameter of every response. Zero is success.
type Code int

const (
	CodeOK Code = 0

	// Dispatcher layer.
	CodeUnknownMessage      Code = 10
	CodeArityMismatch       Code = 11
	CodeTypeMismatch        Code = 12
	CodeUnresolvedReference Code = 13
	CodeNotImplemented      Code = 14
	CodeBadRequest          Code = 15

	// Access.
	CodeAccessDenied   Code = 20
	CodeSecurityDenied Code = 21

	// Funds and targets.
	CodeInsufficientFunds Code = 30
	CodeMaxLevel          Code = 31
	CodeInvalidTarget     Code = 32

	// Rewards.
	CodeInvalidRedemptionCode Code = 40
	CodeAlreadyRedeemed       Code = 41
	CodeInvalidPin            Code = 42

	// Backend.
	CodeTransient Code = 50
	CodeInternal  Code = 51
)

var codeNames = map[Code]string{
	CodeOK:                    "OK",
	CodeUnknownMessage:        "E_UNKNOWN_MESSAGE",
	CodeArityMismatch:         "E_ARITY_MISMATCH",
	CodeTypeMismatch:          "E_TYPE_MISMATCH",
	CodeUnresolvedReference:   "E_UNRESOLVED_REFERENCE",
	CodeNotImplemented:        "E_NOT_IMPLEMENTED",
	CodeBadRequest:            "E_BAD_REQUEST",
	CodeAccessDenied:          "E_ACCESS_DENIED",
	CodeSecurityDenied:        "E_SECURITY_DENIED",
	CodeInsufficientFunds:     "E_INSUFFICIENT_FUNDS",
	CodeMaxLevel:              "E_MAX_LEVEL",
	CodeInvalidTarget:         "E_INVALID_TARGET",
	CodeInvalidRedemptionCode: "E_INVALID_REDEMPTION_CODE",
	CodeAlreadyRedeemed:       "E_ALREADY_REDEEMED",
	CodeInvalidPin:            "E_INVALID_PIN",
	CodeTransient:             "E_TRANSIENT",
	CodeInternal:              "E_INTERNAL",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("E_CODE_%d", int(c))
}

func IsKnownCode(c Code) bool {
	_, ok := codeNames[c]
	return ok
}

// Retryable reports whether a caller may safely resend the request.
func (c Code) Retryable() bool { return c == CodeTransient }
