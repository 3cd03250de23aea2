package domain

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// Kind classifies an error independently of the transport that reports it.
type Kind uint8

const (
	Other         Kind = iota // Unclassified error
	InvalidAmount             // Amount is zero or negative
	InvalidMethod             // Operation not valid for the payment method
	InvalidState              // Transition guard failed
	NotFound                  // No such payment
	GatewayError              // Transport error or timeout talking to the gateway
	RefundFailed              // Gateway declined the refund
	Conflict                  // Someone else changed the record first
	Internal                  // Storage or other internal failure
	Invalid                   // Malformed input other than the amount
)

func (k Kind) String() string {
	switch k {
	case Other:
		return "unclassified error"
	case InvalidAmount:
		return "invalid amount"
	case InvalidMethod:
		return "invalid method"
	case InvalidState:
		return "invalid state"
	case NotFound:
		return "not found"
	case GatewayError:
		return "gateway error"
	case RefundFailed:
		return "refund failed"
	case Conflict:
		return "conflict"
	case Internal:
		return "internal error"
	case Invalid:
		return "invalid input"
	default:
		return "unknown error kind"
	}
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// Op names the operation that failed, e.g. "payment.refund".
type Op string

// Error is the engine's error type. Status is the payment's status at the time of failure.
type Error struct {
	Op        Op
	Kind      Kind
	PaymentID uuid.UUID
	Status    PaymentStatus
	Message   string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(string(e.Op))
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.PaymentID != uuid.Nil {
		b.WriteString(" (payment=")
		b.WriteString(e.PaymentID.String())
		if e.Status != "" {
			b.WriteString(", status=")
			b.WriteString(string(e.Status))
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds an *Error from its arguments by type: Op, Kind, uuid.UUID (payment id),
// PaymentStatus, string (message) and error (cause).
func E(args ...interface{}) error {
	e := &Error{}
	for _, arg := range args {
		switch arg := arg.(type) {
		case Op:
			e.Op = arg
		case Kind:
			e.Kind = arg
		case uuid.UUID:
			e.PaymentID = arg
		case PaymentStatus:
			e.Status = arg
		case string:
			e.Message = arg
		case error:
			e.Err = arg
		}
	}
	return e
}

// KindOf returns the Kind of the first *Error in err's chain, or Other.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Other
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
