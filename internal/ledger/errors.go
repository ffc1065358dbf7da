package ledger

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the connection and request paths.
var (
	// ErrAccountNotFound is returned when the ledger answers 404 for the
	// account resource during resolution. Unlike other non-2xx statuses it is
	// structural and must not be retried.
	ErrAccountNotFound = errors.New("account does not exist")

	// ErrConnectionLost rejects every RPC call still pending when the
	// websocket closes.
	ErrConnectionLost = errors.New("connection lost before response arrived")

	// ErrConnectTimeout is returned when the caller-imposed deadline expires
	// during the resolution phase of connect.
	ErrConnectTimeout = errors.New("unable to connect to account: timeout")

	ErrPrefixUnset  = errors.New("prefix has not been set")
	ErrNotConnected = errors.New("not connected")
)

// InvalidFieldsError reports a message or transfer that failed local
// validation, or an RPC rejection with code 40003. No network call was or
// will be made for the failing payload.
type InvalidFieldsError struct {
	Message string
}

func (e *InvalidFieldsError) Error() string { return e.Message }
func (e *InvalidFieldsError) Name() string  { return "InvalidFieldsError" }

// ExternalError reports a remote failure on a non-retried call. Status and
// Body carry whatever the ledger sent back; Status is zero when the request
// never produced a response.
type ExternalError struct {
	Message string
	Status  int
	Body    string
	Cause   error
}

func (e *ExternalError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status=%d", e.Message, e.Status)
	}
	return e.Message
}

func (e *ExternalError) Name() string  { return "ExternalError" }
func (e *ExternalError) Unwrap() error { return e.Cause }

// UnrelatedNotificationError marks a transfer notification that matches
// neither a credit nor a debit of this account. It is reported per message
// and never tears down the subscription.
type UnrelatedNotificationError struct {
	Message string
}

func (e *UnrelatedNotificationError) Error() string { return e.Message }
func (e *UnrelatedNotificationError) Name() string  { return "UnrelatedNotificationError" }

// NotAcceptedError corresponds to RPC error code 50000.
type NotAcceptedError struct {
	Message string
}

func (e *NotAcceptedError) Error() string { return e.Message }
func (e *NotAcceptedError) Name() string  { return "NotAcceptedError" }

// NoSubscriptionsError corresponds to RPC error code 42200.
type NoSubscriptionsError struct {
	Message string
}

func (e *NoSubscriptionsError) Error() string { return e.Message }
func (e *NoSubscriptionsError) Name() string  { return "NoSubscriptionsError" }

// RPCError carries any ledger RPC error code that has no dedicated type.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }
func (e *RPCError) Name() string  { return "RPCError" }

// MapRPCError translates a ledger RPC error code into a typed error.
func MapRPCError(code int, message string) error {
	switch code {
	case 40003:
		return &InvalidFieldsError{Message: message}
	case 42200:
		return &NoSubscriptionsError{Message: message}
	case 50000:
		return &NotAcceptedError{Message: message}
	default:
		return &RPCError{Code: code, Message: message}
	}
}

// ErrorName reports the taxonomy name of err, used in acknowledgment frames.
func ErrorName(err error) string {
	var named interface{ Name() string }
	if errors.As(err, &named) {
		return named.Name()
	}
	return "Error"
}
