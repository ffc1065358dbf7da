package ledger

import "encoding/json"

// ConnectionState tracks the plugin's single logical connection.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Credentials identify this plugin's account on the ledger. Username may be
// filled in from the resolved account name; everything else is immutable
// after construction.
type Credentials struct {
	Account  string
	Username string
	Password string
	Cert     []byte
	Key      []byte
	CA       []byte
}

// Known keys of the ledger metadata URL map.
const (
	URLAccount             = "account"
	URLTransfer            = "transfer"
	URLTransferFulfillment = "transfer_fulfillment"
	URLTransferRejection   = "transfer_rejection"
	URLWebsocket           = "websocket"
	URLAuthToken           = "auth_token"
	URLConnectors          = "connectors"
)

// Metadata is the validated ledger root resource.
type Metadata struct {
	Precision      int
	Scale          int
	CurrencyCode   string
	CurrencySymbol string
	ILPPrefix      string
	URLs           map[string]string
}

// Info is the subset of metadata exposed through GetInfo.
type Info struct {
	Precision      int    `json:"precision"`
	Scale          int    `json:"scale"`
	CurrencyCode   string `json:"currencyCode"`
	CurrencySymbol string `json:"currencySymbol"`
}

// AccountInfo is the ledger's account resource.
type AccountInfo struct {
	Ledger    string `json:"ledger"`
	Name      string `json:"name"`
	Connector string `json:"connector,omitempty"`
	Balance   string `json:"balance,omitempty"`
}

// Transfer directions.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// Native transfer lifecycle states.
const (
	TransferPrepared = "prepared"
	TransferExecuted = "executed"
	TransferRejected = "rejected"
)

// Transfer is the ledger-agnostic transfer representation used by the
// surrounding connector. Amounts are decimal strings; absent fields are
// omitted on the wire, never null.
type Transfer struct {
	ID                    string          `json:"id"`
	Direction             string          `json:"direction,omitempty"`
	Account               string          `json:"account"`
	Ledger                string          `json:"ledger"`
	Amount                string          `json:"amount"`
	Data                  json.RawMessage `json:"data,omitempty"`
	NoteToSelf            json.RawMessage `json:"noteToSelf,omitempty"`
	ExecutionCondition    string          `json:"executionCondition,omitempty"`
	CancellationCondition string          `json:"cancellationCondition,omitempty"`
	ExpiresAt             string          `json:"expiresAt,omitempty"`
	Cases                 []string        `json:"cases,omitempty"`
}

// Funds is one credit or debit entry of a native transfer.
type Funds struct {
	Account    string          `json:"account"`
	Amount     string          `json:"amount"`
	Authorized bool            `json:"authorized,omitempty"`
	Memo       json.RawMessage `json:"memo,omitempty"`
}

// AdditionalInfo carries the atomic-mode case list on a native transfer.
type AdditionalInfo struct {
	Cases []string `json:"cases,omitempty"`
}

// NativeTransfer is the ledger's own transfer representation.
type NativeTransfer struct {
	ID                    string          `json:"id"`
	Ledger                string          `json:"ledger"`
	Debits                []Funds         `json:"debits"`
	Credits               []Funds         `json:"credits"`
	State                 string          `json:"state,omitempty"`
	ExecutionCondition    string          `json:"execution_condition,omitempty"`
	CancellationCondition string          `json:"cancellation_condition,omitempty"`
	ExpiresAt             string          `json:"expires_at,omitempty"`
	AdditionalInfo        *AdditionalInfo `json:"additional_info,omitempty"`
}

// RelatedResources accompany a transfer notification.
type RelatedResources struct {
	ExecutionConditionFulfillment    string `json:"execution_condition_fulfillment,omitempty"`
	CancellationConditionFulfillment string `json:"cancellation_condition_fulfillment,omitempty"`
}

// Notification is one websocket transfer-update frame.
type Notification struct {
	Resource         *NativeTransfer   `json:"resource"`
	RelatedResources *RelatedResources `json:"related_resources,omitempty"`
}

// Message is the ledger-agnostic out-of-band message submitted by the
// connector.
type Message struct {
	Ledger  string          `json:"ledger"`
	Account string          `json:"account"`
	Data    json.RawMessage `json:"data"`
}

// NativeMessage is the message shape the ledger's notification schema
// expects as send_message params.
type NativeMessage struct {
	Ledger string          `json:"ledger"`
	From   string          `json:"from"`
	To     string          `json:"to"`
	Data   json.RawMessage `json:"data"`
}
