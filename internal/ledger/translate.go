package ledger

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ledger-local transfer ids are 36-character identifiers (UUIDs); native ids
// prefix them with scheme/host/path.
const transferIDLength = 36

// Translator converts between the ledger-agnostic and the native transfer
// representations for one account on one ledger.
type Translator struct {
	Prefix              string
	Ledger              string
	OwnAccount          string
	Account             AccountTemplate
	Transfer            string
	TransferFulfillment string
}

// TransferURI expands the transfer URL template for a ledger-local id.
func (t *Translator) TransferURI(id string) string {
	return strings.Replace(t.Transfer, ":id", id, 1)
}

// FulfillmentURI expands the fulfillment URL template for a ledger-local id.
func (t *Translator) FulfillmentURI(id string) string {
	return strings.Replace(t.TransferFulfillment, ":id", id, 1)
}

// LocalName extracts the ledger-native account name from an agnostic
// address. Only the segment immediately after the prefix counts; anything
// past the first additional "." is sub-ledgering and is ignored.
func (t *Translator) LocalName(address string) (string, error) {
	if !strings.HasPrefix(address, t.Prefix) {
		return "", &InvalidFieldsError{
			Message: fmt.Sprintf("destination address %q must start with ledger prefix %q", address, t.Prefix),
		}
	}
	return strings.SplitN(strings.TrimPrefix(address, t.Prefix), ".", 2)[0], nil
}

// ToNative builds the native transfer for submission: a single authorized
// debit against this account and a single credit to the counterparty.
// Absent optional fields are omitted, never emitted as null.
func (t *Translator) ToNative(transfer *Transfer) (*NativeTransfer, error) {
	if _, err := decimal.NewFromString(transfer.Amount); err != nil {
		return nil, &InvalidFieldsError{Message: fmt.Sprintf("invalid amount %q", transfer.Amount)}
	}
	name, err := t.LocalName(transfer.Account)
	if err != nil {
		return nil, err
	}

	native := &NativeTransfer{
		ID:     t.TransferURI(transfer.ID),
		Ledger: t.Ledger,
		Debits: []Funds{{
			Account:    t.OwnAccount,
			Amount:     transfer.Amount,
			Authorized: true,
			Memo:       transfer.NoteToSelf,
		}},
		Credits: []Funds{{
			Account: t.Account.URI(name),
			Amount:  transfer.Amount,
			Memo:    transfer.Data,
		}},
		ExecutionCondition:    transfer.ExecutionCondition,
		CancellationCondition: transfer.CancellationCondition,
		ExpiresAt:             transfer.ExpiresAt,
	}
	if len(transfer.Cases) > 0 {
		native.AdditionalInfo = &AdditionalInfo{Cases: transfer.Cases}
	}
	return native, nil
}

// FromNative translates a native transfer into the agnostic representation
// for one matched credit or debit entry. direction is DirectionIncoming when
// matched is a credit of this account, DirectionOutgoing when it is a debit.
func (t *Translator) FromNative(native *NativeTransfer, direction string, matched Funds) (*Transfer, error) {
	var counterpartyURI string
	var data, noteToSelf json.RawMessage

	switch direction {
	case DirectionIncoming:
		if len(native.Debits) == 0 {
			return nil, fmt.Errorf("native transfer %s has no debits", native.ID)
		}
		counterpartyURI = native.Debits[0].Account
		data = matched.Memo
	case DirectionOutgoing:
		if len(native.Credits) == 0 {
			return nil, fmt.Errorf("native transfer %s has no credits", native.ID)
		}
		credit := native.Credits[0]
		counterpartyURI = credit.Account
		data = credit.Memo
		noteToSelf = matched.Memo
	default:
		return nil, fmt.Errorf("unknown transfer direction %q", direction)
	}

	name, ok := t.Account.Name(counterpartyURI)
	if !ok {
		return nil, fmt.Errorf("cannot map account URI %q with template %q", counterpartyURI, t.Account)
	}

	transfer := &Transfer{
		ID:                    localTransferID(native.ID),
		Direction:             direction,
		Account:               t.Prefix + name,
		Ledger:                t.Prefix,
		Amount:                matched.Amount,
		Data:                  data,
		NoteToSelf:            noteToSelf,
		ExecutionCondition:    native.ExecutionCondition,
		CancellationCondition: native.CancellationCondition,
		ExpiresAt:             native.ExpiresAt,
	}
	if native.AdditionalInfo != nil {
		transfer.Cases = native.AdditionalInfo.Cases
	}
	return transfer, nil
}

// localTransferID strips a native transfer id down to the ledger-local
// identifier, its last 36 characters.
func localTransferID(nativeID string) string {
	if len(nativeID) <= transferIDLength {
		return nativeID
	}
	return nativeID[len(nativeID)-transferIDLength:]
}
