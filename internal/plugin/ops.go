package plugin

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/interledgerx/plugin-bells/internal/ledger"
	"github.com/shopspring/decimal"
)

// GetInfo fetches the ledger's precision, scale, and currency.
func (p *Plugin) GetInfo(ctx context.Context) (*ledger.Info, error) {
	host := p.Host()
	if host == "" {
		return nil, fmt.Errorf("must be connected before getInfo can be called: %w", ledger.ErrNotConnected)
	}
	meta, err := p.resolver.FetchMetadata(ctx, host)
	if err != nil {
		return nil, err
	}
	return &ledger.Info{
		Precision:      meta.Precision,
		Scale:          meta.Scale,
		CurrencyCode:   meta.CurrencyCode,
		CurrencySymbol: meta.CurrencySymbol,
	}, nil
}

// GetPrefix reports the ILP prefix for this ledger.
func (p *Plugin) GetPrefix() (string, error) {
	prefix := p.prefixSnapshot()
	if prefix == "" {
		return "", ledger.ErrPrefixUnset
	}
	return prefix, nil
}

// GetAccount reports this plugin's ILP address.
func (p *Plugin) GetAccount() (string, error) {
	p.mu.Lock()
	connected := p.state == ledger.StateConnected
	prefix := p.prefix
	username := p.creds.Username
	p.mu.Unlock()

	if !connected {
		return "", fmt.Errorf("must be connected before getAccount can be called: %w", ledger.ErrNotConnected)
	}
	return prefix + username, nil
}

// GetBalance reads the account balance as a decimal string.
func (p *Plugin) GetBalance(ctx context.Context) (string, error) {
	var info ledger.AccountInfo
	if _, err := p.http.JSON(ctx, http.MethodGet, p.creds.Account, nil, &info); err != nil {
		return "", &ledger.ExternalError{Message: "unable to determine current balance", Cause: err}
	}
	balance, err := decimal.NewFromString(info.Balance)
	if err != nil {
		return "", &ledger.ExternalError{Message: "unable to determine current balance", Cause: err}
	}
	return balance.String(), nil
}

// GetConnectors lists the connector addresses registered on the ledger.
func (p *Plugin) GetConnectors(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	host := p.host
	meta := p.meta
	p.mu.Unlock()

	if host == "" {
		return nil, fmt.Errorf("must be connected before getConnectors can be called: %w", ledger.ErrNotConnected)
	}
	connectorsURL := host + "/connectors"
	if meta != nil && meta.URLs[ledger.URLConnectors] != "" {
		connectorsURL = meta.URLs[ledger.URLConnectors]
	}

	var entries []struct {
		Connector string `json:"connector"`
	}
	failureMessage := "unable to get connectors for ledger " + host
	if err := p.http.GetRetry(ctx, connectorsURL, failureMessage, &entries); err != nil {
		return nil, err
	}

	connectors := make([]string, 0, len(entries))
	for _, entry := range entries {
		connectors = append(connectors, entry.Connector)
	}
	return connectors, nil
}

// Send submits a transfer. In atomic mode every case is registered as a
// notification target first; any failure there aborts the submission.
func (p *Plugin) Send(ctx context.Context, transfer *ledger.Transfer) error {
	_, translator, _ := p.sessionSnapshot()
	if translator == nil {
		return ledger.ErrNotConnected
	}

	if transfer.ID == "" {
		transfer.ID = uuid.NewString()
	}
	native, err := translator.ToNative(transfer)
	if err != nil {
		return err
	}

	for _, caseURI := range transfer.Cases {
		p.logger.Debugw("adding case notification target", "case", caseURI)
		targets := []string{native.ID + "/fulfillment"}
		status, err := p.http.JSON(ctx, http.MethodPost, caseURI+"/targets", targets, nil)
		if err != nil {
			return fmt.Errorf("register case target %s: %w", caseURI, err)
		}
		if status != http.StatusOK {
			return fmt.Errorf("register case target %s: unexpected status code %d", caseURI, status)
		}
	}

	p.logger.Debugw("submitting transfer", "id", native.ID)
	if _, err := p.http.JSON(ctx, http.MethodPut, native.ID, native, nil); err != nil {
		return fmt.Errorf("submit transfer %s: %w", transfer.ID, err)
	}
	return nil
}

// FulfillCondition submits the fulfillment for a prepared transfer.
func (p *Plugin) FulfillCondition(ctx context.Context, transferID, fulfillment string) error {
	_, translator, _ := p.sessionSnapshot()
	if translator == nil {
		return ledger.ErrNotConnected
	}

	status, body, err := p.http.Text(ctx, http.MethodPut, translator.FulfillmentURI(transferID), fulfillment)
	if err != nil {
		return fmt.Errorf("failed to submit fulfillment for transfer %s: %w", transferID, err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return fmt.Errorf("failed to submit fulfillment for transfer %s: status=%d body=%s", transferID, status, body)
	}
	return nil
}

// SendMessage validates an out-of-band message and submits it over the RPC
// channel. Validation failures are local and synchronous; no frame is sent.
func (p *Plugin) SendMessage(ctx context.Context, message *ledger.Message) error {
	sess, translator, prefix := p.sessionSnapshot()
	if translator == nil || sess == nil {
		return ledger.ErrNotConnected
	}

	if message.Account == "" {
		return &ledger.InvalidFieldsError{Message: "invalid account"}
	}
	if message.Ledger != prefix {
		return &ledger.InvalidFieldsError{Message: "invalid ledger"}
	}
	if len(message.Data) == 0 {
		return &ledger.InvalidFieldsError{Message: "invalid data"}
	}
	destination, err := translator.LocalName(message.Account)
	if err != nil {
		return err
	}

	p.mu.Lock()
	username := p.creds.Username
	host := p.host
	p.mu.Unlock()

	params := ledger.NativeMessage{
		Ledger: host,
		From:   translator.Account.URI(username),
		To:     translator.Account.URI(destination),
		Data:   message.Data,
	}
	if _, err := sess.rpc.Call(ctx, "send_message", params); err != nil {
		return err
	}
	return nil
}
