package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"
)

// Doer is the HTTP surface the resolver needs. *request.Client implements it.
type Doer interface {
	// JSON performs a one-shot JSON request. Non-2xx responses surface as
	// *ExternalError with status and body attached.
	JSON(ctx context.Context, method, url string, body, out any) (int, error)
	// GetRetry performs a GET with exponential backoff on transient failure.
	GetRetry(ctx context.Context, url, failureMessage string, out any) error
}

// Resolver resolves the account resource and the ledger root metadata.
type Resolver struct {
	client Doer
	logger *zap.SugaredLogger
}

func NewResolver(client Doer, logger *zap.SugaredLogger) *Resolver {
	return &Resolver{client: client, logger: logger}
}

// ResolveAccount fetches the account resource, retrying transient failures.
// The response must name the owning ledger.
func (r *Resolver) ResolveAccount(ctx context.Context, accountURI string) (*AccountInfo, error) {
	r.logger.Debugw("resolving account", "uri", accountURI)

	var info AccountInfo
	if err := r.client.GetRetry(ctx, accountURI, "failed to resolve ledger URI from account URI", &info); err != nil {
		return nil, err
	}
	if info.Ledger == "" {
		return nil, fmt.Errorf("failed to resolve ledger URI from account URI")
	}
	return &info, nil
}

// metadataKeys are the URL map entries the plugin keeps; anything else the
// ledger advertises is dropped.
var metadataKeys = []string{
	URLAccount,
	URLTransfer,
	URLTransferFulfillment,
	URLTransferRejection,
	URLWebsocket,
	URLAuthToken,
	URLConnectors,
}

// requiredURLs must be present in the metadata URL map. auth_token and
// connectors are optional but validated when present.
var requiredURLs = []string{
	URLAccount,
	URLTransfer,
	URLTransferFulfillment,
	URLTransferRejection,
	URLWebsocket,
}

type rawMetadata struct {
	Precision      json.Number       `json:"precision"`
	Scale          json.Number       `json:"scale"`
	CurrencyCode   string            `json:"currency_code"`
	CurrencySymbol string            `json:"currency_symbol"`
	ILPPrefix      string            `json:"ilp_prefix"`
	URLs           map[string]string `json:"urls"`
}

// FetchMetadata GETs the ledger root and validates it. Structural problems
// (missing precision/scale, bad URL map) fail with a descriptive error and
// are never retried.
func (r *Resolver) FetchMetadata(ctx context.Context, host string) (*Metadata, error) {
	r.logger.Debugw("fetching ledger metadata", "host", host)

	var raw rawMetadata
	status, err := r.client.JSON(ctx, http.MethodGet, host, nil, &raw)
	if err != nil || status != http.StatusOK {
		return nil, &ExternalError{Message: "unable to determine ledger precision", Status: status, Cause: err}
	}

	precision, perr := parseMetadataInt(raw.Precision)
	scale, serr := parseMetadataInt(raw.Scale)
	if perr != nil || serr != nil {
		return nil, &ExternalError{Message: "unable to determine ledger precision"}
	}

	urls, err := validateURLs(raw.URLs)
	if err != nil {
		return nil, err
	}

	return &Metadata{
		Precision:      precision,
		Scale:          scale,
		CurrencyCode:   raw.CurrencyCode,
		CurrencySymbol: raw.CurrencySymbol,
		ILPPrefix:      raw.ILPPrefix,
		URLs:           urls,
	}, nil
}

func parseMetadataInt(n json.Number) (int, error) {
	if n.String() == "" {
		return 0, fmt.Errorf("missing")
	}
	v, err := strconv.Atoi(n.String())
	if err != nil || v == 0 {
		return 0, fmt.Errorf("not a positive integer: %q", n.String())
	}
	return v, nil
}

func validateURLs(urls map[string]string) (map[string]string, error) {
	if urls == nil {
		return nil, &ExternalError{Message: "ledger metadata does not include a urls map"}
	}
	for _, key := range requiredURLs {
		if urls[key] == "" {
			return nil, &ExternalError{Message: fmt.Sprintf("ledger metadata does not include %s url", key)}
		}
	}

	kept := make(map[string]string, len(metadataKeys))
	for _, key := range metadataKeys {
		value, ok := urls[key]
		if !ok || value == "" {
			continue
		}
		if err := validateURLScheme(key, value); err != nil {
			return nil, err
		}
		kept[key] = value
	}
	return kept, nil
}

func validateURLScheme(key, value string) error {
	u, err := url.Parse(value)
	absolute := err == nil && u.Host != ""
	if key == URLWebsocket {
		if !absolute || (u.Scheme != "ws" && u.Scheme != "wss") {
			return &ExternalError{Message: fmt.Sprintf("ledger metadata %s url must be a full ws(s) url", key)}
		}
		return nil
	}
	if !absolute || (u.Scheme != "http" && u.Scheme != "https") {
		return &ExternalError{Message: fmt.Sprintf("ledger metadata %s url must be a full http(s) url", key)}
	}
	return nil
}
