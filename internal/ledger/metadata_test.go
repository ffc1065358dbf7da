package ledger_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/interledgerx/plugin-bells/internal/ledger"
	"github.com/interledgerx/plugin-bells/internal/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func ledgerURLs(host string) map[string]string {
	return map[string]string{
		"account":              host + "/accounts/:name",
		"transfer":             host + "/transfers/:id",
		"transfer_fulfillment": host + "/transfers/:id/fulfillment",
		"transfer_rejection":   host + "/transfers/:id/rejection",
		"websocket":            "ws" + host[len("http"):] + "/websocket",
	}
}

func serveMetadata(t *testing.T, mutate func(host string, body map[string]any)) *httptest.Server {
	t.Helper()
	router := chi.NewRouter()
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{
			"precision":     10,
			"scale":         2,
			"currency_code": "USD",
			"ilp_prefix":    "example.red.",
			"urls":          ledgerURLs(server.URL),
		}
		if mutate != nil {
			mutate(server.URL, body)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	})
	return server
}

func newResolver(t *testing.T) *ledger.Resolver {
	t.Helper()
	client, err := request.New(request.Options{}, zap.NewNop().Sugar())
	require.NoError(t, err)
	return ledger.NewResolver(client, zap.NewNop().Sugar())
}

func TestFetchMetadata(t *testing.T) {
	server := serveMetadata(t, nil)
	resolver := newResolver(t)

	meta, err := resolver.FetchMetadata(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, 10, meta.Precision)
	assert.Equal(t, 2, meta.Scale)
	assert.Equal(t, "USD", meta.CurrencyCode)
	assert.Equal(t, "example.red.", meta.ILPPrefix)
	assert.Equal(t, server.URL+"/accounts/:name", meta.URLs["account"])
	assert.Equal(t, "ws"+server.URL[len("http"):]+"/websocket", meta.URLs["websocket"])
}

func TestFetchMetadataDropsUnknownURLs(t *testing.T) {
	server := serveMetadata(t, func(host string, body map[string]any) {
		urls := body["urls"].(map[string]string)
		urls["health"] = host + "/health"
	})
	resolver := newResolver(t)

	meta, err := resolver.FetchMetadata(context.Background(), server.URL)
	require.NoError(t, err)
	assert.NotContains(t, meta.URLs, "health")
}

func TestFetchMetadataRequiresPrecision(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(host string, body map[string]any)
	}{
		{"missing precision", func(_ string, body map[string]any) { delete(body, "precision") }},
		{"missing scale", func(_ string, body map[string]any) { delete(body, "scale") }},
		{"zero precision", func(_ string, body map[string]any) { body["precision"] = 0 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			server := serveMetadata(t, tc.mutate)
			resolver := newResolver(t)

			_, err := resolver.FetchMetadata(context.Background(), server.URL)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "unable to determine ledger precision")
		})
	}
}

func TestFetchMetadataRequiresEveryURL(t *testing.T) {
	for _, key := range []string{"account", "transfer", "transfer_fulfillment", "transfer_rejection", "websocket"} {
		t.Run(key, func(t *testing.T) {
			server := serveMetadata(t, func(_ string, body map[string]any) {
				delete(body["urls"].(map[string]string), key)
			})
			resolver := newResolver(t)

			_, err := resolver.FetchMetadata(context.Background(), server.URL)
			require.Error(t, err)
			assert.EqualError(t, err, "ledger metadata does not include "+key+" url")
		})
	}
}

func TestFetchMetadataRejectsRelativeURLs(t *testing.T) {
	server := serveMetadata(t, func(_ string, body map[string]any) {
		body["urls"].(map[string]string)["transfer"] = "/transfers/:id"
	})
	resolver := newResolver(t)

	_, err := resolver.FetchMetadata(context.Background(), server.URL)
	require.Error(t, err)
	assert.EqualError(t, err, "ledger metadata transfer url must be a full http(s) url")
}

func TestFetchMetadataRejectsHTTPWebsocketURL(t *testing.T) {
	server := serveMetadata(t, func(host string, body map[string]any) {
		body["urls"].(map[string]string)["websocket"] = host + "/websocket"
	})
	resolver := newResolver(t)

	_, err := resolver.FetchMetadata(context.Background(), server.URL)
	require.Error(t, err)
	assert.EqualError(t, err, "ledger metadata websocket url must be a full ws(s) url")
}

func TestFetchMetadataServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()
	resolver := newResolver(t)

	_, err := resolver.FetchMetadata(context.Background(), server.URL)
	require.Error(t, err)

	var external *ledger.ExternalError
	require.ErrorAs(t, err, &external)
	assert.Equal(t, http.StatusInternalServerError, external.Status)
	assert.Contains(t, err.Error(), "unable to determine ledger precision")
}

func TestResolveAccount(t *testing.T) {
	router := chi.NewRouter()
	server := httptest.NewServer(router)
	defer server.Close()

	router.Get("/accounts/mike", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"ledger": server.URL,
			"name":   "mike",
		})
	})

	resolver := newResolver(t)
	info, err := resolver.ResolveAccount(context.Background(), server.URL+"/accounts/mike")
	require.NoError(t, err)
	assert.Equal(t, server.URL, info.Ledger)
	assert.Equal(t, "mike", info.Name)
}

func TestResolveAccountMissingLedger(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"name": "mike"})
	}))
	defer server.Close()

	resolver := newResolver(t)
	_, err := resolver.ResolveAccount(context.Background(), server.URL+"/accounts/mike")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to resolve ledger URI from account URI")
}

func TestResolveAccountNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	resolver := newResolver(t)
	_, err := resolver.ResolveAccount(context.Background(), server.URL+"/accounts/nobody")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}
