package ledger_test

import (
	"testing"

	"github.com/interledgerx/plugin-bells/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountTemplateURI(t *testing.T) {
	template := ledger.AccountTemplate("http://red.example/accounts/:name")
	assert.Equal(t, "http://red.example/accounts/mike", template.URI("mike"))
}

func TestAccountTemplateURIEscapesName(t *testing.T) {
	template := ledger.AccountTemplate("http://red.example/accounts/:name")
	assert.Equal(t, "http://red.example/accounts/alice%20smith", template.URI("alice smith"))
}

func TestAccountTemplateName(t *testing.T) {
	template := ledger.AccountTemplate("http://red.example/accounts/:name")

	name, ok := template.Name("http://red.example/accounts/alice")
	require.True(t, ok)
	assert.Equal(t, "alice", name)
}

func TestAccountTemplateNameMidPath(t *testing.T) {
	// The placeholder does not have to be the last segment.
	template := ledger.AccountTemplate("http://red.example/ledger/:name/account")

	name, ok := template.Name("http://red.example/ledger/bob/account")
	require.True(t, ok)
	assert.Equal(t, "bob", name)
}

func TestAccountTemplateNameTooShort(t *testing.T) {
	template := ledger.AccountTemplate("http://red.example/ledger/accounts/:name")

	_, ok := template.Name("http://red.example/ledger")
	assert.False(t, ok)
}

func TestAccountTemplateNameWithoutPlaceholder(t *testing.T) {
	template := ledger.AccountTemplate("http://red.example/accounts")

	_, ok := template.Name("http://red.example/accounts/alice")
	assert.False(t, ok)
}

func TestAccountTemplateRoundTrip(t *testing.T) {
	template := ledger.AccountTemplate("http://red.example/accounts/:name")
	for _, name := range []string{"mike", "alice smith", "acco:unts", "über"} {
		got, ok := template.Name(template.URI(name))
		require.True(t, ok, "name %q", name)
		assert.Equal(t, name, got)
	}
}
