package ledger_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/interledgerx/plugin-bells/internal/ledger"
	"github.com/stretchr/testify/assert"
)

func TestMapRPCError(t *testing.T) {
	for _, tc := range []struct {
		code int
		want string
	}{
		{40003, "InvalidFieldsError"},
		{42200, "NoSubscriptionsError"},
		{50000, "NotAcceptedError"},
		{40400, "RPCError"},
	} {
		err := ledger.MapRPCError(tc.code, "boom")
		assert.Equal(t, tc.want, ledger.ErrorName(err), "code %d", tc.code)
		assert.Contains(t, err.Error(), "boom")
	}
}

func TestErrorNameSeesWrappedErrors(t *testing.T) {
	err := fmt.Errorf("handling notification: %w", &ledger.UnrelatedNotificationError{
		Message: "notification does not seem related to connector",
	})
	assert.Equal(t, "UnrelatedNotificationError", ledger.ErrorName(err))
}

func TestErrorNameFallback(t *testing.T) {
	assert.Equal(t, "Error", ledger.ErrorName(errors.New("plain")))
}
