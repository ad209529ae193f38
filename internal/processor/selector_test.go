package processor

import (
	"strings"
	"testing"

	"payment-service/internal/db"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func account(label string, geos []string, min, max int64, active bool) db.BankAccountEntity {
	return db.BankAccountEntity{
		ID:            uuid.New(),
		Label:         label,
		Currency:      "USD",
		SupportedGeos: geos,
		MinAmount:     min,
		MaxAmount:     max,
		Active:        active,
	}
}

func TestSelectorDistinguishesGeoAndLimitFailures(t *testing.T) {
	accounts := []db.BankAccountEntity{
		account("eu-main", []string{"DE", "FR"}, 1_000, 500_000, true),
		account("us-main", []string{"US"}, 10_000, 1_000_000, true),
	}
	selector := NewSelector()

	_, err := selector.Select(accounts, "BR", 50_000)
	assert.ErrorIs(t, err, ErrNoBankForGeo)

	_, err = selector.Select(accounts, "US", 5_000)
	assert.ErrorIs(t, err, ErrAmountOutsideLimits)

	picked, err := selector.Select(accounts, "US", 50_000)
	require.NoError(t, err)
	assert.Equal(t, "us-main", picked.Label)
}

func TestSelectorIgnoresInactiveAccounts(t *testing.T) {
	accounts := []db.BankAccountEntity{
		account("dormant", []string{"US"}, 0, 1_000_000, false),
	}

	_, err := NewSelector().Select(accounts, "US", 50_000)
	assert.ErrorIs(t, err, ErrNoBankForGeo)
}

func TestSelectorPicksUniformlyAmongEligible(t *testing.T) {
	accounts := []db.BankAccountEntity{
		account("a", []string{"US"}, 0, 1_000_000, true),
		account("b", []string{"US"}, 0, 1_000_000, true),
		account("c", []string{"US"}, 0, 100, true), // filtered out by limits
	}

	selector := NewSelectorWithRand(func(n int) int {
		assert.Equal(t, 2, n)
		return 1
	})

	picked, err := selector.Select(accounts, "US", 50_000)
	require.NoError(t, err)
	assert.Equal(t, "b", picked.Label)
}

func TestSelectorErrorMessagesCarryContext(t *testing.T) {
	_, err := NewSelector().Select(nil, "JP", 42)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "JP"))
}
