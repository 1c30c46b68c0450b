package payment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCatalogAllowedMethods(t *testing.T) {
	cases := map[string]string{
		"kashier_card":              "card",
		"kashier_bank_installments": "bank_installments",
		"kashier_valu":              "bnpl[valu]",
		"kashier_souhoola":          "bnpl[souhoola]",
		"kashier_aman":              "bnpl[aman]",
		"kashier_wallet":            "wallet",
	}
	for key, want := range cases {
		m, ok := LookupMethod(key)
		require.True(t, ok, key)
		require.Equal(t, want, m.AllowedMethods(), key)
		require.True(t, IsKashierMethod(key))
	}
	require.Len(t, Methods(), len(cases))
}

func TestCatalogSubscriptionOnlyCard(t *testing.T) {
	for _, m := range Methods() {
		require.Equal(t, m.Key == "kashier_card", m.SupportsSubscription, m.Key)
	}
}

func TestCatalogLookupUnknown(t *testing.T) {
	_, ok := LookupMethod("kashier_bitcoin")
	require.False(t, ok)
	require.False(t, IsKashierMethod("stripe"))
}

func TestMethodsSortedAndLabelled(t *testing.T) {
	methods := Methods()
	for i := 1; i < len(methods); i++ {
		require.Less(t, methods[i-1].Key, methods[i].Key)
	}
	m, _ := LookupMethod("kashier_wallet")
	require.Equal(t, "Mobile Wallet (Kashier)", m.DisplayLabel())
}
