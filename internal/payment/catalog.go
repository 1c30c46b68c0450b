package payment

import "sort"

// Method describes one Kashier payment method offered at checkout.
type Method struct {
	Key                  string `json:"name"`
	Label                string `json:"label"`
	Code                 string `json:"method"`
	Description          string `json:"description"`
	Icon                 string `json:"icon"`
	SupportsSubscription bool   `json:"supportSubscription"`
}

var bnplCodes = map[string]struct{}{
	"valu":     {},
	"souhoola": {},
	"aman":     {},
}

// BNPL reports whether the method is a buy-now-pay-later product that must be
// wrapped as bnpl[code] on the hosted page.
func (m Method) BNPL() bool {
	_, ok := bnplCodes[m.Code]
	return ok
}

// AllowedMethods returns the value for the allowedMethods query parameter.
func (m Method) AllowedMethods() string {
	if m.BNPL() {
		return "bnpl[" + m.Code + "]"
	}
	return m.Code
}

// DisplayLabel is the label shown in order listings.
func (m Method) DisplayLabel() string {
	return m.Label + " (Kashier)"
}

var catalog = map[string]Method{
	"kashier_card": {
		Key:                  "kashier_card",
		Label:                "Card",
		Code:                 "card",
		Description:          "Online Payments via Credit Card by Kashier",
		Icon:                 "credit-card.svg",
		SupportsSubscription: true,
	},
	"kashier_bank_installments": {
		Key:         "kashier_bank_installments",
		Label:       "Bank Installment",
		Code:        "bank_installments",
		Description: "Online Payments via Bank Installment by Kashier",
		Icon:        "bank-installments.svg",
	},
	"kashier_valu": {
		Key:         "kashier_valu",
		Label:       "ValU",
		Code:        "valu",
		Description: "Online Payments via ValU by Kashier",
		Icon:        "valu.svg",
	},
	"kashier_souhoola": {
		Key:         "kashier_souhoola",
		Label:       "Souhoola",
		Code:        "souhoola",
		Description: "Online Payments via Souhoola by Kashier",
		Icon:        "souhoola.svg",
	},
	"kashier_aman": {
		Key:         "kashier_aman",
		Label:       "Aman",
		Code:        "aman",
		Description: "Online Payments via Aman by Kashier",
		Icon:        "aman.svg",
	},
	"kashier_wallet": {
		Key:         "kashier_wallet",
		Label:       "Mobile Wallet",
		Code:        "wallet",
		Description: "Online Payments via Mobile Wallet by Kashier",
		Icon:        "meeza-wallet.svg",
	},
}

// LookupMethod returns the catalog entry for key.
func LookupMethod(key string) (Method, bool) {
	m, ok := catalog[key]
	return m, ok
}

// Methods returns the catalog sorted by key.
func Methods() []Method {
	out := make([]Method, 0, len(catalog))
	for _, m := range catalog {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// IsKashierMethod reports whether key names a catalog entry.
func IsKashierMethod(key string) bool {
	_, ok := catalog[key]
	return ok
}
