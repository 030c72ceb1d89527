package money

import "strings"

// Terms is the closed set of payment terms understood by the commerce
// platform.
type Terms string

const (
	TermsNone        Terms = ""
	DueOnReceipt     Terms = "DUE_ON_RECEIPT"
	DueOnFulfillment Terms = "DUE_ON_FULFILLMENT"
	Net7             Terms = "NET_7"
	Net15            Terms = "NET_15"
	Net30            Terms = "NET_30"
	Net45            Terms = "NET_45"
	Net60            Terms = "NET_60"
	Net90            Terms = "NET_90"
	FixedDate        Terms = "FIXED_DATE"
)

var netByDays = map[int]Terms{
	7:  Net7,
	15: Net15,
	30: Net30,
	45: Net45,
	60: Net60,
	90: Net90,
}

var termsByName = map[string]Terms{
	"due on receipt":     DueOnReceipt,
	"on receipt":         DueOnReceipt,
	"receipt":            DueOnReceipt,
	"immediate":          DueOnReceipt,
	"due on fulfillment": DueOnFulfillment,
	"on fulfillment":     DueOnFulfillment,
	"fulfillment":        DueOnFulfillment,
	"net 7":              Net7,
	"net 15":             Net15,
	"net 30":             Net30,
	"net 45":             Net45,
	"net 60":             Net60,
	"net 90":             Net90,
	"fixed":              FixedDate,
	"fixed date":         FixedDate,
}

// CanonicalTerms maps a free-text or legacy payment-terms name, plus an
// optional due-in-days hint, onto the closed Terms set. Unrecognized input
// maps to TermsNone, never to a guess.
func CanonicalTerms(name string, dueInDays *int) Terms {
	normalized := strings.Join(strings.Fields(strings.ToLower(strings.ReplaceAll(strings.ReplaceAll(name, "_", " "), "-", " "))), " ")
	if t, ok := termsByName[normalized]; ok {
		return t
	}
	if dueInDays != nil {
		if t, ok := netByDays[*dueInDays]; ok {
			return t
		}
	}
	return TermsNone
}
