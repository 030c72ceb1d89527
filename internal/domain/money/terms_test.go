package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func intPtr(n int) *int { return &n }

func TestCanonicalTerms(t *testing.T) {
	cases := []struct {
		name      string
		input     string
		dueInDays *int
		want      Terms
	}{
		{"exact net 30", "Net 30", nil, Net30},
		{"underscored legacy name", "NET_30", nil, Net30},
		{"hyphenated legacy name", "net-7", nil, Net7},
		{"extra whitespace", "  due   on  receipt ", nil, DueOnReceipt},
		{"legacy immediate", "Immediate", nil, DueOnReceipt},
		{"fulfillment", "Due on fulfillment", nil, DueOnFulfillment},
		{"fixed date", "Fixed Date", nil, FixedDate},
		{"days hint fills in unknown name", "payment terms", intPtr(45), Net45},
		{"name wins over days hint", "Net 30", intPtr(60), Net30},
		{"unrecognized days hint", "whatever", intPtr(14), TermsNone},
		{"unrecognized name no hint", "pay whenever", nil, TermsNone},
		{"empty input", "", nil, TermsNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CanonicalTerms(tc.input, tc.dueInDays))
		})
	}
}
