package recon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveTargetTable(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"Dimension-style name gains warehouse prefix", "arr_turnover_smy", "FT_CUR_ARR_TURNOVER_SMY"},
		{"Fact-prefixed name stays unchanged", "ft_t24_cust_info", "ft_t24_cust_info"},
		{"Fact prefix matched case-insensitively", "FT_T24_DEPOSIT_CA", "ft_t24_deposit_ca"},
		{"Short name", "customer", "FT_CUR_CUSTOMER"},
		{"Name containing ft_ in the middle is not a fact table", "arr_ft_smy", "FT_CUR_ARR_FT_SMY"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ResolveTargetTable(tc.input))
		})
	}
}
