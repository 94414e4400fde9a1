package cashdrawer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReconcile_ExpectedCash(t *testing.T) {
	sales := []*Sale{
		{Status: SaleCompleted, PaidCash: d("3000"), ChangeGiven: d("200"), PaidCard: d("1500"), ChifaTotal: d("640")},
		{Status: SaleVoided, PaidCash: d("999"), ChangeGiven: d("0"), PaidCard: d("50")},
		{Status: SaleReturned, PaidCash: d("400"), ChangeGiven: d("0")},
	}
	movements := []*Movement{
		{Type: MovementCashIn, Amount: d("500")},
		{Type: MovementCashOut, Amount: d("-100")},
		{Type: MovementNoSale, Amount: d("0")},
	}

	r := Reconcile(d("5000"), sales, movements)

	assert.True(t, r.SystemCash.Equal(d("8200")), "system cash %s", r.SystemCash)
	assert.True(t, r.CashIn.Equal(d("500")))
	assert.True(t, r.CashOut.Equal(d("100")))
	assert.True(t, r.Cards.Equal(d("1500")))
	assert.True(t, r.Chifa.Equal(d("640")))
	assert.True(t, r.Variance(d("8150")).Equal(d("-50")))
}

func TestReconcile_EmptySession(t *testing.T) {
	r := Reconcile(d("2500.50"), nil, nil)
	assert.True(t, r.SystemCash.Equal(d("2500.50")))
	assert.True(t, r.Variance(d("2500.50")).IsZero())
}

func TestClassifyVariance(t *testing.T) {
	tests := []struct {
		variance, system string
		want             VarianceClass
	}{
		{"0", "8200", VarianceBalanced},
		{"-50", "8200", VarianceMinor},
		{"82", "8200", VarianceMinor},
		{"-82.01", "8200", VarianceMajor},
		{"5", "0", VarianceMajor},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyVariance(d(tt.variance), d(tt.system)), "%s on %s", tt.variance, tt.system)
	}
}
