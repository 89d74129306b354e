package limits

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ternarybob/sellerbatch/internal/models"
)

func TestAccountantDefaults(t *testing.T) {
	a := NewAccountant(0, 0)
	productLimit, subOpLimit := a.Limits()
	assert.Equal(t, DefaultProductLimit, productLimit)
	assert.Equal(t, DefaultSubOpLimit, subOpLimit)
}

func TestAllowanceForNextChunk(t *testing.T) {
	tests := []struct {
		name      string
		consumed  int
		chunkSize int
		want      int
	}{
		{"fresh account full chunk", 0, 5, 5},
		{"chunk larger than remaining", 17, 5, 3},
		{"exactly at limit", 20, 5, 0},
		{"over limit", 25, 5, 0},
		{"chunk equals remaining", 15, 5, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAccountant(20, 2000)
			a.Observe("account_1", tt.consumed, 0)
			products, _ := a.AllowanceForNextChunk("account_1", tt.chunkSize)
			assert.Equal(t, tt.want, products)
		})
	}
}

func TestAllowanceTracksSubOps(t *testing.T) {
	a := NewAccountant(20, 100)
	a.Observe("account_1", 0, 60)

	products, subOps := a.AllowanceForNextChunk("account_1", 5)
	assert.Equal(t, 5, products)
	assert.Equal(t, 40, subOps)

	a.Observe("account_1", 0, 50)
	_, subOps = a.AllowanceForNextChunk("account_1", 5)
	assert.Equal(t, 0, subOps)
}

func TestIsLimitReached(t *testing.T) {
	a := NewAccountant(20, 100)

	assert.False(t, a.IsLimitReached("account_1"))

	a.Observe("account_1", 19, 0)
	assert.False(t, a.IsLimitReached("account_1"))

	a.Observe("account_1", 1, 0)
	assert.True(t, a.IsLimitReached("account_1"))

	// Sub-op ceiling trips independently of the product ceiling.
	a.Observe("account_2", 0, 100)
	assert.True(t, a.IsLimitReached("account_2"))
}

func TestAccountsAreIndependent(t *testing.T) {
	a := NewAccountant(20, 2000)
	a.Observe("account_1", 20, 0)

	assert.True(t, a.IsLimitReached("account_1"))
	assert.False(t, a.IsLimitReached("account_2"))
	products, _ := a.AllowanceForNextChunk("account_2", 5)
	assert.Equal(t, 5, products)
}

func TestRestoreSeedsCounters(t *testing.T) {
	a := NewAccountant(20, 2000)
	a.Restore("account_1", models.ProgressRecord{ProductsDone: 15, SubOpsDone: 300})

	products, subOps := a.Consumed("account_1")
	assert.Equal(t, 15, products)
	assert.Equal(t, 300, subOps)
	allow, _ := a.AllowanceForNextChunk("account_1", 10)
	assert.Equal(t, 5, allow)
}

func TestRestoreNeverLowersCounters(t *testing.T) {
	a := NewAccountant(20, 2000)
	a.Observe("account_1", 10, 50)
	a.Restore("account_1", models.ProgressRecord{ProductsDone: 3, SubOpsDone: 10})

	products, subOps := a.Consumed("account_1")
	assert.Equal(t, 10, products)
	assert.Equal(t, 50, subOps)
}

func TestObserveIgnoresNegativeDeltas(t *testing.T) {
	a := NewAccountant(20, 2000)
	a.Observe("account_1", -5, -10)

	products, subOps := a.Consumed("account_1")
	assert.Equal(t, 0, products)
	assert.Equal(t, 0, subOps)
}

func TestReset(t *testing.T) {
	a := NewAccountant(20, 2000)
	a.Observe("account_1", 20, 0)
	a.Reset("account_1")

	assert.False(t, a.IsLimitReached("account_1"))
	products, _ := a.AllowanceForNextChunk("account_1", 5)
	assert.Equal(t, 5, products)
}
