package rank

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierOrdering(t *testing.T) {
	tiers := All()
	require.Len(t, tiers, 12)
	assert.Equal(t, NoData, tiers[0])
	assert.Equal(t, Challenger, tiers[len(tiers)-1])
	for i := 1; i < len(tiers); i++ {
		assert.Less(t, tiers[i-1], tiers[i])
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Tier
	}{
		{"DIAMOND", Diamond},
		{"Bronze", Bronze},
		{" challenger ", Challenger},
		{"no elo", NoData},
		{"", NoData},
		{"GRANDMASTER", Grandmaster},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Parse("wood")
	assert.Error(t, err)
}

func TestTierJSON(t *testing.T) {
	type doc struct {
		Tier Tier `json:"tier"`
	}
	data, err := json.Marshal(doc{Tier: Platinum})
	require.NoError(t, err)
	assert.JSONEq(t, `{"tier":"platinum"}`, string(data))

	var got doc
	require.NoError(t, json.Unmarshal([]byte(`{"tier":"no elo"}`), &got))
	assert.Equal(t, NoData, got.Tier)
}

func TestPolicyDisplay(t *testing.T) {
	p := DefaultPolicy()

	assert.True(t, p.IsSensitive(Diamond))
	assert.False(t, p.IsSensitive(Platinum))
	assert.Equal(t, Bronze, p.Display(Diamond, false))
	assert.Equal(t, Diamond, p.Display(Diamond, true))
	assert.Equal(t, Gold, p.Display(Gold, false))
}

func TestNewPolicyRejectsSensitiveRollback(t *testing.T) {
	_, err := NewPolicy([]Tier{Gold}, Gold)
	assert.Error(t, err)
}
