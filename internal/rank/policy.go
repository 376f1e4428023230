package rank

import "fmt"

// Policy decides which tiers require proof of account ownership before they are shown
type Policy struct {
	sensitive map[Tier]bool
	rollback  Tier
}

// DefaultPolicy gates diamond and above, displaying bronze until confirmed
func DefaultPolicy() *Policy {
	p, _ := NewPolicy([]Tier{Diamond, Master, Grandmaster, Challenger}, Bronze)
	return p
}

// NewPolicy builds a policy. The rollback tier itself must not be sensitive.
func NewPolicy(sensitive []Tier, rollback Tier) (*Policy, error) {
	p := &Policy{
		sensitive: make(map[Tier]bool, len(sensitive)),
		rollback:  rollback,
	}
	for _, t := range sensitive {
		if !t.Valid() {
			return nil, fmt.Errorf("invalid sensitive tier %d", int(t))
		}
		p.sensitive[t] = true
	}
	if !rollback.Valid() {
		return nil, fmt.Errorf("invalid rollback tier %d", int(rollback))
	}
	if p.sensitive[rollback] {
		return nil, fmt.Errorf("rollback tier %s cannot be sensitive", rollback)
	}
	return p, nil
}

// IsSensitive reports whether t needs confirmation
func (p *Policy) IsSensitive(t Tier) bool {
	return p.sensitive[t]
}

// Rollback returns the tier shown in place of an unconfirmed sensitive tier
func (p *Policy) Rollback() Tier {
	return p.rollback
}

// Display returns the tier a binding may show given its raw tier and confirmation state
func (p *Policy) Display(raw Tier, confirmed bool) Tier {
	if p.sensitive[raw] && !confirmed {
		return p.rollback
	}
	return raw
}
