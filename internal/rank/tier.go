package rank

import (
	"fmt"
	"strings"
)

// Tier is an ordered competitive rank classification
type Tier int

const (
	NoData Tier = iota - 1
	Unranked
	Iron
	Bronze
	Silver
	Gold
	Platinum
	Emerald
	Diamond
	Master
	Grandmaster
	Challenger
)

// noDataName is both the serialized name and the guild role name of NoData
const noDataName = "no elo"

var tierNames = map[Tier]string{
	NoData:      noDataName,
	Unranked:    "unranked",
	Iron:        "iron",
	Bronze:      "bronze",
	Silver:      "silver",
	Gold:        "gold",
	Platinum:    "platinum",
	Emerald:     "emerald",
	Diamond:     "diamond",
	Master:      "master",
	Grandmaster: "grandmaster",
	Challenger:  "challenger",
}

// All returns every tier in ascending order
func All() []Tier {
	tiers := make([]Tier, 0, len(tierNames))
	for t := NoData; t <= Challenger; t++ {
		tiers = append(tiers, t)
	}
	return tiers
}

// String returns the lowercase tier name
func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// RoleName returns the guild role name a tier maps to
func (t Tier) RoleName() string {
	return t.String()
}

// Valid reports whether t is a known tier
func (t Tier) Valid() bool {
	_, ok := tierNames[t]
	return ok
}

// Parse converts a tier name (any case, as returned by the league API or typed in a
// role name) into a Tier
func Parse(s string) (Tier, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" || name == "nodata" {
		return NoData, nil
	}
	for t, n := range tierNames {
		if n == name {
			return t, nil
		}
	}
	return NoData, fmt.Errorf("unknown tier: %q", s)
}

// MarshalText encodes the tier by name so the snapshot stays readable
func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid tier %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText decodes a tier name
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Max returns the higher of two tiers
func Max(a, b Tier) Tier {
	if a > b {
		return a
	}
	return b
}
