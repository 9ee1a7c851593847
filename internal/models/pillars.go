package models

// Pillar is one of the five fixed stability dimensions.
type Pillar string

const (
	PillarSecurity           Pillar = "security"
	PillarFXEconomy          Pillar = "fx_economy"
	PillarInvestorConfidence Pillar = "investor_confidence"
	PillarGovernance         Pillar = "governance"
	PillarSocialStability    Pillar = "social_stability"
)

// Pillars is the canonical pillar order.
var Pillars = []Pillar{
	PillarSecurity,
	PillarFXEconomy,
	PillarInvestorConfidence,
	PillarGovernance,
	PillarSocialStability,
}

var pillarNames = map[Pillar]string{
	PillarSecurity:           "Security",
	PillarFXEconomy:          "FX & Economy",
	PillarInvestorConfidence: "Investor Confidence",
	PillarGovernance:         "Governance",
	PillarSocialStability:    "Social Stability",
}

// Valid reports whether p is a canonical pillar key.
func (p Pillar) Valid() bool {
	_, ok := pillarNames[p]
	return ok
}

// DisplayName returns the human label, or the raw key for unknown pillars.
func (p Pillar) DisplayName() string {
	if name, ok := pillarNames[p]; ok {
		return name
	}
	return string(p)
}
