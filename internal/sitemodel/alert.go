// File: internal/sitemodel/alert.go
package sitemodel

// Risk is the ordinal severity classification attached to a finding.
type Risk int

// Risk levels, lowest first. The set is fixed; correlation output always
// contains one bucket per level.
const (
	RiskInformational Risk = iota
	RiskLow
	RiskMedium
	RiskHigh
)

var riskNames = [...]string{"Informational", "Low", "Medium", "High"}

func (r Risk) String() string {
	if r < RiskInformational || r > RiskHigh {
		return "Unknown"
	}
	return riskNames[r]
}

// Valid reports whether r is one of the defined levels.
func (r Risk) Valid() bool {
	return r >= RiskInformational && r <= RiskHigh
}

// RiskLevels returns the fixed enumeration, lowest first.
func RiskLevels() []Risk {
	return []Risk{RiskInformational, RiskLow, RiskMedium, RiskHigh}
}

// Alert is an immutable finding produced by the scanning subsystem. The
// bridge only reads alerts; the canonical store owns them. ID is unique
// across the store and is the identity used for page-scope deduplication.
type Alert struct {
	ID       int
	Name     string
	Risk     Risk
	Param    string
	URI      string
	Evidence string
}
