package domain

// ConditionType discriminates the release-condition variants.
type ConditionType string

const (
	ConditionTime   ConditionType = "time"
	ConditionManual ConditionType = "manual"
	ConditionOracle ConditionType = "oracle"
	ConditionHybrid ConditionType = "hybrid"
)

// Condition describes when a milestone becomes releasable. Only the fields
// matching Type are meaningful; the rest stay at their zero value. Conditions
// on a milestone combine with AND; a hybrid condition combines its
// subconditions with AND, or OR when AnyConditionMet is set.
type Condition struct {
	Type ConditionType `json:"type"`

	// time
	DaysAfterPrevious int `json:"days_after_previous,omitempty"`

	// oracle
	OracleType    string `json:"oracle_type,omitempty"`
	OracleURL     string `json:"oracle_url,omitempty"`
	ExpectedValue string `json:"expected_value,omitempty"`

	// hybrid
	Subconditions   []Condition `json:"subconditions,omitempty"`
	AnyConditionMet bool        `json:"any_condition_met,omitempty"`
}
