package escrow

// Template is a preset milestone split offered at deal creation.
type Template struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Percentages []int  `json:"percentages"`
}

// Templates returns the built-in milestone presets. Callers may ignore them
// and submit any split that passes ValidatePercentages.
func Templates() []Template {
	return []Template{
		{
			Name:        "half_half",
			Description: "50% upfront milestone, 50% on completion",
			Percentages: []int{50, 50},
		},
		{
			Name:        "three_phase",
			Description: "30% kickoff, 50% main delivery, 20% wrap-up",
			Percentages: []int{30, 50, 20},
		},
		{
			Name:        "quarterly",
			Description: "four equal 25% milestones",
			Percentages: []int{25, 25, 25, 25},
		},
	}
}
