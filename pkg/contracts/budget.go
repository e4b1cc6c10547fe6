package contracts

// BudgetStatus is the traffic-light view of spend against the monthly budget.
type BudgetStatus string

const (
	BudgetGreen  BudgetStatus = "GREEN"
	BudgetYellow BudgetStatus = "YELLOW"
	BudgetRed    BudgetStatus = "RED"
)

// BudgetDecision is the budget monitor's view of a hypothetical spend.
// SuggestedType may only be used to escalate a classification.
type BudgetDecision struct {
	Status        BudgetStatus       `json:"status"`
	SpendRatio    float64            `json:"spend_ratio"`
	SuggestedType ClassificationType `json:"suggested_type"`
}
