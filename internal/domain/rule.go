package domain

// CustomRule is an operator-defined flag rule from the configuration's
// custom_rules section. The expression is CEL, compiled once per run
// and evaluated against every transaction; it must produce a boolean.
type CustomRule struct {
	Name        string `json:"name" mapstructure:"name"`
	Description string `json:"description,omitempty" mapstructure:"description"`

	// CEL expression to evaluate
	Expression string `json:"expression" mapstructure:"expression"`
}

// RuleMatch is one transaction flagged by a custom rule.
type RuleMatch struct {
	RuleName      string `json:"ruleName"`
	TransactionID string `json:"transactionId"`
	CardID        string `json:"cardId"`
}
