package predict

import (
	"fmt"
	"math"
)

// LoanQuery is the normalized set of loan fields sent to the scoring model.
type LoanQuery struct {
	Age                 float64 `json:"age" yaml:"age"`
	Income              float64 `json:"income" yaml:"income"`
	LoanAmount          float64 `json:"loanAmount" yaml:"loanAmount"`
	LoanRate            float64 `json:"loanRate" yaml:"loanRate"`
	LoanTerm            float64 `json:"loanTerm" yaml:"loanTerm"`
	ExistingDebtPayment float64 `json:"existingDebtPayment" yaml:"existingDebtPayment"`
	LoanPurpose         string  `json:"loanPurpose" yaml:"loanPurpose"`
	HasMortgage         bool    `json:"hasMortgage" yaml:"hasMortgage"`
	HasDependents       bool    `json:"hasDependents" yaml:"hasDependents"`
}

// Validate makes sure every numeric field is a finite number.
// Business ranges (e.g. positive age) are the caller's concern.
func (q LoanQuery) Validate() error {
	fields := []struct {
		name string
		val  float64
	}{
		{"age", q.Age},
		{"income", q.Income},
		{"loanAmount", q.LoanAmount},
		{"loanRate", q.LoanRate},
		{"loanTerm", q.LoanTerm},
		{"existingDebtPayment", q.ExistingDebtPayment},
	}
	for _, f := range fields {
		if math.IsNaN(f.val) || math.IsInf(f.val, 0) {
			return fmt.Errorf("field %s is not a finite number: %v", f.name, f.val)
		}
	}
	return nil
}

// Result is the output of a successful scoring call.
type Result struct {
	CreditScore        float64 `json:"creditScore" yaml:"creditScore"`
	DefaultStatus      int     `json:"defaultStatus" yaml:"defaultStatus"`
	DefaultProbability float64 `json:"defaultProbability" yaml:"defaultProbability"`
}

// IsDefault reports whether the model classified the loan as likely to default.
func (r *Result) IsDefault() bool {
	return r != nil && r.DefaultStatus == 1
}
