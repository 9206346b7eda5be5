package loan

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mchmarny/loanscore/pkg/predict"
	"gopkg.in/yaml.v3"
)

// ErrValidation marks caller input errors.
var ErrValidation = errors.New("invalid loan application")

// ValidationError lists the fields that failed validation.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return "missing required fields: " + strings.Join(e.Missing, ", ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Number accepts a JSON/YAML number or a numeric string.
type Number struct {
	Value float64
	Set   bool
}

// Num returns a set Number.
func Num(v float64) Number {
	return Number{Value: v, Set: true}
}

func (n *Number) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*n = Number{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*n = Num(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("expected number or numeric string, got %s", b)
	}
	return n.parse(s)
}

func (n *Number) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("expected scalar number at line %d", value.Line)
	}
	if value.Tag == "!!null" {
		*n = Number{}
		return nil
	}
	return n.parse(value.Value)
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Set {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

func (n *Number) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*n = Number{}
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("invalid number: %q", s)
	}
	*n = Num(f)
	return nil
}

// present treats zero the same as missing.
func (n Number) present() bool {
	return n.Set && n.Value != 0
}

// Flag accepts a boolean, "true"/"false", or 0/1.
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case nil:
		*f = false
	case bool:
		*f = Flag(t)
	case float64:
		*f = t != 0
	case string:
		if strings.TrimSpace(t) == "" {
			*f = false
			return nil
		}
		p, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return fmt.Errorf("invalid boolean: %q", t)
		}
		*f = Flag(p)
	default:
		return fmt.Errorf("invalid boolean: %s", b)
	}
	return nil
}

func (f *Flag) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("expected scalar boolean at line %d", value.Line)
	}
	v := strings.TrimSpace(value.Value)
	if value.Tag == "!!null" || v == "" {
		*f = false
		return nil
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		*f = n != 0
		return nil
	}
	p, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid boolean at line %d: %q", value.Line, v)
	}
	*f = Flag(p)
	return nil
}

// Fields is the raw loan data supplied by a caller.
type Fields struct {
	Name                 string `json:"name,omitempty" yaml:"name,omitempty"`
	Age                  Number `json:"age" yaml:"age"`
	Income               Number `json:"income" yaml:"income"`
	ExistingDebtPayment  Number `json:"existingDebtPayment" yaml:"existingDebtPayment"`
	ExistingDebtPayments Number `json:"existingDebtPayments,omitempty" yaml:"existingDebtPayments,omitempty"`
	LoanAmount           Number `json:"loanAmount" yaml:"loanAmount"`
	LoanRate             Number `json:"loanRate" yaml:"loanRate"`
	LoanTerm             Number `json:"loanTerm" yaml:"loanTerm"`
	LoanPurpose          string `json:"loanPurpose" yaml:"loanPurpose"`
	HasMortgage          Flag   `json:"hasMortgage" yaml:"hasMortgage"`
	HasDependents        Flag   `json:"hasDependents" yaml:"hasDependents"`
}

// Validate checks the required fields. Name is only required for submissions.
func (f Fields) Validate(requireName bool) error {
	var missing []string
	if requireName && strings.TrimSpace(f.Name) == "" {
		missing = append(missing, "name")
	}
	required := []struct {
		name string
		val  Number
	}{
		{"age", f.Age},
		{"income", f.Income},
		{"loanAmount", f.LoanAmount},
		{"loanRate", f.LoanRate},
		{"loanTerm", f.LoanTerm},
	}
	for _, r := range required {
		if !r.val.present() {
			missing = append(missing, r.name)
		}
	}
	if strings.TrimSpace(f.LoanPurpose) == "" {
		missing = append(missing, "loanPurpose")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

func (f Fields) debtPayment() float64 {
	if f.ExistingDebtPayment.Set {
		return f.ExistingDebtPayment.Value
	}
	return f.ExistingDebtPayments.Value
}

// Query normalizes the fields into the bridge input, defaulting optional values.
func (f Fields) Query() predict.LoanQuery {
	return predict.LoanQuery{
		Age:                 f.Age.Value,
		Income:              f.Income.Value,
		LoanAmount:          f.LoanAmount.Value,
		LoanRate:            f.LoanRate.Value,
		LoanTerm:            f.LoanTerm.Value,
		ExistingDebtPayment: f.debtPayment(),
		LoanPurpose:         strings.TrimSpace(f.LoanPurpose),
		HasMortgage:         bool(f.HasMortgage),
		HasDependents:       bool(f.HasDependents),
	}
}
