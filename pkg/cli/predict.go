package cli

import (
	"context"
	"fmt"

	"github.com/mchmarny/loanscore/pkg/loan"
	urfave "github.com/urfave/cli/v3"
)

const (
	fileFlagName       = "file"
	nameFlagName       = "name"
	ageFlagName        = "age"
	incomeFlagName     = "income"
	debtFlagName       = "debt"
	amountFlagName     = "amount"
	rateFlagName       = "rate"
	termFlagName       = "term"
	purposeFlagName    = "purpose"
	mortgageFlagName   = "mortgage"
	dependentsFlagName = "dependents"
)

func fieldFlags() []urfave.Flag {
	return []urfave.Flag{
		&urfave.StringFlag{
			Name:    fileFlagName,
			Aliases: []string{"f"},
			Usage:   "Loan application JSON or YAML file, - for JSON on stdin",
		},
		&urfave.StringFlag{Name: nameFlagName, Usage: "Applicant name"},
		&urfave.FloatFlag{Name: ageFlagName, Usage: "Applicant age"},
		&urfave.FloatFlag{Name: incomeFlagName, Usage: "Annual income"},
		&urfave.FloatFlag{Name: debtFlagName, Usage: "Existing monthly debt payment"},
		&urfave.FloatFlag{Name: amountFlagName, Usage: "Loan amount"},
		&urfave.FloatFlag{Name: rateFlagName, Usage: "Loan interest rate"},
		&urfave.FloatFlag{Name: termFlagName, Usage: "Loan term in months"},
		&urfave.StringFlag{Name: purposeFlagName, Usage: "Loan purpose"},
		&urfave.BoolFlag{Name: mortgageFlagName, Usage: "Applicant has a mortgage"},
		&urfave.BoolFlag{Name: dependentsFlagName, Usage: "Applicant has dependents"},
	}
}

func newPredictCmd() *urfave.Command {
	return &urfave.Command{
		Name:   "predict",
		Usage:  "Score a loan application with the local model without storing it",
		Action: cmdPredict,
		Flags:  fieldFlags(),
	}
}

// fieldsFromFlags reads the file, if any, then applies explicitly set flags.
func fieldsFromFlags(cmd *urfave.Command) (loan.Fields, error) {
	f, err := readFields(cmd.String(fileFlagName))
	if err != nil {
		return f, err
	}

	nums := []struct {
		flag string
		dst  *loan.Number
	}{
		{ageFlagName, &f.Age},
		{incomeFlagName, &f.Income},
		{debtFlagName, &f.ExistingDebtPayment},
		{amountFlagName, &f.LoanAmount},
		{rateFlagName, &f.LoanRate},
		{termFlagName, &f.LoanTerm},
	}
	for _, n := range nums {
		if cmd.IsSet(n.flag) {
			*n.dst = loan.Num(cmd.Float(n.flag))
		}
	}
	if cmd.IsSet(nameFlagName) {
		f.Name = cmd.String(nameFlagName)
	}
	if cmd.IsSet(purposeFlagName) {
		f.LoanPurpose = cmd.String(purposeFlagName)
	}
	if cmd.IsSet(mortgageFlagName) {
		f.HasMortgage = loan.Flag(cmd.Bool(mortgageFlagName))
	}
	if cmd.IsSet(dependentsFlagName) {
		f.HasDependents = loan.Flag(cmd.Bool(dependentsFlagName))
	}
	return f, nil
}

func cmdPredict(ctx context.Context, cmd *urfave.Command) error {
	st, err := getState(ctx)
	if err != nil {
		return err
	}
	if err := st.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	f, err := fieldsFromFlags(cmd)
	if err != nil {
		return err
	}

	// preview needs no store
	svc := loan.NewService(newPredictor(st.cfg.Model, nil), nil)
	res, err := svc.Preview(ctx, f)
	if err != nil {
		return fmt.Errorf("prediction failed: %w", err)
	}
	return encode(output(cmd), st.format, res)
}
