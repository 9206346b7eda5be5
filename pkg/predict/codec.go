package predict

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const actionPredict = "predict"

type request struct {
	Action string    `json:"action"`
	Data   LoanQuery `json:"data"`
}

type response struct {
	Success            *bool    `json:"success"`
	CreditScore        *float64 `json:"creditScore"`
	DefaultStatus      *float64 `json:"defaultStatus"`
	DefaultProbability *float64 `json:"defaultProbability"`
	Error              string   `json:"error"`
}

var (
	errNoSuccessField  = errors.New("response has no success field")
	errTrailingContent = errors.New("unexpected content after response object")
)

// Encode serializes the query into the single request message the model reads from stdin.
func Encode(q LoanQuery) ([]byte, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("invalid loan query: %w", err)
	}
	b, err := json.Marshal(&request{Action: actionPredict, Data: q})
	if err != nil {
		return nil, fmt.Errorf("error encoding prediction request: %w", err)
	}
	return b, nil
}

// DecodeRequest parses a request message back into its action and query.
// It is what a scoring process does with its stdin.
func DecodeRequest(b []byte) (string, *LoanQuery, error) {
	var r request
	if err := json.Unmarshal(b, &r); err != nil {
		return "", nil, fmt.Errorf("error decoding prediction request: %w", err)
	}
	return r.Action, &r.Data, nil
}

// Decode parses the model's reply. Success responses must carry all three
// prediction fields; anything else is reported as malformed output.
func Decode(b []byte) (*Result, error) {
	raw := string(b)

	dec := json.NewDecoder(bytes.NewReader(bytes.TrimSpace(b)))
	var r response
	if err := dec.Decode(&r); err != nil {
		return nil, malformed(raw, err)
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, malformed(raw, errTrailingContent)
	}

	if r.Success == nil {
		return nil, malformed(raw, errNoSuccessField)
	}
	if !*r.Success {
		return nil, modelError(r.Error)
	}

	if err := r.validate(); err != nil {
		return nil, malformed(raw, err)
	}

	return &Result{
		CreditScore:        *r.CreditScore,
		DefaultStatus:      int(*r.DefaultStatus),
		DefaultProbability: *r.DefaultProbability,
	}, nil
}

func (r *response) validate() error {
	var missing []string
	if r.CreditScore == nil {
		missing = append(missing, "creditScore")
	}
	if r.DefaultStatus == nil {
		missing = append(missing, "defaultStatus")
	}
	if r.DefaultProbability == nil {
		missing = append(missing, "defaultProbability")
	}
	if len(missing) > 0 {
		return fmt.Errorf("success response missing fields: %v", missing)
	}

	if s := *r.DefaultStatus; s != 0 && s != 1 {
		return fmt.Errorf("defaultStatus must be 0 or 1, got %v", s)
	}
	if p := *r.DefaultProbability; p < 0 || p > 1 {
		return fmt.Errorf("defaultProbability must be within [0,1], got %v", p)
	}
	return nil
}
