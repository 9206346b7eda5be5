package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"

	PredictionScored  = "scored"
	PredictionOmitted = "omitted"

	applicationColumns = `id,
			user_id,
			name,
			age,
			income,
			existing_debt_payment,
			loan_amount,
			loan_rate,
			loan_term,
			has_dependents,
			has_mortgage,
			loan_purpose,
			status,
			credit_score,
			default_status,
			default_probability,
			prediction_status,
			prediction_error,
			created_at,
			updated_at`

	insertApplicationSQL = `INSERT INTO application (` + applicationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectUserApplicationsSQL = `SELECT ` + applicationColumns + `
		FROM application
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC`

	selectUserApplicationSQL = `SELECT ` + applicationColumns + `
		FROM application
		WHERE id = ? AND user_id = ?`

	selectOmittedApplicationsSQL = `SELECT ` + applicationColumns + `
		FROM application
		WHERE prediction_status = ?
		ORDER BY created_at`

	selectUserOmittedApplicationsSQL = `SELECT ` + applicationColumns + `
		FROM application
		WHERE prediction_status = ? AND user_id = ?
		ORDER BY created_at`

	updatePredictionSQL = `UPDATE application SET
			credit_score = ?,
			default_status = ?,
			default_probability = ?,
			prediction_status = ?,
			prediction_error = ?,
			updated_at = ?
		WHERE id = ?`

	updateStatusSQL = `UPDATE application SET status = ?, updated_at = ? WHERE id = ? AND user_id = ?`
)

// ValidStatuses lists the review states an application can be in.
var ValidStatuses = []string{StatusPending, StatusApproved, StatusRejected}

// Application is a persisted loan application with its optional prediction.
// The three prediction fields are either all set or all nil.
type Application struct {
	ID                  string    `json:"id" yaml:"id"`
	UserID              string    `json:"userId" yaml:"userId"`
	Name                string    `json:"name" yaml:"name"`
	Age                 float64   `json:"age" yaml:"age"`
	Income              float64   `json:"income" yaml:"income"`
	ExistingDebtPayment float64   `json:"existingDebtPayment" yaml:"existingDebtPayment"`
	LoanAmount          float64   `json:"loanAmount" yaml:"loanAmount"`
	LoanRate            float64   `json:"loanRate" yaml:"loanRate"`
	LoanTerm            float64   `json:"loanTerm" yaml:"loanTerm"`
	HasDependents       bool      `json:"hasDependents" yaml:"hasDependents"`
	HasMortgage         bool      `json:"hasMortgage" yaml:"hasMortgage"`
	LoanPurpose         string    `json:"loanPurpose" yaml:"loanPurpose"`
	Status              string    `json:"status" yaml:"status"`
	CreditScore         *float64  `json:"creditScore,omitempty" yaml:"creditScore,omitempty"`
	DefaultStatus       *int      `json:"defaultStatus,omitempty" yaml:"defaultStatus,omitempty"`
	DefaultProbability  *float64  `json:"defaultProbability,omitempty" yaml:"defaultProbability,omitempty"`
	PredictionStatus    string    `json:"predictionStatus" yaml:"predictionStatus"`
	PredictionError     string    `json:"predictionError,omitempty" yaml:"predictionError,omitempty"`
	CreatedAt           time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// SetPrediction records a successful scoring.
func (a *Application) SetPrediction(creditScore float64, defaultStatus int, defaultProbability float64) {
	a.CreditScore = &creditScore
	a.DefaultStatus = &defaultStatus
	a.DefaultProbability = &defaultProbability
	a.PredictionStatus = PredictionScored
	a.PredictionError = ""
}

// OmitPrediction leaves the prediction fields unset and keeps the reason.
func (a *Application) OmitPrediction(reason string) {
	a.CreditScore = nil
	a.DefaultStatus = nil
	a.DefaultProbability = nil
	a.PredictionStatus = PredictionOmitted
	a.PredictionError = reason
}

// HasPrediction reports whether the application was scored.
func (a *Application) HasPrediction() bool {
	return a.PredictionStatus == PredictionScored && a.CreditScore != nil
}

// CreateApplication assigns an ID and timestamps and stores the application.
func (s *Store) CreateApplication(ctx context.Context, a *Application) error {
	if s == nil || s.db == nil {
		return errDBNotInitialized
	}
	if a == nil {
		return errors.New("application required")
	}
	if a.UserID == "" {
		return errors.New("application user required")
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	a.ID = NewID()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.Status == "" {
		a.Status = StatusPending
	}
	if a.PredictionStatus == "" {
		a.PredictionStatus = PredictionOmitted
	}

	_, err := s.db.ExecContext(ctx, s.rebind(insertApplicationSQL),
		a.ID,
		a.UserID,
		a.Name,
		a.Age,
		a.Income,
		a.ExistingDebtPayment,
		a.LoanAmount,
		a.LoanRate,
		a.LoanTerm,
		a.HasDependents,
		a.HasMortgage,
		a.LoanPurpose,
		a.Status,
		nullFloat(a.CreditScore),
		nullInt(a.DefaultStatus),
		nullFloat(a.DefaultProbability),
		a.PredictionStatus,
		a.PredictionError,
		a.CreatedAt.UnixMilli(),
		a.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert application: %w", err)
	}
	return nil
}

// ListApplications returns the user's applications, newest first.
func (s *Store) ListApplications(ctx context.Context, userID string) ([]*Application, error) {
	if s == nil || s.db == nil {
		return nil, errDBNotInitialized
	}
	return s.queryApplications(ctx, selectUserApplicationsSQL, userID)
}

// GetApplication returns the application only if it belongs to userID.
func (s *Store) GetApplication(ctx context.Context, userID, id string) (*Application, error) {
	if s == nil || s.db == nil {
		return nil, errDBNotInitialized
	}

	row := s.db.QueryRowContext(ctx, s.rebind(selectUserApplicationSQL), id, userID)
	a, err := scanApplication(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan application: %w", err)
	}
	return a, nil
}

// ListOmittedApplications returns applications stored without a prediction,
// oldest first. An empty userID selects all users.
func (s *Store) ListOmittedApplications(ctx context.Context, userID string) ([]*Application, error) {
	if s == nil || s.db == nil {
		return nil, errDBNotInitialized
	}
	if userID == "" {
		return s.queryApplications(ctx, selectOmittedApplicationsSQL, PredictionOmitted)
	}
	return s.queryApplications(ctx, selectUserOmittedApplicationsSQL, PredictionOmitted, userID)
}

// UpdatePrediction persists the prediction fields of a.
func (s *Store) UpdatePrediction(ctx context.Context, a *Application) error {
	if s == nil || s.db == nil {
		return errDBNotInitialized
	}
	if a == nil || a.ID == "" {
		return errors.New("application id required")
	}

	a.UpdatedAt = time.Now().UTC().Truncate(time.Millisecond)
	res, err := s.db.ExecContext(ctx, s.rebind(updatePredictionSQL),
		nullFloat(a.CreditScore),
		nullInt(a.DefaultStatus),
		nullFloat(a.DefaultProbability),
		a.PredictionStatus,
		a.PredictionError,
		a.UpdatedAt.UnixMilli(),
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update prediction: %w", err)
	}
	return expectOneRow(res)
}

// UpdateStatus changes the review status of the user's application.
func (s *Store) UpdateStatus(ctx context.Context, userID, id, status string) error {
	if s == nil || s.db == nil {
		return errDBNotInitialized
	}
	if !Contains(ValidStatuses, status) {
		return fmt.Errorf("invalid status: %q", status)
	}

	res, err := s.db.ExecContext(ctx, s.rebind(updateStatusSQL),
		status, time.Now().UTC().UnixMilli(), id, userID)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return expectOneRow(res)
}

func (s *Store) queryApplications(ctx context.Context, query string, args ...any) ([]*Application, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute application select statement: %w", err)
	}
	defer rows.Close()

	list := make([]*Application, 0)
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return list, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanApplication(row scanner) (*Application, error) {
	var (
		a                    Application
		score, probability   sql.NullFloat64
		defaultStatus        sql.NullInt64
		createdAt, updatedAt int64
	)

	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.Name,
		&a.Age,
		&a.Income,
		&a.ExistingDebtPayment,
		&a.LoanAmount,
		&a.LoanRate,
		&a.LoanTerm,
		&a.HasDependents,
		&a.HasMortgage,
		&a.LoanPurpose,
		&a.Status,
		&score,
		&defaultStatus,
		&probability,
		&a.PredictionStatus,
		&a.PredictionError,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if score.Valid && defaultStatus.Valid && probability.Valid {
		ds := int(defaultStatus.Int64)
		a.CreditScore = &score.Float64
		a.DefaultStatus = &ds
		a.DefaultProbability = &probability.Float64
	}
	a.CreatedAt = time.UnixMilli(createdAt).UTC()
	a.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &a, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
