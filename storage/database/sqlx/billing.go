package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/lingua/core"
	"github.com/trezcool/lingua/core/billing"
)

const paymentColumns = `id, student_id, provider_customer_id, provider_subscription_id, provider_checkout_session_id,
	provider_payment_intent_id, status, current_period_start, current_period_end, failed_at, grace_period_ends_at,
	cancel_at_period_end, created_at, updated_at`

type paymentRow struct {
	ID                        string      `db:"id"`
	StudentID                 string      `db:"student_id"`
	ProviderCustomerID        null.String `db:"provider_customer_id"`
	ProviderSubscriptionID    null.String `db:"provider_subscription_id"`
	ProviderCheckoutSessionID null.String `db:"provider_checkout_session_id"`
	ProviderPaymentIntentID   null.String `db:"provider_payment_intent_id"`
	Status                    string      `db:"status"`
	CurrentPeriodStart        null.Time   `db:"current_period_start"`
	CurrentPeriodEnd          null.Time   `db:"current_period_end"`
	FailedAt                  null.Time   `db:"failed_at"`
	GracePeriodEndsAt         null.Time   `db:"grace_period_ends_at"`
	CancelAtPeriodEnd         bool        `db:"cancel_at_period_end"`
	CreatedAt                 time.Time   `db:"created_at"`
	UpdatedAt                 time.Time   `db:"updated_at"`
}

func nullString(s string) null.String { return null.NewString(s, s != "") }

func nullTime(t *time.Time) null.Time {
	if t == nil {
		return null.Time{}
	}
	return null.TimeFrom(t.UTC())
}

func toPaymentRow(p billing.Payment) paymentRow {
	return paymentRow{
		ID:                        p.ID,
		StudentID:                 p.StudentID,
		ProviderCustomerID:        nullString(p.ProviderCustomerID),
		ProviderSubscriptionID:    nullString(p.ProviderSubscriptionID),
		ProviderCheckoutSessionID: nullString(p.ProviderCheckoutSessionID),
		ProviderPaymentIntentID:   nullString(p.ProviderPaymentIntentID),
		Status:                    string(p.Status),
		CurrentPeriodStart:        nullTime(p.CurrentPeriodStart),
		CurrentPeriodEnd:          nullTime(p.CurrentPeriodEnd),
		FailedAt:                  nullTime(p.FailedAt),
		GracePeriodEndsAt:         nullTime(p.GracePeriodEndsAt),
		CancelAtPeriodEnd:         p.CancelAtPeriodEnd,
		CreatedAt:                 p.CreatedAt.UTC(),
		UpdatedAt:                 p.UpdatedAt.UTC(),
	}
}

func (r paymentRow) toPayment() billing.Payment {
	return billing.Payment{
		ID:                        r.ID,
		StudentID:                 r.StudentID,
		ProviderCustomerID:        r.ProviderCustomerID.String,
		ProviderSubscriptionID:    r.ProviderSubscriptionID.String,
		ProviderCheckoutSessionID: r.ProviderCheckoutSessionID.String,
		ProviderPaymentIntentID:   r.ProviderPaymentIntentID.String,
		Status:                    billing.Status(r.Status),
		CurrentPeriodStart:        r.CurrentPeriodStart.Ptr(),
		CurrentPeriodEnd:          r.CurrentPeriodEnd.Ptr(),
		FailedAt:                  r.FailedAt.Ptr(),
		GracePeriodEndsAt:         r.GracePeriodEndsAt.Ptr(),
		CancelAtPeriodEnd:         r.CancelAtPeriodEnd,
		CreatedAt:                 r.CreatedAt,
		UpdatedAt:                 r.UpdatedAt,
	}
}

type billingRepository struct {
	db core.DB
}

var _ billing.Repository = (*billingRepository)(nil) // interface compliance check

func NewBillingRepository(db core.DB) billing.Repository {
	return &billingRepository{db: db}
}

// getPayment returns the most recently created payment matching cond.
func (repo *billingRepository) getPayment(ctx context.Context, cond string, arg interface{}) (billing.Payment, error) {
	var row paymentRow
	q := `SELECT ` + paymentColumns + ` FROM payment WHERE ` + cond + ` ORDER BY created_at DESC, id DESC LIMIT 1`
	if err := repo.db.GetContext(ctx, &row, q, arg); err != nil {
		if err == sql.ErrNoRows {
			return billing.Payment{}, billing.ErrPaymentNotFound
		}
		return billing.Payment{}, errors.Wrap(err, "getting payment")
	}
	return row.toPayment(), nil
}

func (repo *billingRepository) GetPaymentBySubscriptionID(ctx context.Context, subscriptionID string) (billing.Payment, error) {
	if subscriptionID == "" {
		return billing.Payment{}, billing.ErrPaymentNotFound
	}
	return repo.getPayment(ctx, `provider_subscription_id = $1`, subscriptionID)
}

func (repo *billingRepository) GetPaymentByCheckoutSessionID(ctx context.Context, sessionID string) (billing.Payment, error) {
	if sessionID == "" {
		return billing.Payment{}, billing.ErrPaymentNotFound
	}
	return repo.getPayment(ctx, `provider_checkout_session_id = $1`, sessionID)
}

func (repo *billingRepository) GetLatestPayment(ctx context.Context, studentID string) (billing.Payment, error) {
	if _, err := uuid.Parse(studentID); err != nil {
		return billing.Payment{}, billing.ErrPaymentNotFound
	}
	return repo.getPayment(ctx, `student_id = $1`, studentID)
}

func (repo *billingRepository) QueryPayments(ctx context.Context, filter *billing.QueryFilter) ([]billing.Payment, error) {
	var w where
	if filter != nil {
		if filter.StudentID != "" {
			w.add("student_id::text = ?", filter.StudentID)
		}
		if filter.Status != "" {
			w.add("status = ?", string(filter.Status))
		}
	}

	var rows []paymentRow
	q := repo.db.Rebind(`SELECT ` + paymentColumns + ` FROM payment` + w.String() + ` ORDER BY updated_at DESC`)
	if err := repo.db.SelectContext(ctx, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying payments")
	}
	payments := make([]billing.Payment, 0, len(rows))
	for _, r := range rows {
		payments = append(payments, r.toPayment())
	}
	return payments, nil
}

func lockProfile(ctx context.Context, tx *sqlx.Tx, studentID string) error {
	var locked string
	err := tx.GetContext(ctx, &locked, `SELECT user_id FROM student_profile WHERE user_id = $1 FOR UPDATE`, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return billing.ErrStudentNotFound
		}
		return errors.Wrap(err, "locking student profile")
	}
	return nil
}

func insertPayment(ctx context.Context, tx *sqlx.Tx, p billing.Payment) error {
	q := `INSERT INTO payment (` + paymentColumns + `) VALUES (:id, :student_id, :provider_customer_id,
		:provider_subscription_id, :provider_checkout_session_id, :provider_payment_intent_id, :status,
		:current_period_start, :current_period_end, :failed_at, :grace_period_ends_at, :cancel_at_period_end,
		:created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, tx, q, toPaymentRow(p)); err != nil {
		if isUniqueViolation(err) {
			return billing.ErrPaymentExists
		}
		return errors.Wrap(err, "inserting payment")
	}
	return nil
}

func updatePayment(ctx context.Context, tx *sqlx.Tx, p billing.Payment) error {
	q := `UPDATE payment SET provider_customer_id = :provider_customer_id,
		provider_subscription_id = :provider_subscription_id, provider_payment_intent_id = :provider_payment_intent_id,
		status = :status, current_period_start = :current_period_start, current_period_end = :current_period_end,
		failed_at = :failed_at, grace_period_ends_at = :grace_period_ends_at,
		cancel_at_period_end = :cancel_at_period_end, updated_at = :updated_at
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, tx, q, toPaymentRow(p))
	if err != nil {
		if isUniqueViolation(err) {
			return billing.ErrPaymentExists
		}
		return errors.Wrap(err, "updating payment")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return billing.ErrPaymentNotFound
	}
	return nil
}

// mirrorLatest copies the payment status and customer id on the learner profile, unless a more
// recent payment of the learner exists. The profile row must be locked.
func mirrorLatest(ctx context.Context, tx *sqlx.Tx, p billing.Payment) error {
	var latest string
	err := tx.GetContext(ctx, &latest,
		`SELECT id FROM payment WHERE student_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, p.StudentID)
	if err != nil {
		return errors.Wrap(err, "getting latest payment")
	}
	if latest != p.ID {
		return nil
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE student_profile SET payment_status = $2,
			provider_customer_id = COALESCE($3, provider_customer_id), updated_at = $4
		WHERE user_id = $1`,
		p.StudentID, string(p.Status), nullString(p.ProviderCustomerID), p.UpdatedAt.UTC(),
	)
	return errors.Wrap(err, "updating student payment status")
}

func (repo *billingRepository) SavePayment(ctx context.Context, p billing.Payment) (billing.Payment, error) {
	if _, err := uuid.Parse(p.StudentID); err != nil {
		return billing.Payment{}, billing.ErrStudentNotFound
	}

	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		if err := lockProfile(ctx, tx, p.StudentID); err != nil {
			return err
		}
		if p.ID == "" {
			p.ID = uuid.New().String()
			if err := insertPayment(ctx, tx, p); err != nil {
				return err
			}
		} else if err := updatePayment(ctx, tx, p); err != nil {
			return err
		}
		return mirrorLatest(ctx, tx, p)
	})
	if err != nil {
		return billing.Payment{}, err
	}
	return p, nil
}

func (repo *billingRepository) UpdatePayment(
	ctx context.Context,
	subscriptionID string,
	change billing.PaymentChange,
) (billing.Payment, error) {
	if subscriptionID == "" {
		return billing.Payment{}, billing.ErrPaymentNotFound
	}

	var p billing.Payment
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		// the learner of a payment never changes: find it, lock the profile, then read the payment
		var studentID string
		err := tx.GetContext(ctx, &studentID, `SELECT student_id FROM payment WHERE provider_subscription_id = $1`, subscriptionID)
		if err != nil {
			if err == sql.ErrNoRows {
				return billing.ErrPaymentNotFound
			}
			return errors.Wrap(err, "getting payment student")
		}
		if err = lockProfile(ctx, tx, studentID); err != nil {
			return err
		}

		var row paymentRow
		q := `SELECT ` + paymentColumns + ` FROM payment WHERE provider_subscription_id = $1 FOR UPDATE`
		if err = tx.GetContext(ctx, &row, q, subscriptionID); err != nil {
			if err == sql.ErrNoRows {
				return billing.ErrPaymentNotFound
			}
			return errors.Wrap(err, "getting payment")
		}
		p = row.toPayment()

		next, ok := change(p)
		if !ok {
			return nil
		}
		next.ID, next.StudentID, next.CreatedAt = p.ID, p.StudentID, p.CreatedAt
		if err = updatePayment(ctx, tx, next); err != nil {
			return err
		}
		p = next
		return mirrorLatest(ctx, tx, p)
	})
	if err != nil {
		return billing.Payment{}, err
	}
	return p, nil
}

func (repo *billingRepository) GetStudentBilling(ctx context.Context, studentID string) (billing.StudentBilling, error) {
	if _, err := uuid.Parse(studentID); err != nil {
		return billing.StudentBilling{}, billing.ErrStudentNotFound
	}
	var row struct {
		Status     string      `db:"payment_status"`
		CustomerID null.String `db:"provider_customer_id"`
	}
	err := repo.db.GetContext(ctx, &row,
		`SELECT payment_status, provider_customer_id FROM student_profile WHERE user_id = $1`, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return billing.StudentBilling{}, billing.ErrStudentNotFound
		}
		return billing.StudentBilling{}, errors.Wrap(err, "getting student billing")
	}
	return billing.StudentBilling{
		StudentID:  studentID,
		Status:     billing.Status(row.Status),
		CustomerID: row.CustomerID.String,
	}, nil
}

func (repo *billingRepository) SetStudentStatus(ctx context.Context, studentID string, status billing.Status) error {
	if _, err := uuid.Parse(studentID); err != nil {
		return billing.ErrStudentNotFound
	}
	res, err := repo.db.ExecContext(ctx,
		`UPDATE student_profile SET payment_status = $2, updated_at = $3 WHERE user_id = $1`,
		studentID, string(status), time.Now().UTC(),
	)
	if err != nil {
		return errors.Wrap(err, "setting student payment status")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return billing.ErrStudentNotFound
	}
	return nil
}
