package dummydb_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/lingua/core/billing"
	"github.com/trezcool/lingua/core/student"
	dummydb "github.com/trezcool/lingua/storage/database/dummy"
	testutil "github.com/trezcool/lingua/tests"
)

func setupBilling(t *testing.T) (billing.Repository, student.Repository, student.Profile) {
	t.Helper()
	db := dummydb.Open()
	students := dummydb.NewStudentRepository(db)
	p := testutil.CreateStudent(t, students, "Amani", "amani@lingua.test", nil)
	return dummydb.NewBillingRepository(db), students, p
}

func TestBillingRepository_UpdatePayment_concurrent(t *testing.T) {
	repo, _, p := setupBilling(t)
	ctx := context.Background()
	pmt := testutil.SetPayment(t, repo, p.UserID, billing.StatusActive, nil)
	start := pmt.CreatedAt

	// every change extends the period by a day; none may be lost
	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.UpdatePayment(ctx, pmt.ProviderSubscriptionID, func(cur billing.Payment) (billing.Payment, bool) {
				end := start
				if cur.CurrentPeriodEnd != nil {
					end = *cur.CurrentPeriodEnd
				}
				end = end.Add(24 * time.Hour)
				cur.CurrentPeriodEnd = &end
				return cur, true
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := repo.GetPaymentBySubscriptionID(ctx, pmt.ProviderSubscriptionID)
	require.NoError(t, err)
	require.NotNil(t, got.CurrentPeriodEnd)
	assert.Equal(t, start.Add(n*24*time.Hour), *got.CurrentPeriodEnd)
}

func TestBillingRepository_UpdatePayment(t *testing.T) {
	repo, students, p := setupBilling(t)
	ctx := context.Background()
	pmt := testutil.SetPayment(t, repo, p.UserID, billing.StatusActive, nil)

	_, err := repo.UpdatePayment(ctx, "sub_unknown", func(cur billing.Payment) (billing.Payment, bool) {
		t.Error("change called for an unknown subscription")
		return cur, false
	})
	assert.Equal(t, billing.ErrPaymentNotFound, err)

	// declined change
	got, err := repo.UpdatePayment(ctx, pmt.ProviderSubscriptionID, func(cur billing.Payment) (billing.Payment, bool) {
		cur.Status = billing.StatusCancelled
		return cur, false
	})
	require.NoError(t, err)
	assert.Equal(t, pmt, got)
	prof, err := students.GetProfile(ctx, p.UserID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, prof.PaymentStatus)

	// identity fields stay put
	later := pmt.UpdatedAt.Add(time.Hour)
	got, err = repo.UpdatePayment(ctx, pmt.ProviderSubscriptionID, func(cur billing.Payment) (billing.Payment, bool) {
		cur.ID, cur.StudentID, cur.CreatedAt = "other", "someone", later
		cur.Status, cur.UpdatedAt = billing.StatusFailed, later
		return cur, true
	})
	require.NoError(t, err)
	assert.Equal(t, pmt.ID, got.ID)
	assert.Equal(t, p.UserID, got.StudentID)
	assert.Equal(t, pmt.CreatedAt, got.CreatedAt)
	prof, err = students.GetProfile(ctx, p.UserID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusFailed, prof.PaymentStatus)
	assert.Equal(t, later, prof.UpdatedAt)
}

func TestBillingRepository_mirrorsLatestPaymentOnly(t *testing.T) {
	repo, students, p := setupBilling(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old, err := repo.SavePayment(ctx, billing.Payment{
		StudentID: p.UserID, ProviderSubscriptionID: "sub_old", ProviderCheckoutSessionID: "cs_old",
		Status: billing.StatusFailed, CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Hour),
	})
	require.NoError(t, err)
	current, err := repo.SavePayment(ctx, billing.Payment{
		StudentID: p.UserID, ProviderSubscriptionID: "sub_new", ProviderCheckoutSessionID: "cs_new",
		Status: billing.StatusActive, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)

	tests := []struct {
		name   string
		status billing.Status
	}{
		{name: "update through UpdatePayment", status: billing.StatusCancelled},
		{name: "update through SavePayment", status: billing.StatusFailed},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			updated := now.Add(time.Duration(i+1) * time.Minute)
			var err error
			if i == 0 {
				_, err = repo.UpdatePayment(ctx, "sub_old", func(cur billing.Payment) (billing.Payment, bool) {
					cur.Status, cur.UpdatedAt = tt.status, updated
					return cur, true
				})
			} else {
				upd := old
				upd.Status, upd.UpdatedAt = tt.status, updated
				_, err = repo.SavePayment(ctx, upd)
			}
			require.NoError(t, err)

			prof, err := students.GetProfile(ctx, p.UserID)
			require.NoError(t, err)
			assert.Equal(t, billing.StatusActive, prof.PaymentStatus)

			latest, err := repo.GetLatestPayment(ctx, p.UserID)
			require.NoError(t, err)
			assert.Equal(t, current.ID, latest.ID, "latest by creation, not by update")
		})
	}
}

func TestBillingRepository_SetStudentStatus(t *testing.T) {
	repo, students, p := setupBilling(t)
	ctx := context.Background()
	before := time.Now().UTC()

	require.NoError(t, repo.SetStudentStatus(ctx, p.UserID, billing.StatusPending))
	prof, err := students.GetProfile(ctx, p.UserID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPending, prof.PaymentStatus)
	assert.False(t, prof.UpdatedAt.Before(before), "updated_at is touched")

	assert.Equal(t, billing.ErrStudentNotFound, repo.SetStudentStatus(ctx, "nobody", billing.StatusPending))
}
