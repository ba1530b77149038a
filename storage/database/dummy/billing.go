package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/lingua/core/billing"
)

type billingRepository struct {
	db *DB
}

var _ billing.Repository = (*billingRepository)(nil) // interface compliance check

func NewBillingRepository(db *DB) billing.Repository {
	return &billingRepository{db: db}
}

// newer reports whether payment a was created after b. The caller holds the lock.
func (repo *billingRepository) newer(a, b *billing.Payment) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return repo.db.paymentSeq[a.ID] > repo.db.paymentSeq[b.ID]
}

// latest returns the most recently created payment matching match. The caller holds the lock.
func (repo *billingRepository) latest(match func(p *billing.Payment) bool) *billing.Payment {
	var found *billing.Payment
	for _, p := range repo.db.payments {
		if match(p) && (found == nil || repo.newer(p, found)) {
			found = p
		}
	}
	return found
}

func (repo *billingRepository) find(match func(p *billing.Payment) bool) (billing.Payment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	found := repo.latest(match)
	if found == nil {
		return billing.Payment{}, billing.ErrPaymentNotFound
	}
	return *found, nil
}

func (repo *billingRepository) GetPaymentBySubscriptionID(_ context.Context, subscriptionID string) (billing.Payment, error) {
	return repo.find(func(p *billing.Payment) bool {
		return subscriptionID != "" && p.ProviderSubscriptionID == subscriptionID
	})
}

func (repo *billingRepository) GetPaymentByCheckoutSessionID(_ context.Context, sessionID string) (billing.Payment, error) {
	return repo.find(func(p *billing.Payment) bool {
		return sessionID != "" && p.ProviderCheckoutSessionID == sessionID
	})
}

func (repo *billingRepository) GetLatestPayment(_ context.Context, studentID string) (billing.Payment, error) {
	return repo.find(func(p *billing.Payment) bool { return p.StudentID == studentID })
}

func (repo *billingRepository) QueryPayments(_ context.Context, filter *billing.QueryFilter) ([]billing.Payment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	payments := make([]billing.Payment, 0, len(repo.db.payments))
	for _, p := range repo.db.payments {
		if filter != nil {
			if filter.StudentID != "" && p.StudentID != filter.StudentID {
				continue
			}
			if filter.Status != "" && p.Status != filter.Status {
				continue
			}
		}
		payments = append(payments, *p)
	}
	sort.Slice(payments, func(i, j int) bool { return payments[i].UpdatedAt.After(payments[j].UpdatedAt) })
	return payments, nil
}

func (repo *billingRepository) SavePayment(_ context.Context, p billing.Payment) (billing.Payment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.profiles[p.StudentID]; !ok {
		return billing.Payment{}, billing.ErrStudentNotFound
	}
	for id, other := range repo.db.payments {
		if id == p.ID {
			continue
		}
		if (p.ProviderSubscriptionID != "" && other.ProviderSubscriptionID == p.ProviderSubscriptionID) ||
			(p.ProviderCheckoutSessionID != "" && other.ProviderCheckoutSessionID == p.ProviderCheckoutSessionID) {
			return billing.Payment{}, billing.ErrPaymentExists
		}
	}

	if p.ID == "" {
		p.ID = uuid.New().String()
		repo.db.paymentSeq[p.ID] = len(repo.db.paymentSeq) + 1
	} else if _, ok := repo.db.payments[p.ID]; !ok {
		return billing.Payment{}, billing.ErrPaymentNotFound
	}
	repo.db.payments[p.ID] = &p
	repo.mirrorLatest(p)
	return p, nil
}

func (repo *billingRepository) UpdatePayment(
	_ context.Context,
	subscriptionID string,
	change billing.PaymentChange,
) (billing.Payment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	cur := repo.latest(func(p *billing.Payment) bool {
		return subscriptionID != "" && p.ProviderSubscriptionID == subscriptionID
	})
	if cur == nil {
		return billing.Payment{}, billing.ErrPaymentNotFound
	}
	if _, ok := repo.db.profiles[cur.StudentID]; !ok {
		return billing.Payment{}, billing.ErrStudentNotFound
	}

	next, ok := change(*cur)
	if !ok {
		return *cur, nil
	}
	next.ID, next.StudentID, next.CreatedAt = cur.ID, cur.StudentID, cur.CreatedAt
	repo.db.payments[next.ID] = &next
	repo.mirrorLatest(next)
	return next, nil
}

// mirrorLatest copies the payment status and customer id on the learner profile, unless a more
// recent payment of the learner exists. The caller holds the lock.
func (repo *billingRepository) mirrorLatest(p billing.Payment) {
	latest := repo.latest(func(other *billing.Payment) bool { return other.StudentID == p.StudentID })
	if latest == nil || latest.ID != p.ID {
		return
	}
	prof := repo.db.profiles[p.StudentID]
	prof.PaymentStatus = p.Status
	if p.ProviderCustomerID != "" {
		prof.ProviderCustomerID = p.ProviderCustomerID
	}
	prof.UpdatedAt = p.UpdatedAt
}

func (repo *billingRepository) GetStudentBilling(_ context.Context, studentID string) (billing.StudentBilling, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	prof, ok := repo.db.profiles[studentID]
	if !ok {
		return billing.StudentBilling{}, billing.ErrStudentNotFound
	}
	return billing.StudentBilling{
		StudentID:  studentID,
		Status:     prof.PaymentStatus,
		CustomerID: prof.ProviderCustomerID,
	}, nil
}

func (repo *billingRepository) SetStudentStatus(_ context.Context, studentID string, status billing.Status) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	prof, ok := repo.db.profiles[studentID]
	if !ok {
		return billing.ErrStudentNotFound
	}
	prof.PaymentStatus = status
	prof.UpdatedAt = time.Now().UTC()
	return nil
}
