package inmemdb

import (
	"context"

	"github.com/trezcool/eduro/core"
	"github.com/trezcool/eduro/core/fee"
)

type receiptRepository struct {
	db *table[fee.Receipt]
}

var _ fee.Repository = (*receiptRepository)(nil) // interface compliance check

func NewReceiptRepository(db *DB) fee.Repository {
	return &receiptRepository{db: db.receipt}
}

var receiptOrderings = map[string]comparator[fee.Receipt]{
	"created_at": func(a, b fee.Receipt) int { return a.CreatedAt.Compare(b.CreatedAt) },
}

func (repo *receiptRepository) CreateReceipt(_ context.Context, r fee.Receipt) (fee.Receipt, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, existing := range repo.db.rows {
		if existing.Number == r.Number {
			return fee.Receipt{}, fee.ErrDuplicateNumber
		}
	}
	r.ID = newID()
	repo.db.rows[r.ID] = r
	return r, nil
}

func (repo *receiptRepository) GetReceipt(_ context.Context, id string) (fee.Receipt, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if r, ok := repo.db.rows[id]; ok {
		return r, nil
	}
	return fee.Receipt{}, fee.ErrNotFound
}

func (repo *receiptRepository) GetReceiptByNumber(_ context.Context, number string) (fee.Receipt, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, r := range repo.db.rows {
		if r.Number == number {
			return r, nil
		}
	}
	return fee.Receipt{}, fee.ErrNotFound
}

func (repo *receiptRepository) UpdateReceipt(_ context.Context, r fee.Receipt) (fee.Receipt, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.rows[r.ID]; !ok {
		return fee.Receipt{}, fee.ErrNotFound
	}
	repo.db.rows[r.ID] = r
	return r, nil
}

func (repo *receiptRepository) DeleteReceipt(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.rows[id]; !ok {
		return fee.ErrNotFound
	}
	delete(repo.db.rows, id)
	return nil
}

func (repo *receiptRepository) QueryReceipts(_ context.Context, filter fee.Filter) ([]fee.Receipt, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	receipts := repo.db.filter(func(r fee.Receipt) bool {
		if filter.BranchID != "" && r.BranchID != filter.BranchID {
			return false
		}
		if filter.StudentID != "" && r.StudentID != filter.StudentID {
			return false
		}
		if filter.ClassID != "" && r.ClassID != filter.ClassID {
			return false
		}
		if len(filter.Statuses) > 0 && !containsStr(filter.Statuses, r.Status) {
			return false
		}
		if !filter.DueFrom.IsZero() && r.DueDate.Before(filter.DueFrom.Time) {
			return false
		}
		if !filter.DueTo.IsZero() && r.DueDate.After(filter.DueTo.Time) {
			return false
		}
		return true
	})
	sortRows(receipts, nil, receiptOrderings, core.DBOrdering{Field: "created_at"})
	return receipts, nil
}
