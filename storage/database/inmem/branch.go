package inmemdb

import (
	"context"
	"strings"

	"github.com/trezcool/eduro/core"
	"github.com/trezcool/eduro/core/branch"
)

type branchRepository struct {
	db *table[branch.Branch]
}

var _ branch.Repository = (*branchRepository)(nil) // interface compliance check

func NewBranchRepository(db *DB) branch.Repository {
	return &branchRepository{db: db.branch}
}

var branchOrderings = map[string]comparator[branch.Branch]{
	"name":       func(a, b branch.Branch) int { return strings.Compare(a.Name, b.Name) },
	"created_at": func(a, b branch.Branch) int { return a.CreatedAt.Compare(b.CreatedAt) },
}

func (repo *branchRepository) CreateBranch(_ context.Context, b branch.Branch) (branch.Branch, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	b.ID = newID()
	repo.db.rows[b.ID] = b
	return b, nil
}

func (repo *branchRepository) GetBranch(_ context.Context, id string) (branch.Branch, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if b, ok := repo.db.rows[id]; ok {
		return b, nil
	}
	return branch.Branch{}, branch.ErrNotFound
}

func (repo *branchRepository) QueryBranches(_ context.Context, filter *branch.QueryFilter, ordering []core.DBOrdering) ([]branch.Branch, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	branches := repo.db.filter(func(b branch.Branch) bool {
		if filter == nil {
			return true
		}
		if filter.Search != "" && !matches(filter.Search, b.Name, b.Address) {
			return false
		}
		if filter.ManagerID != "" && b.ManagerID != filter.ManagerID {
			return false
		}
		if len(filter.IDs) > 0 && !containsStr(filter.IDs, b.ID) {
			return false
		}
		return true
	})
	sortRows(branches, ordering, branchOrderings, core.DBOrdering{Field: "name", Ascending: true})
	return branches, nil
}

func (repo *branchRepository) UpdateBranch(_ context.Context, b branch.Branch) (branch.Branch, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.rows[b.ID]; !ok {
		return branch.Branch{}, branch.ErrNotFound
	}
	repo.db.rows[b.ID] = b
	return b, nil
}

func (repo *branchRepository) DeleteBranch(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.rows[id]; !ok {
		return branch.ErrNotFound
	}
	delete(repo.db.rows, id)
	return nil
}
