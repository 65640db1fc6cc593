package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/eduro/core"
	"github.com/trezcool/eduro/core/branch"
)

const branchColumns = `id, name, address, manager_id, created_at, updated_at`

type branchRow struct {
	ID        string      `db:"id"`
	Name      string      `db:"name"`
	Address   string      `db:"address"`
	ManagerID null.String `db:"manager_id"`
	CreatedAt time.Time   `db:"created_at"`
	UpdatedAt time.Time   `db:"updated_at"`
}

type branchRepository struct {
	db *sqlx.DB
}

var _ branch.Repository = (*branchRepository)(nil) // interface compliance check

func NewBranchRepository(db *sqlx.DB) branch.Repository {
	return &branchRepository{db: db}
}

func (repo *branchRepository) boil(b branch.Branch) branchRow {
	return branchRow{
		ID:        b.ID,
		Name:      b.Name,
		Address:   b.Address,
		ManagerID: null.NewString(b.ManagerID, b.ManagerID != ""),
		CreatedAt: b.CreatedAt.UTC(),
		UpdatedAt: b.UpdatedAt.UTC(),
	}
}

func (repo *branchRepository) unboil(row branchRow) branch.Branch {
	return branch.Branch{
		ID:        row.ID,
		Name:      row.Name,
		Address:   row.Address,
		ManagerID: row.ManagerID.String,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}
}

func (repo *branchRepository) CreateBranch(ctx context.Context, b branch.Branch) (branch.Branch, error) {
	b.ID = newID()
	row := repo.boil(b)
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO branch (`+branchColumns+`)
		VALUES (:id, :name, :address, :manager_id, :created_at, :updated_at)`, row)
	if err != nil {
		return branch.Branch{}, errors.Wrap(err, "inserting branch")
	}
	return repo.unboil(row), nil
}

func (repo *branchRepository) GetBranch(ctx context.Context, id string) (branch.Branch, error) {
	if !isUUID(id) {
		return branch.Branch{}, branch.ErrNotFound
	}
	var row branchRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+branchColumns+` FROM branch WHERE id = $1`, id); err != nil {
		if isNoRows(err) {
			return branch.Branch{}, branch.ErrNotFound
		}
		return branch.Branch{}, errors.Wrap(err, "finding branch by ID")
	}
	return repo.unboil(row), nil
}

func (repo *branchRepository) QueryBranches(ctx context.Context, filter *branch.QueryFilter, ordering []core.DBOrdering) ([]branch.Branch, error) {
	w := new(where)
	if filter != nil {
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			w.add("(name ILIKE ? OR address ILIKE ?)", val, val)
		}
		if filter.ManagerID != "" {
			w.add("manager_id::text = ?", filter.ManagerID)
		}
		if len(filter.IDs) > 0 {
			w.add("id::text IN (?)", filter.IDs)
		}
	}

	var rows []branchRow
	order := orderBy(ordering, []string{"name", "created_at"}, core.DBOrdering{Field: "name", Ascending: true})
	if err := selectWhere(ctx, repo.db, &rows, `SELECT `+branchColumns+` FROM branch`, w, order); err != nil {
		return nil, errors.Wrap(err, "querying branches")
	}
	branches := make([]branch.Branch, 0, len(rows))
	for _, row := range rows {
		branches = append(branches, repo.unboil(row))
	}
	return branches, nil
}

func (repo *branchRepository) UpdateBranch(ctx context.Context, b branch.Branch) (branch.Branch, error) {
	row := repo.boil(b)
	res, err := repo.db.NamedExecContext(ctx, `
		UPDATE branch SET name = :name, address = :address, manager_id = :manager_id, updated_at = :updated_at
		WHERE id = :id`, row)
	if err != nil {
		return branch.Branch{}, errors.Wrap(err, "updating branch")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return branch.Branch{}, branch.ErrNotFound
	}
	return repo.unboil(row), nil
}

func (repo *branchRepository) DeleteBranch(ctx context.Context, id string) error {
	if !isUUID(id) {
		return branch.ErrNotFound
	}
	ok, err := execAffected(ctx, repo.db, `DELETE FROM branch WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting branch")
	}
	if !ok {
		return branch.ErrNotFound
	}
	return nil
}
