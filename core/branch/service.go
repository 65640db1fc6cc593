package branch

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/eduro/core"
)

var (
	// errors
	ErrNotFound = errors.New("branch not found")
)

type (
	Repository interface {
		CreateBranch(ctx context.Context, b Branch) (Branch, error)
		GetBranch(ctx context.Context, id string) (Branch, error)
		// QueryBranches applies AND operation on available QueryFilter fields.
		QueryBranches(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Branch, error)
		UpdateBranch(ctx context.Context, b Branch) (Branch, error)
		DeleteBranch(ctx context.Context, id string) error
	}

	Service interface {
		Create(ctx context.Context, nb NewBranch) (Branch, error)
		Get(ctx context.Context, id string) (Branch, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Branch, error)
		Update(ctx context.Context, id string, ub UpdateBranch) (Branch, error)
		Delete(ctx context.Context, id string) error
		// ManagedBy returns the branch managed by the given user.
		ManagedBy(ctx context.Context, managerID string) (Branch, error)
	}

	service struct {
		repo Repository
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (svc *service) Create(ctx context.Context, nb NewBranch) (Branch, error) {
	now := core.NowFunc()
	return svc.repo.CreateBranch(ctx, Branch{
		Name:      nb.Name,
		Address:   nb.Address,
		ManagerID: nb.ManagerID,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (svc *service) Get(ctx context.Context, id string) (Branch, error) {
	if id == "" {
		return Branch{}, ErrNotFound
	}
	return svc.repo.GetBranch(ctx, id)
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Branch, error) {
	return svc.repo.QueryBranches(ctx, filter, ordering)
}

func (svc *service) Update(ctx context.Context, id string, ub UpdateBranch) (Branch, error) {
	b, err := svc.Get(ctx, id)
	if err != nil {
		return Branch{}, err
	}
	if ub.Name != nil {
		b.Name = *ub.Name
	}
	if ub.Address != nil {
		b.Address = *ub.Address
	}
	if ub.ManagerID != nil {
		b.ManagerID = *ub.ManagerID
	}
	b.UpdatedAt = core.NowFunc()
	return svc.repo.UpdateBranch(ctx, b)
}

func (svc *service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrNotFound
	}
	return svc.repo.DeleteBranch(ctx, id)
}

func (svc *service) ManagedBy(ctx context.Context, managerID string) (Branch, error) {
	if managerID == "" {
		return Branch{}, ErrNotFound
	}
	branches, err := svc.repo.QueryBranches(ctx, &QueryFilter{ManagerID: managerID}, nil)
	if err != nil {
		return Branch{}, errors.Wrap(err, "querying branches")
	}
	if len(branches) == 0 {
		return Branch{}, ErrNotFound
	}
	return branches[0], nil
}
