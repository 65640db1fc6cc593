package branch

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/eduro/core"
)

type Branch struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	ManagerID string    `json:"manager_id"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

// NewBranch contains information needed to create a new Branch.
type NewBranch struct {
	Name      string `json:"name" validate:"required,notblank"`
	Address   string `json:"address"`
	ManagerID string `json:"manager_id" validate:"omitempty,uuid"`
}

func (nb *NewBranch) Validate(validate *validator.Validate) error {
	nb.Name = core.CleanString(nb.Name)
	nb.Address = core.CleanString(nb.Address)
	return validate.Struct(nb)
}

// UpdateBranch defines what information may be provided to modify an existing Branch.
// nil fields are left untouched.
type UpdateBranch struct {
	Name      *string `json:"name" validate:"omitempty,notblank"`
	Address   *string `json:"address"`
	ManagerID *string `json:"manager_id" validate:"omitempty,uuid|len=0"`
}

func (ub *UpdateBranch) Validate(validate *validator.Validate) error {
	if ub.Name != nil {
		name := core.CleanString(*ub.Name)
		ub.Name = &name
	}
	return validate.Struct(ub)
}

type QueryFilter struct {
	Search    string   `query:"search"`
	ManagerID string   `query:"manager_id"`
	IDs       []string `query:"id"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}
