package models

import (
	"time"
)

// ParamOverride is the current operator-set value for one runtime
// parameter of a protected module. One row per (module, parameter);
// history lives in the audit chain, not here.
type ParamOverride struct {
	Module    string    `json:"module" gorm:"primaryKey"`
	Parameter string    `json:"parameter" gorm:"primaryKey"`
	Value     string    `json:"value"`
	SetBy     string    `json:"set_by"`
	UpdatedAt time.Time `json:"updated_at"`
}
