package operator

import (
	"time"
)

type Operator struct {
	ID        int        `gorm:"column:id"         json:"id"`
	Extension int        `gorm:"column:extension"  json:"extension"`
	Name      *string    `gorm:"column:name"       json:"name"`
	CreatedAt *time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt *time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Operator) TableName() string {
	return "operators"
}
