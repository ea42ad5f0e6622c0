package campaign

import (
	"time"
)

type Campaign struct {
	ID        int        `gorm:"column:id"         json:"id"`
	Name      *string    `gorm:"column:name"       json:"name"`
	Active    bool       `gorm:"column:active"     json:"active"`
	CreatedAt *time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt *time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Campaign) TableName() string {
	return "campaigns"
}
