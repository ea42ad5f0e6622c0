package campaign

import (
	"context"
	"errors"

	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/database"
	"github.com/sony/gobreaker/v2"
	"gorm.io/gorm"
)

type CampaignRepository struct {
	DBConn         *gorm.DB
	CircuitBreaker *gobreaker.CircuitBreaker[any]
}

func NewCampaignRepository(dbConn *gorm.DB) *CampaignRepository {
	cbSettings := database.GetCircuitBreakerSettings()

	return &CampaignRepository{
		DBConn:         dbConn,
		CircuitBreaker: gobreaker.NewCircuitBreaker[any](cbSettings),
	}
}

var ErrInvalidCampaignResult = errors.New("invalid result type, it should be bool")

// Exists reports whether a campaign row with the given id is present.
func (campaignRepository *CampaignRepository) Exists(ctx context.Context, campaignID int) (bool, error) {
	result, err := campaignRepository.CircuitBreaker.Execute(func() (any, error) {
		var campaign Campaign

		err := campaignRepository.DBConn.WithContext(ctx).
			Select("id").
			Where("id = ?", campaignID).
			First(&campaign).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return false, nil
			}

			return false, err
		}

		return true, nil
	})
	if err != nil {
		return false, err
	}

	exists, ok := result.(bool)
	if !ok {
		return false, ErrInvalidCampaignResult
	}

	return exists, nil
}
