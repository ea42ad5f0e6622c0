package operator

import (
	"context"
	"errors"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/database"
	"github.com/sony/gobreaker/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OperatorRepository struct {
	DBConn         *gorm.DB
	CircuitBreaker *gobreaker.CircuitBreaker[any]
}

func NewOperatorRepository(dbConn *gorm.DB) *OperatorRepository {
	cbSettings := database.GetCircuitBreakerSettings()

	return &OperatorRepository{
		DBConn:         dbConn,
		CircuitBreaker: gobreaker.NewCircuitBreaker[any](cbSettings),
	}
}

var ErrInvalidOperatorResult = errors.New("invalid result type, it should be pointer to Operator struct")

// GetOperatorByExtension retrieves an Operator by its PBX extension
func (operatorRepository *OperatorRepository) GetOperatorByExtension(ctx context.Context, extension int) (*Operator, error) {
	result, err := operatorRepository.CircuitBreaker.Execute(func() (any, error) {
		var operator Operator

		err := operatorRepository.DBConn.WithContext(ctx).
			Where("extension = ?", extension).
			First(&operator).Error
		if err != nil {
			return nil, err
		}

		return &operator, nil
	})
	if err != nil {
		return nil, err
	}

	operator, ok := result.(*Operator)
	if !ok {
		return nil, ErrInvalidOperatorResult
	}

	return operator, nil
}

// CreateOperator inserts a new Operator into the database. Concurrent
// duplicate deliveries race this insert for a first-seen extension, so the
// conflict is tolerated and the winner's row returned.
func (operatorRepository *OperatorRepository) CreateOperator(ctx context.Context, extension int, name string) (*Operator, error) {
	result, err := operatorRepository.CircuitBreaker.Execute(func() (any, error) {
		now := time.Now()

		operator := &Operator{
			Extension: extension,
			UpdatedAt: &now,
		}
		if name != "" {
			operator.Name = &name
		}

		tx := operatorRepository.DBConn.
			WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "extension"}},
				DoNothing: true,
			}).
			Create(operator)
		if tx.Error != nil {
			return nil, tx.Error
		}

		if tx.RowsAffected == 0 {
			// Lost the insert race; read back the winner.
			err := operatorRepository.DBConn.WithContext(ctx).
				Where("extension = ?", extension).
				First(operator).Error
			if err != nil {
				return nil, err
			}
		}

		return operator, nil
	})
	if err != nil {
		return nil, err
	}

	operator, ok := result.(*Operator)
	if !ok {
		return nil, ErrInvalidOperatorResult
	}

	return operator, nil
}

// EnsureOperator returns the operator for the extension, creating it on first sight.
func (operatorRepository *OperatorRepository) EnsureOperator(ctx context.Context, extension int, name string) (*Operator, error) {
	operator, err := operatorRepository.GetOperatorByExtension(ctx, extension)
	if err == nil {
		return operator, nil
	}

	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	return operatorRepository.CreateOperator(ctx, extension, name)
}
