// services/credit_service.go - Host credit entitlement
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"quizshow/database"
	"quizshow/models"
)

var (
	ErrNoCredits        = errors.New("no quiz credits remaining")
	ErrDuplicatePayment = errors.New("payment already processed")
)

// CreditService is the game.CreditGate implementation. One credit is
// consumed per quiz start, granted through payment provider webhooks.
type CreditService struct{}

func NewCreditService() *CreditService {
	return &CreditService{}
}

// ConsumeCredit atomically spends one credit. The conditional decrement
// means two concurrent starts against a one-credit balance can never
// both succeed.
func (s *CreditService) ConsumeCredit(ctx context.Context, hostID string) error {
	db := database.GetDB().WithContext(ctx)

	result := db.Model(&models.HostCredit{}).
		Where("host_id = ? AND credits > 0", hostID).
		Update("credits", gorm.Expr("credits - 1"))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNoCredits
	}
	return nil
}

// GrantCredits records a completed purchase and adds its credits to the
// host's balance. The purchase insert is keyed on the provider's
// reference, so a replayed webhook inserts nothing and grants nothing.
func (s *CreditService) GrantCredits(hostID, provider, providerRef string, credits, amountCents int, promoCode string) error {
	db := database.GetDB()

	return db.Transaction(func(tx *gorm.DB) error {
		purchase := &models.CreditPurchase{
			HostID:      hostID,
			Provider:    provider,
			ProviderRef: providerRef,
			Credits:     credits,
			AmountCents: amountCents,
			PromoCode:   promoCode,
		}
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider_ref"}},
			DoNothing: true,
		}).Create(purchase)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrDuplicatePayment
		}

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "host_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"credits": gorm.Expr("host_credits.credits + ?", credits),
			}),
		}).Create(&models.HostCredit{
			HostID:  hostID,
			Credits: credits,
		}).Error
	})
}

// Balance returns the host's remaining credits. A host with no row has
// never purchased and holds zero.
func (s *CreditService) Balance(hostID string) (int, error) {
	db := database.GetDB()

	var credit models.HostCredit
	err := db.Where("host_id = ?", hostID).First(&credit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return credit.Credits, nil
}
