// handlers/credits.go - Host credit endpoints
package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"quizshow/middleware"
	"quizshow/services"
)

// CreditHandler serves the credit balance and the payment provider
// webhook that grants credits.
type CreditHandler struct {
	credits *services.CreditService
}

func NewCreditHandler(credits *services.CreditService) *CreditHandler {
	return &CreditHandler{credits: credits}
}

// GetBalance returns the authenticated host's remaining credits.
// GET /api/credits (host auth)
func (h *CreditHandler) GetBalance(c *fiber.Ctx) error {
	hostID, err := middleware.GetHostID(c)
	if err != nil {
		return err
	}

	balance, err := h.credits.Balance(hostID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load balance"})
	}

	return c.JSON(fiber.Map{
		"host_id": hostID,
		"credits": balance,
	})
}

type paymentWebhookBody struct {
	HostID      string `json:"host_id"`
	Provider    string `json:"provider"`
	ProviderRef string `json:"provider_ref"`
	Credits     int    `json:"credits"`
	AmountCents int    `json:"amount_cents"`
	PromoCode   string `json:"promo_code"`
}

// PaymentWebhook grants credits after a completed purchase. The caller
// must sign the raw body with the shared webhook secret; replayed
// deliveries are absorbed by the provider_ref uniqueness.
// POST /webhooks/payment
func (h *CreditHandler) PaymentWebhook(c *fiber.Ctx) error {
	secret := os.Getenv("PAYMENT_WEBHOOK_SECRET")
	if secret == "" {
		log.Error().Msg("PAYMENT_WEBHOOK_SECRET not configured, rejecting webhook")
		return c.Status(503).JSON(fiber.Map{"error": "Webhook not configured"})
	}

	signature := c.Get("X-Webhook-Signature")
	if !verifySignature(c.Body(), signature, secret) {
		return c.Status(401).JSON(fiber.Map{"error": "Invalid signature"})
	}

	var body paymentWebhookBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if body.HostID == "" || body.ProviderRef == "" || body.Credits <= 0 {
		return c.Status(400).JSON(fiber.Map{"error": "Missing host_id, provider_ref or credits"})
	}

	err := h.credits.GrantCredits(body.HostID, body.Provider, body.ProviderRef,
		body.Credits, body.AmountCents, body.PromoCode)
	if errors.Is(err, services.ErrDuplicatePayment) {
		// Replayed delivery: acknowledge so the provider stops retrying
		return c.JSON(fiber.Map{"status": "already_processed"})
	}
	if err != nil {
		log.Error().Err(err).Str("provider_ref", body.ProviderRef).Msg("credit grant failed")
		return c.Status(500).JSON(fiber.Map{"error": "Failed to grant credits"})
	}

	log.Info().
		Str("host_id", body.HostID).
		Str("provider_ref", body.ProviderRef).
		Int("credits", body.Credits).
		Msg("credits granted")
	return c.JSON(fiber.Map{"status": "ok"})
}

func verifySignature(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
