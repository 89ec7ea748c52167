package handlers

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v74/webhook"

	"github.com/javajoker/serialkey-backend/internal/config"
	"github.com/javajoker/serialkey-backend/internal/services"
	"github.com/javajoker/serialkey-backend/internal/testutil"
)

func TestStripeWebhookHandler(t *testing.T) {
	const secret = "whsec_handler"

	db := testutil.NewTestDB(t)
	product := testutil.SeedProduct(t, db, "Photo Studio")
	testutil.SeedLicense(t, db, product, "ABCD-1234")

	handler := NewWebhookHandler(services.NewWebhookService(db, config.PaymentConfig{StripeWebhookSecret: secret}, nil, nil))
	r := newEngine()
	r.POST("/v1/webhooks/stripe", handler.Stripe)

	send := func(slug, signWith string) *httptest.ResponseRecorder {
		payload, _ := json.Marshal(map[string]interface{}{
			"id":   "evt_" + slug,
			"type": "checkout.session.completed",
			"data": map[string]interface{}{
				"object": map[string]interface{}{
					"id":             "cs_" + slug,
					"object":         "checkout.session",
					"payment_status": "paid",
					"customer_email": "buyer@example.com",
					"metadata":       map[string]string{"product_slug": slug},
				},
			},
		})

		now := time.Now()
		sig := hex.EncodeToString(webhook.ComputeSignature(now, payload, signWith))
		req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", bytes.NewReader(payload))
		req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", now.Unix(), sig))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusBadRequest, send("photo-studio", "whsec_wrong").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, send("unknown-product", secret).Code)
	assert.Equal(t, http.StatusOK, send("photo-studio", secret).Code)
}
