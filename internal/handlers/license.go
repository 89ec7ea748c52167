// internal/handlers/license.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/serialkey-backend/internal/services"
	"github.com/javajoker/serialkey-backend/internal/utils"
)

// Client-facing messages. Desktop clients match on these strings.
const (
	MsgActivated        = "License activated successfully"
	MsgAlreadyActivated = "already activated on this device"
	MsgValid            = "License is valid"
	MsgActivateFields   = "serial_key, device_id and device_type are required"
	MsgVerifyFields     = "serial_key and device_id are required"
	MsgInvalidSerialKey = "Invalid serial key"
	MsgLicenseRevoked   = "License has been revoked"
	MsgDeviceConflict   = "already activated on another device"
	MsgDeviceMismatch   = "Device mismatch"
	MsgNotActivated     = "License not yet activated"
	MsgInternalError    = "Internal server error"
)

// storeTimeout bounds an engine call once it no longer follows the client.
const storeTimeout = 10 * time.Second

type LicenseHandler struct {
	activationService *services.ActivationService
}

type ActivateResponse struct {
	Success     bool       `json:"success"`
	Message     string     `json:"message"`
	LicenseID   string     `json:"license_id,omitempty"`
	ProductName string     `json:"product_name,omitempty"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}

type VerifyResponse struct {
	Valid       bool   `json:"valid"`
	Message     string `json:"message"`
	ProductName string `json:"product_name,omitempty"`
}

func NewLicenseHandler(activationService *services.ActivationService) *LicenseHandler {
	return &LicenseHandler{
		activationService: activationService,
	}
}

// POST /licenses/activate
func (h *LicenseHandler) Activate(c *gin.Context) {
	var req services.ActivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ActivateResponse{Message: MsgActivateFields})
		return
	}
	req.IPAddress = utils.GetClientIP(c)

	ctx, cancel := engineContext(c)
	defer cancel()

	result, err := h.activationService.Activate(ctx, req)
	if err != nil {
		status, message := activationFailure(err)
		c.JSON(status, ActivateResponse{Message: message})
		return
	}

	message := MsgActivated
	if result.AlreadyActivated {
		message = MsgAlreadyActivated
	}

	activatedAt := result.ActivatedAt
	c.JSON(http.StatusOK, ActivateResponse{
		Success:     true,
		Message:     message,
		LicenseID:   result.LicenseID.String(),
		ProductName: result.ProductName,
		ActivatedAt: &activatedAt,
	})
}

// POST /licenses/verify
func (h *LicenseHandler) Verify(c *gin.Context) {
	var req services.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, VerifyResponse{Message: MsgVerifyFields})
		return
	}
	req.IPAddress = utils.GetClientIP(c)

	ctx, cancel := engineContext(c)
	defer cancel()

	result, err := h.activationService.Verify(ctx, req)
	if err != nil {
		status, message := verificationFailure(err)
		c.JSON(status, VerifyResponse{Message: message})
		return
	}

	c.JSON(http.StatusOK, VerifyResponse{
		Valid:       true,
		Message:     MsgValid,
		ProductName: result.ProductName,
	})
}

// engineContext detaches the engine from client cancellation. A client that
// disconnects abandons the response, while the decision and its audit entry
// still complete.
func engineContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(c.Request.Context()), storeTimeout)
}

func activationFailure(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrInvalidRequest):
		return http.StatusBadRequest, MsgActivateFields
	case errors.Is(err, services.ErrLicenseNotFound):
		return http.StatusNotFound, MsgInvalidSerialKey
	case errors.Is(err, services.ErrLicenseRevoked):
		return http.StatusForbidden, MsgLicenseRevoked
	case errors.Is(err, services.ErrDeviceConflict):
		return http.StatusForbidden, MsgDeviceConflict
	default:
		return http.StatusInternalServerError, MsgInternalError
	}
}

func verificationFailure(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrInvalidRequest):
		return http.StatusBadRequest, MsgVerifyFields
	case errors.Is(err, services.ErrLicenseNotFound):
		return http.StatusNotFound, MsgInvalidSerialKey
	case errors.Is(err, services.ErrLicenseRevoked):
		return http.StatusForbidden, MsgLicenseRevoked
	case errors.Is(err, services.ErrNotActivated):
		return http.StatusForbidden, MsgNotActivated
	case errors.Is(err, services.ErrDeviceMismatch):
		return http.StatusForbidden, MsgDeviceMismatch
	default:
		return http.StatusInternalServerError, MsgInternalError
	}
}
