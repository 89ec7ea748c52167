// internal/handlers/admin.go
package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/serialkey-backend/internal/i18n"
	"github.com/javajoker/serialkey-backend/internal/models"
	"github.com/javajoker/serialkey-backend/internal/services"
	"github.com/javajoker/serialkey-backend/internal/utils"
)

type AdminHandler struct {
	licenseService *services.LicenseService
}

func NewAdminHandler(licenseService *services.LicenseService) *AdminHandler {
	return &AdminHandler{
		licenseService: licenseService,
	}
}

// POST /admin/licenses/issue
func (h *AdminHandler) IssueLicenses(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	var req services.IssueLicensesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	licenses, err := h.licenseService.IssueLicenses(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, services.ErrProductNotFound) {
			utils.NotFoundResponse(c, i18n.KeyProductNotFound)
			return
		}
		logrus.WithError(err).Error("Failed to issue licenses")
		utils.InternalErrorResponse(c, "")
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message":  i18n.T(lang, i18n.KeyLicenseIssued, len(licenses)),
		"licenses": licenses,
	})
}

// GET /admin/licenses
func (h *AdminHandler) ListLicenses(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	params := &services.LicenseSearchParams{
		PaginationParams: utils.GetPaginationParams(c),
	}

	if status := c.Query("status"); status != "" {
		s := models.LicenseStatus(status)
		switch s {
		case models.LicenseStatusAvailable, models.LicenseStatusUsed, models.LicenseStatusRevoked:
			params.Status = &s
		default:
			utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "status"), nil)
			return
		}
	}

	if productIDStr := c.Query("product_id"); productIDStr != "" {
		productID, err := uuid.Parse(productIDStr)
		if err != nil {
			utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "product_id"), nil)
			return
		}
		params.ProductID = &productID
	}

	result, err := h.licenseService.SearchLicenses(c.Request.Context(), params)
	if err != nil {
		logrus.WithError(err).Error("Failed to search licenses")
		utils.InternalErrorResponse(c, "")
		return
	}

	utils.PaginatedResponse(c, *result)
}

// GET /admin/licenses/statistics
func (h *AdminHandler) GetStatistics(c *gin.Context) {
	stats, err := h.licenseService.GetStatistics(c.Request.Context())
	if err != nil {
		logrus.WithError(err).Error("Failed to compute license statistics")
		utils.InternalErrorResponse(c, "")
		return
	}

	utils.SuccessResponse(c, stats)
}

// GET /admin/licenses/:id
func (h *AdminHandler) GetLicense(c *gin.Context) {
	id, ok := parseLicenseID(c)
	if !ok {
		return
	}

	license, err := h.licenseService.GetLicense(c.Request.Context(), id)
	if err != nil {
		h.handleLicenseError(c, err)
		return
	}

	utils.SuccessResponse(c, license)
}

// PUT /admin/licenses/:id/revoke
func (h *AdminHandler) RevokeLicense(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	id, ok := parseLicenseID(c)
	if !ok {
		return
	}

	req, ok := bindLicenseAction(c)
	if !ok {
		return
	}

	license, err := h.licenseService.RevokeLicense(c.Request.Context(), id, req, utils.GetClientIP(c))
	if err != nil {
		h.handleLicenseError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyLicenseRevoked),
		"license": license,
	})
}

// PUT /admin/licenses/:id/transfer
func (h *AdminHandler) TransferLicense(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	id, ok := parseLicenseID(c)
	if !ok {
		return
	}

	req, ok := bindLicenseAction(c)
	if !ok {
		return
	}

	license, err := h.licenseService.TransferLicense(c.Request.Context(), id, req, utils.GetClientIP(c))
	if err != nil {
		h.handleLicenseError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyLicenseTransferred),
		"license": license,
	})
}

func (h *AdminHandler) handleLicenseError(c *gin.Context, err error) {
	lang := utils.GetLangFromContext(c)

	switch {
	case errors.Is(err, services.ErrLicenseNotFound):
		utils.NotFoundResponse(c, i18n.KeyLicenseNotFound)
	case errors.Is(err, services.ErrAlreadyRevoked), errors.Is(err, services.ErrNotTransferable):
		utils.ConflictResponse(c, i18n.T(lang, i18n.KeyLicenseConflict))
	case errors.Is(err, services.ErrInvalidRequest):
		utils.BadRequestResponse(c, "", err.Error())
	default:
		logrus.WithError(err).Error("Admin license operation failed")
		utils.InternalErrorResponse(c, "")
	}
}

func parseLicenseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, i18n.T(utils.GetLangFromContext(c), i18n.KeyValidationInvalid, "license ID"), nil)
		return uuid.Nil, false
	}
	return id, true
}

// bindLicenseAction accepts an empty body as a request without a reason.
func bindLicenseAction(c *gin.Context) (*services.LicenseActionRequest, bool) {
	req := &services.LicenseActionRequest{}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(req); err != nil {
			utils.BadRequestResponse(c, i18n.T(utils.GetLangFromContext(c), i18n.KeyValidationInvalid, "input"), err.Error())
			return nil, false
		}
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return nil, false
	}
	return req, true
}
