package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskplane/identity-service/internal/transport/http/middleware"
	"github.com/taskplane/identity-service/internal/usecase"
)

// AccountHandler exposes profile reads and updates.
type AccountHandler struct {
	accounts *usecase.AccountService
}

// NewAccountHandler constructs AccountHandler.
func NewAccountHandler(accounts *usecase.AccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

var accountErrorCases = []ErrorCase{
	{Err: usecase.ErrForbidden, Status: http.StatusForbidden, Message: "insufficient permissions"},
	{Err: usecase.ErrAccountNotFound, Status: http.StatusNotFound, Message: "account not found"},
	{Err: usecase.ErrDuplicateAccount, Status: http.StatusBadRequest, Message: "email already registered"},
}

// Me godoc
// @Summary Return the authenticated account
// @Tags Account
// @Produce json
// @Success 200 {object} Envelope
// @Router /api/v1/account/me [get]
func (h *AccountHandler) Me(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, Fail(c, "authentication required"))
		return
	}
	h.respondAccount(c, principal.ID)
}

// Get godoc
// @Summary Return an account by id
// @Description Admins reach any account, other principals only their own.
// @Tags Account
// @Produce json
// @Param id path string true "Account ID"
// @Success 200 {object} Envelope
// @Failure 403 {object} Envelope
// @Router /api/v1/accounts/{id} [get]
func (h *AccountHandler) Get(c *gin.Context) {
	h.respondAccount(c, c.Param("id"))
}

func (h *AccountHandler) respondAccount(c *gin.Context, accountID string) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, Fail(c, "authentication required"))
		return
	}

	account, err := h.accounts.Get(c.Request.Context(), principal, accountID)
	if err != nil {
		RespondWithMappedError(c, err, accountErrorCases, http.StatusInternalServerError, "lookup failed")
		return
	}

	c.JSON(http.StatusOK, OK(c, "account", newAccountPayload(*account)))
}

// Update godoc
// @Summary Update the account profile
// @Description Changing the email marks the account unverified and queues a
// fresh verification email.
// @Tags Account
// @Accept json
// @Produce json
// @Param id path string true "Account ID"
// @Param request body UpdateProfileRequest true "Profile patch"
// @Success 200 {object} Envelope
// @Failure 400 {object} Envelope
// @Router /api/v1/accounts/{id} [patch]
func (h *AccountHandler) Update(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, Fail(c, "authentication required"))
		return
	}

	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Fail(c, "invalid profile payload"))
		return
	}

	accountID := c.Param("id")
	if accountID == "" {
		accountID = principal.ID
	}

	account, err := h.accounts.UpdateProfile(c.Request.Context(), principal, accountID, usecase.ProfilePatch{
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		RespondWithMappedError(c, err, accountErrorCases, http.StatusInternalServerError, "update failed")
		return
	}

	c.JSON(http.StatusOK, OK(c, "profile updated", newAccountPayload(*account)))
}
