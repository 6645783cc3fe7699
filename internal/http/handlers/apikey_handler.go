// API key HTTP handlers.
//
// This file exposes the endpoints that manage the user's own provider key:
//   - POST   /api-key          (validate format, encrypt, upsert)
//   - DELETE /api-key          (remove)
//   - GET    /api-key/status   (presence + preview, never the key)
//   - GET    /api-key/use      (decrypt and validate upstream)
//
// Plaintext keys only travel in the POST body; they are never echoed back or
// logged.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

//
// DTOs
//

// SaveAPIKeyRequest is the JSON payload for storing a provider key.
type SaveAPIKeyRequest struct {
	// APIKey must start with "sk-".
	APIKey string `json:"key" binding:"required" example:"sk-proj-abc123"`
}

// APIKeyResponse acknowledges a key mutation.
type APIKeyResponse struct {
	Success bool   `json:"success" example:"true"`
	Message string `json:"message" example:"API key saved"`
}

// APIKeyUseResponse reports an upstream validation of the stored key.
type APIKeyUseResponse struct {
	Success     bool `json:"success" example:"true"`
	KeyValid    bool `json:"keyValid" example:"true"`
	ModelsCount int  `json:"modelsCount" example:"42"`
}

//
// Handlers
//

// SaveAPIKey godoc
// @ID          saveAPIKey
// @Summary     Store the user's provider API key
// @Description Encrypts the key with the server master key and stores it, replacing any previous key.
// @Tags        APIKey
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.SaveAPIKeyRequest  true  "Key payload"
// @Success     200   {object}  handlers.APIKeyResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Missing or malformed key"
// @Failure     401   {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     500   {object}  handlers.ErrorResponse  "Vault not configured or storage failure"
// @Router      /api-key [post]
func (h *Handlers) SaveAPIKey(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	var req SaveAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "key required")
		return
	}
	if err := h.apiKeys.SaveKey(c.Request.Context(), uid, req.APIKey); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, APIKeyResponse{Success: true, Message: "API key saved"})
}

// DeleteAPIKey godoc
// @ID          deleteAPIKey
// @Summary     Delete the user's provider API key
// @Tags        APIKey
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.APIKeyResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     500  {object}  handlers.ErrorResponse  "Storage failure"
// @Router      /api-key [delete]
func (h *Handlers) DeleteAPIKey(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	if err := h.apiKeys.DeleteKey(c.Request.Context(), uid); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, APIKeyResponse{Success: true, Message: "API key deleted"})
}

// APIKeyStatus godoc
// @ID          apiKeyStatus
// @Summary     Report whether a provider key is stored
// @Description Never returns the key itself; keyPreview is a non-secret hint.
// @Tags        APIKey
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  services.KeyStatus
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     500  {object}  handlers.ErrorResponse  "Storage failure"
// @Router      /api-key/status [get]
func (h *Handlers) APIKeyStatus(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	st, err := h.apiKeys.Status(c.Request.Context(), uid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}

// UseAPIKey godoc
// @ID          useAPIKey
// @Summary     Validate the stored provider key upstream
// @Tags        APIKey
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.APIKeyUseResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Key rejected by the provider"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     404  {object}  handlers.ErrorResponse  "No key stored"
// @Failure     429  {object}  handlers.ErrorResponse  "Provider rate limit"
// @Failure     500  {object}  handlers.ErrorResponse  "Vault, provider or storage failure"
// @Router      /api-key/use [get]
func (h *Handlers) UseAPIKey(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	n, err := h.apiKeys.CheckKey(c.Request.Context(), uid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, APIKeyUseResponse{Success: true, KeyValid: true, ModelsCount: n})
}
