package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/keyfold/keyfold/internal/models"
	"github.com/keyfold/keyfold/internal/repositories"
	"github.com/keyfold/keyfold/internal/utils"
)

const exportLinkTTL = 15 * time.Minute

type exportedAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"password"`
	URL       string    `json:"url"`
	Notes     string    `json:"notes,omitempty"`
	Icon      string    `json:"icon,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type exportDocument struct {
	UserID   uuid.UUID         `json:"userId"`
	Created  time.Time         `json:"created"`
	Accounts []exportedAccount `json:"accounts"`
}

// POST /export
// Serializes the caller's own accounts (passwords in clear inside the
// document), seals the whole document with the caller's vault key, and
// uploads it to R2. The response is a short-lived presigned download
// URL. Exports are always self-scoped; even superusers only export
// their own vault.
func ExportVault(w http.ResponseWriter, r *http.Request) {
	caller, ok := requestCaller(w, r)
	if !ok {
		return
	}

	if repositories.R2Client == nil {
		utils.JSONResponse(w, http.StatusServiceUnavailable, utils.Payload{
			Success: false,
			Message: "Vault export is not available: object storage is not configured",
		})
		return
	}

	var accounts []models.Account
	err := repositories.DB.
		Where("author_id = ?", caller.ID).
		Order("created_at ASC").
		Find(&accounts).Error
	if err != nil {
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Database error",
		})
		return
	}

	doc := exportDocument{
		UserID:   caller.ID,
		Created:  time.Now().UTC(),
		Accounts: make([]exportedAccount, 0, len(accounts)),
	}
	for i := range accounts {
		a := &accounts[i]
		plain, err := a.GetPassword(AccountVault)
		if err != nil {
			// An undecryptable row would silently corrupt the export;
			// fail the whole request instead.
			utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
				Success: false,
				Message: "Failed to decrypt an account for export",
			})
			return
		}
		doc.Accounts = append(doc.Accounts, exportedAccount{
			Username:  a.Username,
			Password:  plain,
			URL:       a.URL,
			Notes:     a.Notes,
			Icon:      a.Icon,
			CreatedAt: a.CreatedAt,
		})
	}

	raw, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Failed to serialize export",
		})
		return
	}

	sealed, err := AccountVault.EncryptFor(caller.ID, string(raw))
	if err != nil {
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Failed to encrypt export",
		})
		return
	}

	key := fmt.Sprintf("exports/%s/%s.json.enc", caller.ID, uuid.New())
	if err := repositories.UploadObject(r.Context(), key, "application/octet-stream", []byte(sealed)); err != nil {
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Failed to store export",
		})
		return
	}

	url, err := repositories.GeneratePresignedGetURL(r.Context(), key, exportLinkTTL)
	if err != nil {
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Failed to generate download URL",
		})
		return
	}

	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Vault exported successfully",
		Data: map[string]any{
			"url":       url,
			"accounts":  len(doc.Accounts),
			"expiresIn": exportLinkTTL.String(),
		},
	})
}
