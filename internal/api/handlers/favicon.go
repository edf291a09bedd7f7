package handlers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/keyfold/keyfold/internal/favicon"
	"github.com/keyfold/keyfold/internal/repositories"
	"github.com/keyfold/keyfold/internal/utils"
)

// Favicons resolves and downloads site icons. Package-level so tests
// can keep pointing it at local servers.
var Favicons = favicon.NewFetcher()

// POST /favicon
// Fetches the favicon for an arbitrary URL and returns it inline as a
// data URI. Fetch failures are a not-found result, never a server
// error: the icon is decoration, not data.
func FetchFavicon(w http.ResponseWriter, r *http.Request) {
	if _, ok := requestCaller(w, r); !ok {
		return
	}

	var input struct {
		URL string `json:"url"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&input); err != nil || input.URL == "" {
		utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
			Success: false,
			Message: "URL is required",
		})
		return
	}

	data, contentType := Favicons.Fetch(r.Context(), input.URL)
	if len(data) == 0 {
		utils.JSONResponse(w, http.StatusNotFound, utils.Payload{
			Success: false,
			Message: "Could not fetch favicon for the given URL",
		})
		return
	}

	faviconURL := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data))
	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Favicon fetched successfully",
		Data: map[string]any{
			"faviconUrl":  faviconURL,
			"contentType": contentType,
			"sizeBytes":   len(data),
		},
	})
}

// POST /accounts/{id}/fetch-favicon
// Fetches and caches the favicon for one account. Ownership rules are
// identical to the detail endpoint: a foreign account is not-found.
func FetchAccountFavicon(w http.ResponseWriter, r *http.Request) {
	caller, ok := requestCaller(w, r)
	if !ok {
		return
	}

	account := findAccountForCaller(r, caller)
	if account == nil {
		accountNotFound(w)
		return
	}

	data, contentType := Favicons.Fetch(r.Context(), account.URL)
	if len(data) == 0 {
		utils.JSONResponse(w, http.StatusNotFound, utils.Payload{
			Success: false,
			Message: "Could not fetch favicon for this account",
		})
		return
	}

	account.SetFavicon(data, contentType)
	err := repositories.DB.Model(account).
		Select("favicon", "favicon_content_type").
		Updates(map[string]any{
			"favicon":              account.Favicon,
			"favicon_content_type": account.FaviconContentType,
		}).Error
	if err != nil {
		utils.JSONResponse(w, http.StatusInternalServerError, utils.Payload{
			Success: false,
			Message: "Failed to cache favicon",
		})
		return
	}

	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Favicon fetched and cached successfully",
		Data: map[string]any{
			"faviconUrl": account.FaviconURL(),
		},
	})
}
