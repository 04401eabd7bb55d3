package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tracklab/songcache/internal/database"
	"github.com/tracklab/songcache/internal/resolver"
	"gorm.io/gorm"
)

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// HealthCheck reports liveness.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Handler serves the public lookup endpoint on top of the resolver.
type Handler struct {
	resolver *resolver.Resolver
}

func NewHandler(r *resolver.Resolver) *Handler {
	return &Handler{resolver: r}
}

type getResponse struct {
	Status       string `json:"status"`
	FoundInDB    bool   `json:"found_in_db"`
	Title        string `json:"title,omitempty"`
	DownloadLink string `json:"download_link,omitempty"`
	VideoID      string `json:"video_id,omitempty"`
	Source       string `json:"source,omitempty"`
	Message      string `json:"message,omitempty"`
}

// GetMusic handles GET /get?query=. The API key comes from the
// X-API-Key header or the key query parameter.
func (h *Handler) GetMusic(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter is required")
		return
	}

	key := r.Header.Get("X-API-Key")
	if key == "" {
		key = r.URL.Query().Get("key")
	}

	res, err := h.resolver.Resolve(r.Context(), query, key)
	if err != nil {
		log.Printf("resolve %q: %v", query, err)
		writeJSON(w, http.StatusBadGateway, getResponse{
			Status:  "error",
			Message: "Service temporarily unavailable",
		})
		return
	}

	switch res.Status {
	case resolver.StatusUnauthorized:
		writeJSON(w, http.StatusUnauthorized, getResponse{
			Status:  "unauthorized",
			Message: "API key is required",
		})
	case resolver.StatusForbidden:
		writeJSON(w, http.StatusForbidden, getResponse{
			Status:  "forbidden",
			Message: res.Reason,
		})
	case resolver.StatusNotFound:
		writeJSON(w, http.StatusNotFound, getResponse{
			Status:  "not_found",
			Message: "No results for query",
		})
	case resolver.StatusFound:
		writeJSON(w, http.StatusOK, getResponse{
			Status:       "success",
			FoundInDB:    true,
			Title:        res.Title,
			DownloadLink: res.Link,
			VideoID:      res.VideoID,
			Source:       string(res.Source),
		})
	case resolver.StatusAcquired:
		writeJSON(w, http.StatusOK, getResponse{
			Status:       "success",
			Title:        res.Title,
			DownloadLink: res.Link,
			VideoID:      res.VideoID,
			Source:       "acquired",
		})
	case resolver.StatusAcquireError:
		writeJSON(w, http.StatusBadGateway, getResponse{
			Status:  "error",
			VideoID: res.VideoID,
			Message: res.Reason,
		})
	default:
		writeError(w, http.StatusInternalServerError, "unknown resolution status")
	}
}

// CreateKey provisions a new API key.
func CreateKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key         string `json:"key"`
		OwnerChatID int64  `json:"owner_chat_id"`
		ExpiresAt   string `json:"expires_at"` // RFC 3339
		DailyLimit  int    `json:"daily_limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Key == "" || body.DailyLimit <= 0 {
		writeError(w, http.StatusBadRequest, "key and a positive daily_limit are required")
		return
	}
	expiresAt, err := time.Parse(time.RFC3339, body.ExpiresAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "expires_at must be RFC 3339")
		return
	}

	rec := database.APIKey{
		Key:         body.Key,
		Active:      true,
		OwnerChatID: body.OwnerChatID,
		ExpiresAt:   expiresAt,
		DailyLimit:  body.DailyLimit,
	}
	if err := database.DB.Create(&rec).Error; err != nil {
		writeError(w, http.StatusConflict, "Failed to create key")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

// DeleteKey removes an API key.
func DeleteKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	result := database.DB.Where("key = ?", key).Delete(&database.APIKey{})
	if result.RowsAffected == 0 {
		writeError(w, http.StatusNotFound, "Key not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DisableKey deactivates a key without deleting it.
func DisableKey(w http.ResponseWriter, r *http.Request) {
	setKeyActive(w, r, false, "disabled")
}

// EnableKey re-activates a key.
func EnableKey(w http.ResponseWriter, r *http.Request) {
	setKeyActive(w, r, true, "enabled")
}

func setKeyActive(w http.ResponseWriter, r *http.Request, active bool, status string) {
	key := chi.URLParam(r, "key")
	result := database.DB.Model(&database.APIKey{}).Where("key = ?", key).Update("active", active)
	if result.RowsAffected == 0 {
		writeError(w, http.StatusNotFound, "Key not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// GetKeyUsage reports today's consumption for a key.
func GetKeyUsage(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var rec database.APIKey
	err := database.DB.Where("key = ?", key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "Key not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":         rec.Key,
		"active":      rec.Active,
		"expires_at":  rec.ExpiresAt.UTC().Format(time.RFC3339),
		"daily_limit": rec.DailyLimit,
		"used_today":  rec.UsedToday,
		"last_reset":  rec.LastReset,
	})
}
