package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"storefront-chat/internal/apperror"
)

// respondError renders err as {"error", "code"} with the status of its kind.
func respondError(c *gin.Context, err error) {
	appErr := apperror.From(err)
	if appErr.Kind == apperror.KindTransient {
		log.Error().Err(err).Str("route", c.FullPath()).Str("request_id", requestIDFromContext(c)).Msg("request failed")
	}
	c.JSON(appErr.Status, gin.H{"error": appErr.Message, "code": appErr.Kind})
}

func parseID(c *gin.Context, param string) (int, bool) {
	id, err := strconv.Atoi(c.Param(param))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + param, "code": apperror.KindBadRequest})
		return 0, false
	}
	return id, true
}
