package ws

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"storefront-chat/internal/observability"
)

type ConnInfo struct {
	ConnID      string
	UserID      int
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func connInfoFromRequest(r *http.Request, traceID string) ConnInfo {
	return ConnInfo{
		ConnID:      uuid.NewString(),
		DeviceID:    observability.DeviceIDFromRequest(r),
		IP:          observability.IPFromRequest(r),
		RequestID:   observability.RequestIDFromRequest(r),
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
}
