package handlers

import (
	"context"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"storefront-chat/internal/apperror"
	"storefront-chat/internal/chat"
	"storefront-chat/internal/config"
	"storefront-chat/internal/models"
	"storefront-chat/internal/storage"
	"storefront-chat/internal/telemetry"
	"storefront-chat/internal/users"
)

type chatService interface {
	StartThread(ctx context.Context, requesterID, counterpartID int) (models.Thread, error)
	ListThreads(ctx context.Context, userID int, filter models.ThreadFilter) ([]models.ThreadSummary, error)
	DeleteThread(ctx context.Context, userID, threadID int) error
	PostMessages(ctx context.Context, senderID, threadID int, body string, attachments []models.Attachment) ([]models.Message, error)
	EditMessage(ctx context.Context, requesterID, messageID int, newBody string) (models.Message, error)
	SoftDeleteMessage(ctx context.Context, requesterID, messageID int) (models.Message, error)
	ListMessages(ctx context.Context, requesterID, threadID int) (chat.ThreadMessages, error)
	MarkThreadRead(ctx context.Context, userID, threadID int) (int, error)
	GlobalUnreadCount(ctx context.Context, userID int) (int, error)
	UpdateParticipantFlags(ctx context.Context, userID, threadID int, flags models.ParticipantFlags) (models.ParticipantState, error)
	ThreadUnreadCount(ctx context.Context, userID, threadID int) (int, error)
	CheckSend(ctx context.Context, senderID, threadID int, body string, attachmentCount int) error
}

// ChatHandler serves the storefront chat REST API.
type ChatHandler struct {
	service chatService
	users   users.Directory
	files   storage.AttachmentStore
	audit   *telemetry.AuditEmitter
	limits  config.ChatLimits
}

// NewChatHandler builds a ChatHandler. files and audit may be nil.
func NewChatHandler(service chatService, directory users.Directory, files storage.AttachmentStore, audit *telemetry.AuditEmitter, limits config.ChatLimits) *ChatHandler {
	return &ChatHandler{
		service: service,
		users:   directory,
		files:   files,
		audit:   audit,
		limits:  limits,
	}
}

// StartThread creates or returns the thread between the caller and a seller.
func (h *ChatHandler) StartThread(c *gin.Context) {
	var req struct {
		SellerID int `json:"seller_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperror.BadRequest("invalid request body", err))
		return
	}

	thread, err := h.service.StartThread(c.Request.Context(), c.GetInt("userID"), req.SellerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": thread.ID, "thread": thread})
}

// ListThreads returns the caller's threads.
func (h *ChatHandler) ListThreads(c *gin.Context) {
	filter := models.ThreadFilter{
		Role:     c.Query("role"),
		Archived: c.Query("archived"),
	}
	items, err := h.service.ListThreads(c.Request.Context(), c.GetInt("userID"), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	if items == nil {
		items = []models.ThreadSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// UnreadCount returns the caller's global unread badge.
func (h *ChatHandler) UnreadCount(c *gin.Context) {
	count, err := h.service.GlobalUnreadCount(c.Request.Context(), c.GetInt("userID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// ListMessages returns the thread's messages and marks it read for the caller.
func (h *ChatHandler) ListMessages(c *gin.Context) {
	threadID, ok := parseID(c, "id")
	if !ok {
		return
	}

	result, err := h.service.ListMessages(c.Request.Context(), c.GetInt("userID"), threadID)
	if err != nil {
		respondError(c, err)
		return
	}

	people := map[int]gin.H{}
	if h.users != nil {
		list, err := h.users.BulkUsers(c.Request.Context(), []int{result.Thread.SellerID, result.Thread.BuyerID})
		if err != nil {
			respondError(c, apperror.Transient(err))
			return
		}
		for _, u := range list {
			people[u.ID] = gin.H{"id": u.ID, "name": u.DisplayName(), "avatar_url": u.AvatarURL}
		}
	}

	items := result.Messages
	if items == nil {
		items = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{
		"thread": result.Thread,
		"role":   result.Role,
		"items":  items,
		"users":  people,
	})
}

// PostMessage accepts JSON {body} or multipart with a body field and files[].
func (h *ChatHandler) PostMessage(c *gin.Context) {
	threadID, ok := parseID(c, "id")
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	var (
		body        string
		attachments []models.Attachment
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		form, err := c.MultipartForm()
		if err != nil {
			respondError(c, apperror.BadRequest("invalid multipart form", err))
			return
		}
		body = firstValue(form.Value["body"])
		files := form.File["files"]
		if len(files) > 0 {
			attachments, err = h.upload(c, userID, threadID, body, files)
			if err != nil {
				respondError(c, err)
				return
			}
		}
	} else {
		var req struct {
			Body string `json:"body"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, apperror.BadRequest("invalid request body", err))
			return
		}
		body = req.Body
	}

	msgs, err := h.service.PostMessages(c.Request.Context(), userID, threadID, body, attachments)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"items": msgs})
}

// ThreadUnread returns the caller's unread count for one thread.
func (h *ChatHandler) ThreadUnread(c *gin.Context) {
	threadID, ok := parseID(c, "id")
	if !ok {
		return
	}
	count, err := h.service.ThreadUnreadCount(c.Request.Context(), c.GetInt("userID"), threadID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"thread_id": threadID, "count": count})
}

// MarkRead marks the thread read for the caller and returns the new global badge.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	threadID, ok := parseID(c, "id")
	if !ok {
		return
	}
	total, err := h.service.MarkThreadRead(c.Request.Context(), c.GetInt("userID"), threadID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "unread": total})
}

// UpdateSettings changes the caller's archived, muted and blocked flags.
func (h *ChatHandler) UpdateSettings(c *gin.Context) {
	threadID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var flags models.ParticipantFlags
	if err := c.ShouldBindJSON(&flags); err != nil {
		respondError(c, apperror.BadRequest("invalid request body", err))
		return
	}

	state, err := h.service.UpdateParticipantFlags(c.Request.Context(), c.GetInt("userID"), threadID, flags)
	if err != nil {
		respondError(c, err)
		return
	}
	if flags.Blocked != nil {
		text := "thread unblocked"
		if *flags.Blocked {
			text = "thread blocked"
		}
		h.audit.Emit(c.Request.Context(), "INFO", text, requestIDFromContext(c), userIDFromContext(c), threadID)
	}
	c.JSON(http.StatusOK, state)
}

// DeleteThread removes the thread for both participants.
func (h *ChatHandler) DeleteThread(c *gin.Context) {
	threadID, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteThread(c.Request.Context(), c.GetInt("userID"), threadID); err != nil {
		respondError(c, err)
		return
	}
	h.audit.Emit(c.Request.Context(), "INFO", "thread deleted", requestIDFromContext(c), userIDFromContext(c), threadID)
	c.Status(http.StatusNoContent)
}

// EditMessage replaces the body of the caller's own message.
func (h *ChatHandler) EditMessage(c *gin.Context) {
	messageID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperror.BadRequest("invalid request body", err))
		return
	}

	msg, err := h.service.EditMessage(c.Request.Context(), c.GetInt("userID"), messageID, req.Body)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage soft-deletes the caller's own message. Repeated calls return the same projection.
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	messageID, ok := parseID(c, "id")
	if !ok {
		return
	}
	msg, err := h.service.SoftDeleteMessage(c.Request.Context(), c.GetInt("userID"), messageID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// upload stores the files only once the send itself would be accepted.
func (h *ChatHandler) upload(c *gin.Context, userID, threadID int, body string, files []*multipart.FileHeader) ([]models.Attachment, error) {
	if err := h.service.CheckSend(c.Request.Context(), userID, threadID, body, len(files)); err != nil {
		return nil, err
	}
	if h.files == nil {
		return nil, apperror.BadRequest("attachments are not enabled", storage.ErrNotConfigured)
	}

	out := make([]models.Attachment, 0, len(files))
	for _, fh := range files {
		if h.limits.MaxAttachmentBytes > 0 && fh.Size > h.limits.MaxAttachmentBytes {
			return nil, apperror.BadRequest("attachment too large: "+fh.Filename, nil)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, apperror.BadRequest("unreadable attachment", err)
		}
		att, err := h.files.Save(c.Request.Context(), threadID, fh.Filename, f, fh.Size)
		f.Close()
		if err != nil {
			return nil, apperror.Transient(err)
		}
		out = append(out, att)
	}
	return out, nil
}

func firstValue(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
