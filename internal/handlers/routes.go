package handlers

import "github.com/gin-gonic/gin"

// RegisterChatRoutes mounts the authenticated chat API.
func RegisterChatRoutes(router gin.IRouter, h *ChatHandler, authMiddleware gin.HandlerFunc) {
	api := router.Group("/api", authMiddleware)

	api.POST("/chats/start", h.StartThread)
	api.GET("/chats/my", h.ListThreads)
	api.GET("/chats/unread-count", h.UnreadCount)
	api.GET("/chats/:id/messages", h.ListMessages)
	api.POST("/chats/:id/messages", h.PostMessage)
	api.GET("/chats/:id/unread", h.ThreadUnread)
	api.POST("/chats/:id/read", h.MarkRead)
	api.PATCH("/chats/:id/settings", h.UpdateSettings)
	api.DELETE("/chats/:id", h.DeleteThread)

	api.PATCH("/messages/:id", h.EditMessage)
	api.DELETE("/messages/:id", h.DeleteMessage)
}
