package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"storefront-chat/internal/chat"
	"storefront-chat/internal/models"
)

type ChatServiceMock struct {
	mock.Mock
}

func (m *ChatServiceMock) StartThread(ctx context.Context, requesterID, counterpartID int) (models.Thread, error) {
	args := m.Called(ctx, requesterID, counterpartID)
	var thread models.Thread
	if val := args.Get(0); val != nil {
		thread = val.(models.Thread)
	}
	return thread, args.Error(1)
}

func (m *ChatServiceMock) ListThreads(ctx context.Context, userID int, filter models.ThreadFilter) ([]models.ThreadSummary, error) {
	args := m.Called(ctx, userID, filter)
	var list []models.ThreadSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ThreadSummary)
	}
	return list, args.Error(1)
}

func (m *ChatServiceMock) DeleteThread(ctx context.Context, userID, threadID int) error {
	args := m.Called(ctx, userID, threadID)
	return args.Error(0)
}

func (m *ChatServiceMock) PostMessages(ctx context.Context, senderID, threadID int, body string, attachments []models.Attachment) ([]models.Message, error) {
	args := m.Called(ctx, senderID, threadID, body, attachments)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *ChatServiceMock) EditMessage(ctx context.Context, requesterID, messageID int, newBody string) (models.Message, error) {
	args := m.Called(ctx, requesterID, messageID, newBody)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ChatServiceMock) SoftDeleteMessage(ctx context.Context, requesterID, messageID int) (models.Message, error) {
	args := m.Called(ctx, requesterID, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ChatServiceMock) ListMessages(ctx context.Context, requesterID, threadID int) (chat.ThreadMessages, error) {
	args := m.Called(ctx, requesterID, threadID)
	var result chat.ThreadMessages
	if val := args.Get(0); val != nil {
		result = val.(chat.ThreadMessages)
	}
	return result, args.Error(1)
}

func (m *ChatServiceMock) MarkThreadRead(ctx context.Context, userID, threadID int) (int, error) {
	args := m.Called(ctx, userID, threadID)
	return args.Int(0), args.Error(1)
}

func (m *ChatServiceMock) GlobalUnreadCount(ctx context.Context, userID int) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *ChatServiceMock) UpdateParticipantFlags(ctx context.Context, userID, threadID int, flags models.ParticipantFlags) (models.ParticipantState, error) {
	args := m.Called(ctx, userID, threadID, flags)
	var state models.ParticipantState
	if val := args.Get(0); val != nil {
		state = val.(models.ParticipantState)
	}
	return state, args.Error(1)
}

func (m *ChatServiceMock) ThreadUnreadCount(ctx context.Context, userID, threadID int) (int, error) {
	args := m.Called(ctx, userID, threadID)
	return args.Int(0), args.Error(1)
}

func (m *ChatServiceMock) CheckSend(ctx context.Context, senderID, threadID int, body string, attachmentCount int) error {
	args := m.Called(ctx, senderID, threadID, body, attachmentCount)
	return args.Error(0)
}

type UsersDirectoryMock struct {
	mock.Mock
}

func (m *UsersDirectoryMock) Exists(ctx context.Context, userID int) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *UsersDirectoryMock) BulkUsers(ctx context.Context, ids []int) ([]models.User, error) {
	args := m.Called(ctx, ids)
	var list []models.User
	if val := args.Get(0); val != nil {
		list = val.([]models.User)
	}
	return list, args.Error(1)
}

type AttachmentStoreMock struct {
	mock.Mock
}

func (m *AttachmentStoreMock) Save(ctx context.Context, threadID int, name string, body io.Reader, size int64) (models.Attachment, error) {
	args := m.Called(ctx, threadID, name, body, size)
	var att models.Attachment
	if val := args.Get(0); val != nil {
		att = val.(models.Attachment)
	}
	return att, args.Error(1)
}
