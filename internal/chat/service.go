package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"storefront-chat/internal/apperror"
	"storefront-chat/internal/config"
	"storefront-chat/internal/models"
	"storefront-chat/internal/observability"
	"storefront-chat/internal/repositories"
	"storefront-chat/internal/users"
)

// Notifier pushes realtime events to every live connection of a user and closes
// the realtime group of a deleted thread.
type Notifier interface {
	SendToUser(userID int, event models.Event) int
	DropThread(threadID int)
}

// PresenceChecker answers whether a user has a live connection.
type PresenceChecker interface {
	IsOnline(userID int) bool
}

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// UnreadCache caches global unread totals. Get also returns the user's current generation;
// Set must be given the generation observed before counting.
type UnreadCache interface {
	Get(ctx context.Context, userID int) (int, int64, bool)
	Set(ctx context.Context, userID int, generation int64, count int) error
	Invalidate(ctx context.Context, userIDs ...int) error
}

// Deps are the collaborators of Service. Notifier, Presence, Events and Cache are optional.
type Deps struct {
	Threads  repositories.ThreadRepository
	Messages repositories.MessageRepository
	Users    users.Directory
	Notifier Notifier
	Presence PresenceChecker
	Events   EventPublisher
	Cache    UnreadCache
	Limits   config.ChatLimits
}

// Service implements thread, message and unread operations.
type Service struct {
	threads  repositories.ThreadRepository
	messages repositories.MessageRepository
	users    users.Directory
	notifier Notifier
	presence PresenceChecker
	events   EventPublisher
	cache    UnreadCache
	limits   config.ChatLimits
}

// NewService builds a Service.
func NewService(d Deps) *Service {
	limits := d.Limits
	if limits.MaxMessageLength <= 0 {
		limits.MaxMessageLength = 4000
	}
	if limits.MaxAttachments <= 0 {
		limits.MaxAttachments = 8
	}
	return &Service{
		threads:  d.Threads,
		messages: d.Messages,
		users:    d.Users,
		notifier: d.Notifier,
		presence: d.Presence,
		events:   d.Events,
		cache:    d.Cache,
		limits:   limits,
	}
}

// ThreadMessages is a thread together with its messages as seen by one participant.
type ThreadMessages struct {
	Thread   models.Thread    `json:"thread"`
	Role     models.Role      `json:"role"`
	Messages []models.Message `json:"items"`
}

// StartThread opens the conversation where requesterID is the buyer and counterpartID the seller,
// or returns the existing one between the two users.
func (s *Service) StartThread(ctx context.Context, requesterID, counterpartID int) (models.Thread, error) {
	if counterpartID <= 0 {
		return models.Thread{}, apperror.InvalidCounterpart("counterpart is required")
	}
	if counterpartID == requesterID {
		return models.Thread{}, apperror.InvalidCounterpart("cannot start a chat with yourself")
	}
	exists, err := s.users.Exists(ctx, counterpartID)
	if err != nil {
		return models.Thread{}, apperror.Transient(err)
	}
	if !exists {
		return models.Thread{}, apperror.InvalidCounterpart("unknown counterpart")
	}

	thread, created, err := s.threads.CreateOrGet(ctx, counterpartID, requesterID)
	if err != nil {
		return models.Thread{}, mapStorageErr(err)
	}
	if created {
		s.publish(ctx, RoutingThreadStarted, "thread_started", threadPayload(thread, requesterID))
	}
	return thread, nil
}

// ListThreads returns the user's threads, most recent activity first.
func (s *Service) ListThreads(ctx context.Context, userID int, filter models.ThreadFilter) ([]models.ThreadSummary, error) {
	filter, ok := filter.Normalize()
	if !ok {
		return nil, apperror.BadRequest("invalid thread filter", nil)
	}
	summaries, err := s.threads.ListForUser(ctx, userID, filter)
	if err != nil {
		return nil, mapStorageErr(err)
	}
	if s.presence != nil {
		for i := range summaries {
			summaries[i].CounterpartOnline = s.presence.IsOnline(summaries[i].CounterpartID)
		}
	}
	return summaries, nil
}

// DeleteThread removes the thread and all of its messages.
func (s *Service) DeleteThread(ctx context.Context, userID, threadID int) error {
	thread, _, err := s.threadFor(ctx, userID, threadID)
	if err != nil {
		return err
	}
	if err := s.threads.Delete(ctx, threadID); err != nil {
		return mapStorageErr(err)
	}

	s.invalidateUnread(ctx, thread.SellerID, thread.BuyerID)
	s.dropThread(threadID)
	s.pushUnreadTotal(ctx, thread.Counterpart(userID))
	s.pushUnreadTotal(ctx, userID)
	s.publish(ctx, RoutingThreadDeleted, "thread_deleted", threadPayload(thread, userID))
	return nil
}

// PostMessages stores a message, or one row per attachment with the body on the first row,
// then fans the result out. Push failures never fail the call.
func (s *Service) PostMessages(ctx context.Context, senderID, threadID int, body string, attachments []models.Attachment) ([]models.Message, error) {
	send, err := s.prepareSend(ctx, senderID, threadID, body, len(attachments))
	if err != nil {
		return nil, err
	}
	thread, receiver, receiverRole := send.thread, send.receiver, send.receiverRole

	rows := buildRows(send.body, attachments)
	msgs, err := s.messages.CreateBatch(ctx, threadID, senderID, rows)
	if err != nil {
		return nil, mapStorageErr(err)
	}
	for _, m := range msgs {
		observability.IncChatMessage(m.Attachment != nil)
	}

	delivery := RouteNewMessages(thread, senderID, receiver, s.isOnline(receiver.UserID), msgs)
	if delivery.Deferred {
		if err := s.threads.IncrementMutedUnread(ctx, threadID, receiverRole, len(msgs)); err != nil {
			log.Warn().Err(err).Int("thread_id", threadID).Msg("muted unread increment failed")
		}
		observability.IncDeferred(len(msgs))
	}
	s.invalidateUnread(ctx, delivery.ReceiverID)
	s.dispatch(delivery)

	s.publish(ctx, RoutingMessageCreated, "message_created", messageEventPayload{
		ThreadID:   threadID,
		MessageIDs: messageIDs(msgs),
		SenderID:   senderID,
		ReceiverID: delivery.ReceiverID,
		Deferred:   delivery.Deferred,
	})
	return models.ProjectAll(msgs), nil
}

// CheckSend runs every check PostMessages would run for a message with attachmentCount
// attachments, without storing anything. Callers use it before uploading attachment bytes.
func (s *Service) CheckSend(ctx context.Context, senderID, threadID int, body string, attachmentCount int) error {
	_, err := s.prepareSend(ctx, senderID, threadID, body, attachmentCount)
	return err
}

type pendingSend struct {
	thread       models.Thread
	receiver     models.ParticipantState
	receiverRole models.Role
	body         string
}

func (s *Service) prepareSend(ctx context.Context, senderID, threadID int, body string, attachmentCount int) (pendingSend, error) {
	thread, role, err := s.threadFor(ctx, senderID, threadID)
	if err != nil {
		return pendingSend{}, err
	}

	receiverRole := role.Opposite()
	receiver, err := s.threads.Participant(ctx, threadID, receiverRole)
	if err != nil {
		return pendingSend{}, mapStorageErr(err)
	}
	if receiver.Blocked {
		return pendingSend{}, apperror.Blocked()
	}

	body = strings.TrimSpace(body)
	if body == "" && attachmentCount == 0 {
		return pendingSend{}, apperror.EmptyMessage()
	}
	if err := s.checkBody(body); err != nil {
		return pendingSend{}, err
	}
	if attachmentCount > s.limits.MaxAttachments {
		return pendingSend{}, apperror.BadRequest(fmt.Sprintf("at most %d attachments per message", s.limits.MaxAttachments), nil)
	}
	return pendingSend{thread: thread, receiver: receiver, receiverRole: receiverRole, body: body}, nil
}

// EditMessage replaces the body of the requester's own live message.
func (s *Service) EditMessage(ctx context.Context, requesterID, messageID int, newBody string) (models.Message, error) {
	msg, err := s.ownMessage(ctx, requesterID, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.IsDeleted() {
		return models.Message{}, apperror.AlreadyDeleted()
	}

	newBody = strings.TrimSpace(newBody)
	if newBody == "" && msg.Attachment == nil {
		return models.Message{}, apperror.EmptyMessage()
	}
	if err := s.checkBody(newBody); err != nil {
		return models.Message{}, err
	}

	updated, err := s.messages.UpdateBody(ctx, messageID, newBody)
	if err != nil {
		return models.Message{}, mapStorageErr(err)
	}
	s.fanOutUpdate(ctx, updated, "edited")
	return updated.Projection(), nil
}

// SoftDeleteMessage marks the requester's own message deleted. Deleting twice returns the
// current state without error or events.
func (s *Service) SoftDeleteMessage(ctx context.Context, requesterID, messageID int) (models.Message, error) {
	msg, err := s.ownMessage(ctx, requesterID, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.IsDeleted() {
		return msg.Projection(), nil
	}

	deleted, err := s.messages.SoftDelete(ctx, messageID)
	if err != nil {
		return models.Message{}, mapStorageErr(err)
	}
	s.fanOutUpdate(ctx, deleted, "deleted")
	return deleted.Projection(), nil
}

// ListMessages returns the thread's messages in display order. It marks every incoming
// message read first, so the returned read_at values already reflect the view.
func (s *Service) ListMessages(ctx context.Context, requesterID, threadID int) (ThreadMessages, error) {
	thread, role, err := s.threadFor(ctx, requesterID, threadID)
	if err != nil {
		return ThreadMessages{}, err
	}

	marked, err := s.markRead(ctx, thread, requesterID, role)
	if err != nil {
		return ThreadMessages{}, err
	}
	if marked > 0 {
		s.pushUnreadTotal(ctx, requesterID)
	}

	msgs, err := s.messages.ListByThread(ctx, threadID)
	if err != nil {
		return ThreadMessages{}, mapStorageErr(err)
	}
	return ThreadMessages{Thread: thread, Role: role, Messages: models.ProjectAll(msgs)}, nil
}

// MarkThreadRead marks incoming messages read and returns the user's remaining global unread count,
// which is also pushed to all of the user's connections.
func (s *Service) MarkThreadRead(ctx context.Context, userID, threadID int) (int, error) {
	thread, role, err := s.threadFor(ctx, userID, threadID)
	if err != nil {
		return 0, err
	}
	if _, err := s.markRead(ctx, thread, userID, role); err != nil {
		return 0, err
	}
	total, err := s.unreadTotal(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.send(userID, models.NewUnreadReplaceEvent(total))
	return total, nil
}

// GlobalUnreadCount counts unread incoming messages across all of the user's threads.
func (s *Service) GlobalUnreadCount(ctx context.Context, userID int) (int, error) {
	var gen int64
	if s.cache != nil {
		count, g, ok := s.cache.Get(ctx, userID)
		if ok {
			return count, nil
		}
		gen = g
	}
	return s.countUnread(ctx, userID, gen)
}

// unreadTotal counts from storage regardless of the cache, then refreshes it.
// Totals pushed as chat:unread:replace come from here.
func (s *Service) unreadTotal(ctx context.Context, userID int) (int, error) {
	var gen int64
	if s.cache != nil {
		_, gen, _ = s.cache.Get(ctx, userID)
	}
	return s.countUnread(ctx, userID, gen)
}

func (s *Service) countUnread(ctx context.Context, userID int, gen int64) (int, error) {
	count, err := s.messages.CountUnread(ctx, userID)
	if err != nil {
		return 0, mapStorageErr(err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, userID, gen, count); err != nil {
			log.Warn().Err(err).Int("user_id", userID).Msg("unread cache set failed")
		}
	}
	return count, nil
}

// ThreadUnreadCount counts unread incoming messages in one thread.
func (s *Service) ThreadUnreadCount(ctx context.Context, userID, threadID int) (int, error) {
	if _, _, err := s.threadFor(ctx, userID, threadID); err != nil {
		return 0, err
	}
	count, err := s.messages.CountUnreadInThread(ctx, threadID, userID)
	if err != nil {
		return 0, mapStorageErr(err)
	}
	return count, nil
}

// UpdateParticipantFlags sets the caller's own archived, muted and blocked flags.
func (s *Service) UpdateParticipantFlags(ctx context.Context, userID, threadID int, flags models.ParticipantFlags) (models.ParticipantState, error) {
	if flags.Empty() {
		return models.ParticipantState{}, apperror.BadRequest("no flags to update", nil)
	}
	_, role, err := s.threadFor(ctx, userID, threadID)
	if err != nil {
		return models.ParticipantState{}, err
	}
	state, err := s.threads.SetFlags(ctx, threadID, role, flags)
	if err != nil {
		return models.ParticipantState{}, mapStorageErr(err)
	}
	return state, nil
}

// IsParticipant reports whether userID is on either side of the thread.
func (s *Service) IsParticipant(ctx context.Context, threadID, userID int) (bool, error) {
	thread, err := s.threads.Get(ctx, threadID)
	if errors.Is(err, repositories.ErrThreadNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperror.Transient(err)
	}
	_, ok := thread.RoleOf(userID)
	return ok, nil
}

func (s *Service) threadFor(ctx context.Context, userID, threadID int) (models.Thread, models.Role, error) {
	thread, err := s.threads.Get(ctx, threadID)
	if err != nil {
		return models.Thread{}, "", mapStorageErr(err)
	}
	role, ok := thread.RoleOf(userID)
	if !ok {
		return models.Thread{}, "", apperror.Forbidden("not a participant of this thread")
	}
	return thread, role, nil
}

func (s *Service) ownMessage(ctx context.Context, requesterID, messageID int) (models.Message, error) {
	msg, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return models.Message{}, mapStorageErr(err)
	}
	if msg.SenderID != requesterID {
		return models.Message{}, apperror.Forbidden("only the sender can change a message")
	}
	return msg, nil
}

func (s *Service) markRead(ctx context.Context, thread models.Thread, userID int, role models.Role) (int, error) {
	marked, err := s.messages.MarkThreadRead(ctx, thread.ID, userID)
	if err != nil {
		return 0, mapStorageErr(err)
	}
	if err := s.threads.ResetMutedUnread(ctx, thread.ID, role); err != nil {
		log.Warn().Err(err).Int("thread_id", thread.ID).Msg("muted unread reset failed")
	}
	if marked > 0 {
		s.invalidateUnread(ctx, userID)
		s.publish(ctx, RoutingThreadRead, "thread_read", readEventPayload{ThreadID: thread.ID, ReaderID: userID, Marked: marked})
	}
	return marked, nil
}

func (s *Service) fanOutUpdate(ctx context.Context, msg models.Message, action string) {
	thread, err := s.threads.Get(ctx, msg.ThreadID)
	if err != nil {
		log.Warn().Err(err).Int("message_id", msg.ID).Msg("update fan-out skipped")
		return
	}
	senderRole, _ := thread.RoleOf(msg.SenderID)
	receiver, err := s.threads.Participant(ctx, thread.ID, senderRole.Opposite())
	if err != nil {
		log.Warn().Err(err).Int("message_id", msg.ID).Msg("update fan-out skipped")
		return
	}
	delivery := RouteUpdate(thread, msg, receiver, s.isOnline(receiver.UserID))
	s.dispatch(delivery)
	s.publish(ctx, RoutingMessageUpdated, "message_"+action, messageEventPayload{
		ThreadID:   thread.ID,
		MessageIDs: []int{msg.ID},
		SenderID:   msg.SenderID,
		ReceiverID: delivery.ReceiverID,
		Action:     action,
	})
}

func (s *Service) pushUnreadTotal(ctx context.Context, userID int) {
	if s.notifier == nil || !s.isOnline(userID) {
		return
	}
	total, err := s.unreadTotal(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Int("user_id", userID).Msg("unread total push skipped")
		return
	}
	s.send(userID, models.NewUnreadReplaceEvent(total))
}

func (s *Service) invalidateUnread(ctx context.Context, userIDs ...int) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userIDs...); err != nil {
		log.Warn().Err(err).Ints("user_ids", userIDs).Msg("unread cache invalidate failed")
	}
}

func (s *Service) dispatch(d Delivery) {
	for _, p := range d.Pushes {
		s.send(p.UserID, p.Event)
	}
}

func (s *Service) dropThread(threadID int) {
	if s.notifier != nil {
		s.notifier.DropThread(threadID)
	}
}

func (s *Service) send(userID int, event models.Event) {
	if s.notifier == nil {
		return
	}
	if n := s.notifier.SendToUser(userID, event); n == 0 {
		log.Debug().Int("user_id", userID).Str("event", string(event.Type)).Msg("no live connection for push")
	}
}

func (s *Service) isOnline(userID int) bool {
	if s.presence == nil {
		return true
	}
	return s.presence.IsOnline(userID)
}

func (s *Service) checkBody(body string) error {
	if utf8.RuneCountInString(body) > s.limits.MaxMessageLength {
		return apperror.BadRequest(fmt.Sprintf("message longer than %d characters", s.limits.MaxMessageLength), nil)
	}
	return nil
}

func buildRows(body string, attachments []models.Attachment) []models.NewMessage {
	if len(attachments) == 0 {
		return []models.NewMessage{{Body: body}}
	}
	rows := make([]models.NewMessage, 0, len(attachments))
	for i := range attachments {
		att := attachments[i]
		row := models.NewMessage{Attachment: &att}
		if i == 0 {
			row.Body = body
		}
		rows = append(rows, row)
	}
	return rows
}

func mapStorageErr(err error) error {
	switch {
	case errors.Is(err, repositories.ErrThreadNotFound):
		return apperror.NotFound("thread")
	case errors.Is(err, repositories.ErrMessageNotFound):
		return apperror.NotFound("message")
	case errors.Is(err, repositories.ErrMessageDeleted):
		return apperror.AlreadyDeleted()
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperror.Transient(err)
}
