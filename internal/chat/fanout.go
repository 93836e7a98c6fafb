package chat

import "storefront-chat/internal/models"

// Push is one realtime event addressed to every connection of a user.
type Push struct {
	UserID int
	Event  models.Event
}

// Delivery is the routing decision for a stored message change.
type Delivery struct {
	ReceiverID int
	Pushes     []Push
	// Deferred is set when the receiver muted the thread; the caller books the
	// messages against the receiver's muted_unread counter instead of pushing.
	Deferred bool
}

// PushesFor returns the events addressed to userID.
func (d Delivery) PushesFor(userID int) []models.Event {
	var events []models.Event
	for _, p := range d.Pushes {
		if p.UserID == userID {
			events = append(events, p.Event)
		}
	}
	return events
}

// RouteNewMessages decides delivery for messages just stored in thread by senderID.
// The sender always gets an ack. The receiver gets the messages plus an unread delta unless
// they muted the thread, and only while they have a live connection.
func RouteNewMessages(thread models.Thread, senderID int, receiver models.ParticipantState, receiverOnline bool, msgs []models.Message) Delivery {
	d := Delivery{ReceiverID: thread.Counterpart(senderID)}
	if len(msgs) == 0 {
		return d
	}
	d.Pushes = append(d.Pushes, Push{UserID: senderID, Event: models.NewAckEvent(thread.ID, msgs)})

	if receiver.Muted {
		d.Deferred = true
		return d
	}
	if receiverOnline {
		d.Pushes = append(d.Pushes,
			Push{UserID: d.ReceiverID, Event: models.NewMessageEvent(thread.ID, msgs)},
			Push{UserID: d.ReceiverID, Event: models.NewUnreadDeltaEvent(thread.ID, len(msgs))},
		)
	}
	return d
}

// RouteUpdate decides delivery for an edited or deleted message. Both sides get the projection,
// except a receiver who muted the thread.
func RouteUpdate(thread models.Thread, msg models.Message, receiver models.ParticipantState, receiverOnline bool) Delivery {
	d := Delivery{ReceiverID: thread.Counterpart(msg.SenderID)}
	event := models.NewMessageUpdateEvent(msg)
	d.Pushes = append(d.Pushes, Push{UserID: msg.SenderID, Event: event})
	if receiver.Muted {
		return d
	}
	if receiverOnline {
		d.Pushes = append(d.Pushes, Push{UserID: d.ReceiverID, Event: event})
	}
	return d
}
