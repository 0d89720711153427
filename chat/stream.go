package chat

import (
	"context"

	"parley/storage"
)

// Update is one step of a streamed reply. Content is the text accumulated
// so far and Delta the part added by this step. The last update of a stream
// carries a terminal status.
type Update struct {
	MessageID string
	StreamID  string
	Content   string
	Delta     string
	Status    storage.MessageStatus
}

// Stream is a reply in progress.
type Stream struct {
	id        string
	chatID    string
	messageID string

	updates chan Update
	done    chan struct{}

	msg *storage.Message
	err error
}

func newStream(id, chatID, messageID string) *Stream {
	return &Stream{
		id:        id,
		chatID:    chatID,
		messageID: messageID,
		updates:   make(chan Update, 16),
		done:      make(chan struct{}),
	}
}

// ID is the stream identifier accepted by Service.Stop.
func (s *Stream) ID() string { return s.id }

// ChatID is the chat the reply belongs to. For a new chat this is the ID
// it was created with.
func (s *Stream) ChatID() string { return s.chatID }

// MessageID is the ID the assistant message is persisted under.
func (s *Stream) MessageID() string { return s.messageID }

// Updates delivers progress in the order the provider produced it. The
// channel is closed after the terminal update. Callers must drain it or
// call Wait, otherwise the stream stalls.
func (s *Stream) Updates() <-chan Update { return s.updates }

// Wait blocks until the stream is finished and persisted. Updates not yet
// received are discarded. A stopped stream is not an error: its message is
// returned with status stopped. The message is nil when nothing was saved.
func (s *Stream) Wait() (*storage.Message, error) {
	for range s.updates {
	}
	<-s.done
	return s.msg, s.err
}

// progress delivers a streaming update unless ctx ends first.
func (s *Stream) progress(ctx context.Context, u Update) {
	u.MessageID = s.messageID
	u.StreamID = s.id
	select {
	case s.updates <- u:
	case <-ctx.Done():
	}
}

func (s *Stream) finish(final Update, msg *storage.Message, err error) {
	final.MessageID = s.messageID
	final.StreamID = s.id
	s.updates <- final

	s.msg = msg
	s.err = err
	close(s.updates)
	close(s.done)
}
