package session

import "context"

// Sink delivers text to the conversation a message arrived from. Send
// returns an identifier the caller can use to edit or delete the message
// later, which is how the progress indicator updates itself in place.
type Sink interface {
	Send(ctx context.Context, chatID int64, text string) (messageID int, err error)
	Edit(ctx context.Context, chatID int64, messageID int, text string) error
	Delete(ctx context.Context, chatID int64, messageID int) error
}
