package core

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"carelink/internal/db"
	"carelink/internal/llm"
	"carelink/internal/lock"
	"carelink/pkg"
)

const chatsPath = "chats"

// ChatService orchestrates the chat between a patient and the assistant and
// owns the per-patient conversation log.  The assistant sees only the latest
// message; the log is kept for the clinician's analysis.
type ChatService struct {
	LLM   llm.Completer
	Store db.Store
	Locks lock.Locker
	log   zerolog.Logger
}

// NewChatService constructs a new ChatService.
func NewChatService(client llm.Completer, store db.Store, locks lock.Locker, logger zerolog.Logger) *ChatService {
	return &ChatService{
		LLM:   client,
		Store: store,
		Locks: locks,
		log:   logger.With().Str("component", "chat").Logger(),
	}
}

// Reply generates one assistant turn for message.
func (s *ChatService) Reply(ctx context.Context, message string) (string, error) {
	resp, err := s.LLM.Complete(ctx, fmt.Sprintf(AssistantPrompt, message))
	if err != nil {
		return "", upstream("assistant reply", err)
	}
	return resp, nil
}

// PostMessage records one patient message and the assistant reply, and
// returns the reply.  The log is rewritten as a whole, so writers for the
// same patient are serialised through the locker.
func (s *ChatService) PostMessage(ctx context.Context, uid, text string) (string, error) {
	message := Sanitize(text)
	if message == "" {
		return "", invalid("Message cannot be empty")
	}
	reply, err := s.Reply(ctx, message)
	if err != nil {
		return "", err
	}

	release, err := s.Locks.Acquire(ctx, "chat:"+uid)
	if err != nil {
		return "", upstream("lock conversation", err)
	}
	defer release()

	history, err := s.History(ctx, uid)
	if err != nil {
		return "", err
	}
	history = append(history, pkg.Turn{User: message, AI: reply})
	if err := s.Store.Set(ctx, db.Join(chatsPath, uid), history); err != nil {
		return "", upstream("write conversation", err)
	}
	s.log.Debug().Str("patient_uid", uid).Int("turns", len(history)).Msg("conversation turn stored")
	return reply, nil
}

// History returns the conversation log of uid, oldest turn first.  It is
// never nil.
func (s *ChatService) History(ctx context.Context, uid string) ([]pkg.Turn, error) {
	raw, err := s.Store.Get(ctx, db.Join(chatsPath, uid))
	if err != nil {
		return nil, upstream("read conversation", err)
	}
	turns, err := decodeItems[pkg.Turn](raw)
	if err != nil {
		return nil, upstream("decode conversation", err)
	}
	return turns, nil
}
