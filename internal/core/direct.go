package core

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"carelink/internal/db"
	"carelink/pkg"
)

const directMessagesPath = "direct_messages"

// ThreadService is the shared inbox between a patient and their doctor.  Both
// directions live under the patient's uid.
type ThreadService struct {
	store   db.Store
	linkage *LinkageResolver
	log     zerolog.Logger
}

func NewThreadService(store db.Store, linkage *LinkageResolver, logger zerolog.Logger) *ThreadService {
	return &ThreadService{store: store, linkage: linkage, log: logger.With().Str("component", "thread").Logger()}
}

// Send appends a message from senderUID to patientUID's thread.  The
// timestamp is assigned by the store.
func (s *ThreadService) Send(ctx context.Context, senderUID, patientUID, text string) error {
	message := Sanitize(text)
	if message == "" {
		return invalid("Message cannot be empty")
	}
	_, err := s.store.Push(ctx, db.Join(directMessagesPath, patientUID), map[string]any{
		"from":      senderUID,
		"message":   message,
		"timestamp": db.ServerTimestamp,
	})
	if err != nil {
		return upstream("push direct message", err)
	}
	return nil
}

// SendToDoctor is the patient side of Send; it requires a linked doctor.
func (s *ThreadService) SendToDoctor(ctx context.Context, patientUID, text string) error {
	if Sanitize(text) == "" {
		return invalid("Message cannot be empty")
	}
	p, err := s.linkage.Patient(ctx, patientUID)
	if err != nil {
		return err
	}
	if p == nil || p.LinkedDoctorUID == "" {
		return ErrNoLinkedDoctor
	}
	return s.Send(ctx, patientUID, patientUID, text)
}

type wireMessage struct {
	From      string          `json:"from"`
	Message   string          `json:"message"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// List returns patientUID's thread sorted by timestamp, oldest first.
// Messages without a numeric timestamp sort as 0.
func (s *ThreadService) List(ctx context.Context, patientUID string) ([]pkg.DirectMessage, error) {
	raw, err := s.store.Get(ctx, db.Join(directMessagesPath, patientUID))
	if err != nil {
		return nil, upstream("read direct messages", err)
	}
	wire, err := decodeItems[wireMessage](raw)
	if err != nil {
		return nil, upstream("decode direct messages", err)
	}
	messages := lo.Map(wire, func(m wireMessage, _ int) pkg.DirectMessage {
		var ts float64
		if json.Unmarshal(m.Timestamp, &ts) != nil {
			ts = 0
		}
		return pkg.DirectMessage{From: m.From, Message: m.Message, Timestamp: int64(ts)}
	})
	sort.SliceStable(messages, func(i, j int) bool { return messages[i].Timestamp < messages[j].Timestamp })
	return messages, nil
}
