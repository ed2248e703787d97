package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/ThenChiefGuy/Habibi-Connection/internal/apperr"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/conversation"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/events"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/feed"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/metrics"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/models"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/repository"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/storage"
)

const (
	ImagePlaceholder = "[Image]"
	replyPreviewLen  = 30
	maxEmojiBytes    = 16
	maxTextRunes     = 4000
)

// SendRequest is a new message. Image is either a data URL, which is moved
// into blob storage, or a media reference returned by an earlier upload.
type SendRequest struct {
	Text    string `json:"text"`
	Image   string `json:"image,omitempty"`
	ReplyTo string `json:"replyTo,omitempty"`
}

type MessageService struct {
	store  repository.MessageStore
	users  repository.UserStore
	bus    events.Publisher
	images *storage.Images
	policy *bluemonday.Policy
	log    *zap.Logger
	now    func() time.Time
}

// NewMessageService wires message actions. images may be nil, in which case
// messages with images are rejected.
func NewMessageService(store repository.MessageStore, users repository.UserStore, bus events.Publisher, images *storage.Images, log *zap.Logger) *MessageService {
	return &MessageService{
		store:  store,
		users:  users,
		bus:    bus,
		images: images,
		policy: bluemonday.StrictPolicy(),
		log:    log,
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

// clean strips markup from user text. Entities are decoded again so stored
// text stays plain.
func (s *MessageService) clean(text string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(strings.TrimSpace(text))))
}

func (s *MessageService) publish(ctx context.Context, coll string, op events.Op, m *models.Message) {
	c := events.Change{Collection: coll, Op: op, ID: m.ID, ChatID: m.ChatID, At: s.now()}
	if err := s.bus.Publish(ctx, c); err != nil {
		s.log.Warn("publish change failed", zap.String("collection", coll), zap.String("id", m.ID), zap.Error(err))
	}
}

func checkTarget(op string, t conversation.Target) error {
	if !t.Valid() {
		return apperr.Invalid(op, "invalid conversation peer")
	}
	return nil
}

// scoped loads a message of t that self may see. Messages of other
// conversations are reported as missing.
func (s *MessageService) scoped(ctx context.Context, op, self string, t conversation.Target, id string) (*models.Message, error) {
	if err := checkTarget(op, t); err != nil {
		return nil, err
	}
	m, err := s.store.GetMessage(ctx, t.Collection(), id)
	if err != nil {
		return nil, err
	}
	if !t.Contains(self, m) {
		return nil, apperr.NotFound(op, "message not found")
	}
	return m, nil
}

// Send stores a new message. Whitespace-only text without an image is a
// no-op and returns nil, nil.
func (s *MessageService) Send(ctx context.Context, self string, t conversation.Target, req SendRequest) (msg *models.Message, err error) {
	const op = "service.Send"
	defer func() { metrics.Observe("send", err) }()

	if err := checkTarget(op, t); err != nil {
		return nil, err
	}
	text := s.clean(req.Text)
	image := strings.TrimSpace(req.Image)
	if text == "" && image == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(text) > maxTextRunes {
		return nil, apperr.Invalid(op, "message is too long")
	}

	m := &models.Message{
		ID:        uuid.NewString(),
		Text:      text,
		Sender:    self,
		Timestamp: s.now(),
		Reactions: map[string][]string{},
	}
	if !t.IsPublic() {
		m.Participants = []string{self, t.Peer()}
		m.ChatID = t.ChatID(self)
	}

	if req.ReplyTo != "" {
		parent, err := s.scoped(ctx, op, self, t, req.ReplyTo)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return nil, apperr.Invalid(op, "replied message is not in this conversation")
			}
			return nil, err
		}
		m.ReplyTo = parent.ID
		m.ReplyText = replyPreview(parent.Text)
		m.ReplySender = s.displayName(ctx, parent.Sender)
	}

	if image != "" {
		ref, err := s.storeImage(ctx, op, self, image)
		if err != nil {
			return nil, err
		}
		m.Image = ref
		if m.Text == "" {
			m.Text = ImagePlaceholder
		}
	}

	if err := s.store.InsertMessage(ctx, t.Collection(), m); err != nil {
		return nil, err
	}
	s.publish(ctx, t.Collection(), events.OpInsert, m)
	return m, nil
}

func (s *MessageService) storeImage(ctx context.Context, op, self, image string) (string, error) {
	if s.images == nil {
		return "", apperr.Invalid(op, "image uploads are disabled")
	}
	if s.images.IsReference(image) {
		if !s.images.OwnedBy(image, self) {
			return "", apperr.Invalid(op, "image belongs to another user")
		}
		return image, nil
	}
	if !strings.HasPrefix(image, "data:") {
		return "", apperr.Invalid(op, "image must be an uploaded media reference or a data URL")
	}
	img, err := s.images.SaveDataURL(ctx, self, image)
	if err != nil {
		return "", imageError(op, err)
	}
	return img.URL, nil
}

func imageError(op string, err error) error {
	if errors.Is(err, storage.ErrInvalidFile) {
		return apperr.Invalid(op, err.Error())
	}
	return apperr.Transient(op, err)
}

func replyPreview(text string) string {
	r := []rune(text)
	if len(r) <= replyPreviewLen {
		return text
	}
	return string(r[:replyPreviewLen]) + "..."
}

func (s *MessageService) displayName(ctx context.Context, id string) string {
	u, err := s.users.GetUser(ctx, id)
	if err != nil || u.Name == "" {
		return feed.UnknownSender
	}
	return u.Name
}

// Edit replaces the text of a message self sent. The timestamp is kept.
func (s *MessageService) Edit(ctx context.Context, self string, t conversation.Target, id, text string) (msg *models.Message, err error) {
	const op = "service.Edit"
	defer func() { metrics.Observe("edit", err) }()

	text = s.clean(text)
	if text == "" {
		return nil, apperr.Invalid(op, "message text is required")
	}
	if utf8.RuneCountInString(text) > maxTextRunes {
		return nil, apperr.Invalid(op, "message is too long")
	}
	if _, err := s.scoped(ctx, op, self, t, id); err != nil {
		return nil, err
	}
	m, err := s.store.UpdateText(ctx, t.Collection(), id, self, text)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, t.Collection(), events.OpUpdate, m)
	return m, nil
}

// Delete removes a message self sent. There is no undo.
func (s *MessageService) Delete(ctx context.Context, self string, t conversation.Target, id string) (err error) {
	const op = "service.Delete"
	defer func() { metrics.Observe("delete", err) }()

	if _, err := s.scoped(ctx, op, self, t, id); err != nil {
		return err
	}
	m, err := s.store.DeleteOwned(ctx, t.Collection(), id, self)
	if err != nil {
		return err
	}
	s.publish(ctx, t.Collection(), events.OpDelete, m)
	return nil
}

func validEmoji(e string) bool {
	return e != "" && len(e) <= maxEmojiBytes && utf8.ValidString(e) &&
		!strings.ContainsAny(e, ".$ \t\n")
}

// React toggles self in the reaction set of emoji.
func (s *MessageService) React(ctx context.Context, self string, t conversation.Target, id, emoji string) (msg *models.Message, err error) {
	const op = "service.React"
	defer func() { metrics.Observe("react", err) }()

	if !validEmoji(emoji) {
		return nil, apperr.Invalid(op, "invalid emoji")
	}
	if _, err := s.scoped(ctx, op, self, t, id); err != nil {
		return nil, err
	}
	m, err := s.store.ToggleReaction(ctx, t.Collection(), id, emoji, self)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, t.Collection(), events.OpUpdate, m)
	return m, nil
}

// TogglePin flips isPinned. Anyone in the conversation may pin.
func (s *MessageService) TogglePin(ctx context.Context, self string, t conversation.Target, id string) (msg *models.Message, err error) {
	const op = "service.TogglePin"
	defer func() { metrics.Observe("pin", err) }()

	if _, err := s.scoped(ctx, op, self, t, id); err != nil {
		return nil, err
	}
	m, err := s.store.TogglePinned(ctx, t.Collection(), id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, t.Collection(), events.OpUpdate, m)
	return m, nil
}

// MarkRead flips isRead on every unread message peer sent to self. It
// returns the number of messages changed.
func (s *MessageService) MarkRead(ctx context.Context, self string, t conversation.Target) (n int64, err error) {
	const op = "service.MarkRead"
	if t.IsPublic() {
		return 0, apperr.Invalid(op, "read receipts only exist in private conversations")
	}
	if err := checkTarget(op, t); err != nil {
		return 0, err
	}
	n, err = s.store.MarkRead(ctx, t.ChatID(self), t.Peer())
	if err != nil {
		metrics.Observe("mark_read", err)
		return 0, err
	}
	if n > 0 {
		metrics.Observe("mark_read", nil)
		s.publish(ctx, conversation.PrivateCollection, events.OpUpdate, &models.Message{ChatID: t.ChatID(self)})
	}
	return n, nil
}

// History returns the reconciled conversation, oldest first.
func (s *MessageService) History(ctx context.Context, self string, t conversation.Target) ([]models.FeedMessage, error) {
	if err := checkTarget("service.History", t); err != nil {
		return nil, err
	}
	return feed.NewSource(s.store, s.users, feed.Focused(self, t)).Load(ctx)
}

// Search is History narrowed to messages whose text or resolved sender name
// contains q. An empty q returns the whole history.
func (s *MessageService) Search(ctx context.Context, self string, t conversation.Target, q string) ([]models.FeedMessage, error) {
	q = strings.TrimSpace(q)
	msgs, err := s.History(ctx, self, t)
	if err != nil || q == "" {
		return msgs, err
	}
	out := msgs[:0]
	for _, m := range msgs {
		if repository.ContainsFold(m.Text, q) || repository.ContainsFold(m.SenderName, q) {
			out = append(out, m)
		}
	}
	return out, nil
}

// Pinned returns the pinned messages of a conversation, newest first.
func (s *MessageService) Pinned(ctx context.Context, self string, t conversation.Target) ([]models.FeedMessage, error) {
	if err := checkTarget("service.Pinned", t); err != nil {
		return nil, err
	}
	return feed.NewSource(s.store, s.users, feed.Pinned(self, t)).Load(ctx)
}

type ExportMeta struct {
	Type       string    `json:"type"`
	With       string    `json:"with"`
	ExportedAt time.Time `json:"exportedAt"`
}

type ExportedMessage struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Image     bool      `json:"image"`
}

type Export struct {
	Meta     ExportMeta        `json:"meta"`
	Messages []ExportedMessage `json:"messages"`
}

// Filename is the suggested download name, e.g. chat_public_2024-05-01.json.
func (e *Export) Filename() string {
	name := "public"
	if e.Meta.Type == "private" {
		name = strings.Map(func(r rune) rune {
			if r == '/' || r == '\\' || r == '"' || r < ' ' {
				return '_'
			}
			return r
		}, e.Meta.With)
	}
	return fmt.Sprintf("chat_%s_%s.json", name, e.Meta.ExportedAt.Format("2006-01-02"))
}

func (s *MessageService) Export(ctx context.Context, self string, t conversation.Target) (*Export, error) {
	msgs, err := s.History(ctx, self, t)
	if err != nil {
		return nil, err
	}
	out := &Export{
		Meta:     ExportMeta{Type: "public", With: "Public Chat", ExportedAt: s.now()},
		Messages: make([]ExportedMessage, 0, len(msgs)),
	}
	if !t.IsPublic() {
		out.Meta.Type = "private"
		out.Meta.With = s.displayName(ctx, t.Peer())
	}
	for _, m := range msgs {
		out.Messages = append(out.Messages, ExportedMessage{
			Sender:    m.SenderName,
			Text:      m.Text,
			Timestamp: m.Timestamp,
			Image:     m.Image != "",
		})
	}
	metrics.Observe("export", nil)
	return out, nil
}
