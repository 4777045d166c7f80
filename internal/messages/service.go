// Package messages persists user notifications and pushes them to live
// connections. Rows are written first; push is best effort.
package messages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"sleepd/internal/calendar"
	"sleepd/internal/delivery"
	"sleepd/internal/storage"
	"sleepd/pkg/clock"
	logx "sleepd/pkg/logx"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Store is the persistence the service needs.
type Store interface {
	InsertMessage(ctx context.Context, m storage.Message) error
	GetMessage(ctx context.Context, id string) (storage.Message, error)
	ListMessages(ctx context.Context, q storage.MessageQuery) ([]storage.Message, int, error)
	MarkRead(ctx context.Context, userID string, ids []string, at time.Time) (int, error)
	CountUnread(ctx context.Context, userID string, kinds ...string) (int, error)
	DeleteMessage(ctx context.Context, userID, id string) error
	CountBulk(ctx context.Context, userID string, f storage.BulkFilter) (int, error)
	DeleteBulk(ctx context.Context, userID string, f storage.BulkFilter) (int, error)
}

// AnnouncementKinds are listed by List and counted by UnreadCount.
var AnnouncementKinds = []string{storage.KindText, storage.KindSystem, storage.KindSummary}

// ChatKinds are listed by ChatLog.
var ChatKinds = []string{storage.KindMessage, storage.KindReply}

type Service struct {
	store Store
	push  delivery.Deliverer
	log   logx.Logger
	clk   clock.Clock
	loc   *time.Location
}

type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clk = c
		}
	}
}

// WithLocation sets the zone used to derive day keys.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// New builds the service. push may be nil, in which case messages are
// only persisted.
func New(store Store, push delivery.Deliverer, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{store: store, push: push, log: log, clk: clock.Real(), loc: time.Local}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SendText persists an announcement and pushes it as message:text.
func (s *Service) SendText(ctx context.Context, userID, content string) (storage.Message, error) {
	return s.send(ctx, userID, storage.KindText, "", content, false, delivery.EventText)
}

// SendReply persists an assistant reply and pushes it as chat:reply.
func (s *Service) SendReply(ctx context.Context, userID, content string) (storage.Message, error) {
	return s.send(ctx, userID, storage.KindReply, "", content, false, delivery.EventChatOut)
}

// SaveUserMessage persists a message the user wrote and echoes it to the
// user's other connections as chat:message.
func (s *Service) SaveUserMessage(ctx context.Context, userID, content string) (storage.Message, error) {
	return s.send(ctx, userID, storage.KindMessage, "", content, false, delivery.EventChatIn)
}

// SendSystemAlert persists at most one system alert per user per day.
// A second alert on the same day returns storage.ErrDuplicate and pushes
// nothing.
func (s *Service) SendSystemAlert(ctx context.Context, userID, title, content string) (storage.Message, error) {
	return s.send(ctx, userID, storage.KindSystem, title, content, true, delivery.EventSchedule)
}

// SendWeeklySummary is SendSystemAlert for the weekly summary kind.
func (s *Service) SendWeeklySummary(ctx context.Context, userID, title, content string) (storage.Message, error) {
	return s.send(ctx, userID, storage.KindSummary, title, content, true, delivery.EventSchedule)
}

func (s *Service) send(ctx context.Context, userID, kind, title, content string, dedup bool, event string) (storage.Message, error) {
	content = strings.TrimSpace(content)
	if strings.TrimSpace(userID) == "" {
		return storage.Message{}, errors.New("user id required")
	}
	if content == "" {
		return storage.Message{}, errors.New("content required")
	}
	now := s.clk.Now().In(s.loc)
	m := storage.Message{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      kind,
		Title:     title,
		Content:   content,
		DayKey:    calendar.DayKey(now),
		CreatedAt: now,
	}
	if dedup {
		m.DedupKey = kind + ":" + m.DayKey
	}
	if err := s.store.InsertMessage(ctx, m); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return storage.Message{}, err
		}
		return storage.Message{}, fmt.Errorf("persist %s message: %w", kind, err)
	}
	s.Push(userID, delivery.Payload{
		Kind:      kind,
		Title:     title,
		Message:   content,
		Timestamp: now,
		MessageID: m.ID,
	}, event)
	return m, nil
}

// Push delivers a frame without persisting anything.
func (s *Service) Push(userID string, p delivery.Payload, event string) {
	if s.push == nil {
		return
	}
	n := s.push.Deliver(userID, p, event)
	s.log.Debug("pushed", logx.UserID(userID), logx.String("event", event), logx.String("kind", p.Kind), logx.Int("conns", n))
}

type ListOptions struct {
	Page     int       // 1-based, default 1
	PageSize int       // default 20, max 100
	Since    time.Time // exclusive; zero means no bound
}

type ListResult struct {
	Messages []storage.Message `json:"messages"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"pageSize"`
}

func (o ListOptions) normalize() (page, size int) {
	page = o.Page
	if page < 1 {
		page = 1
	}
	size = o.PageSize
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}

// List returns announcements newest first and marks the fetched unread
// ones as read. The returned rows show the state before marking.
func (s *Service) List(ctx context.Context, userID string, opts ListOptions) (ListResult, error) {
	return s.list(ctx, userID, AnnouncementKinds, true, opts)
}

// ChatLog returns the chat history oldest first and marks the fetched
// unread messages as read.
func (s *Service) ChatLog(ctx context.Context, userID string, opts ListOptions) (ListResult, error) {
	return s.list(ctx, userID, ChatKinds, false, opts)
}

func (s *Service) list(ctx context.Context, userID string, kinds []string, newest bool, opts ListOptions) (ListResult, error) {
	page, size := opts.normalize()
	msgs, total, err := s.store.ListMessages(ctx, storage.MessageQuery{
		UserID:      userID,
		Kinds:       kinds,
		Since:       opts.Since,
		Offset:      (page - 1) * size,
		Limit:       size,
		NewestFirst: newest,
	})
	if err != nil {
		return ListResult{}, err
	}
	var unread []string
	for _, m := range msgs {
		if !m.IsRead {
			unread = append(unread, m.ID)
		}
	}
	if len(unread) > 0 {
		if _, err := s.store.MarkRead(ctx, userID, unread, s.clk.Now()); err != nil {
			s.log.Warn("mark fetched read failed", logx.UserID(userID), logx.Err(err))
		}
	}
	if msgs == nil {
		msgs = []storage.Message{}
	}
	return ListResult{Messages: msgs, Total: total, Page: page, PageSize: size}, nil
}

// MarkAsRead marks one of the user's messages read and returns it.
func (s *Service) MarkAsRead(ctx context.Context, userID, id string) (storage.Message, error) {
	m, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return storage.Message{}, err
	}
	if m.UserID != userID {
		return storage.Message{}, storage.ErrNotFound
	}
	if _, err := s.store.MarkRead(ctx, userID, []string{id}, s.clk.Now()); err != nil {
		return storage.Message{}, err
	}
	return s.store.GetMessage(ctx, id)
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.store.CountUnread(ctx, userID, AnnouncementKinds...)
}

func (s *Service) Delete(ctx context.Context, userID, id string) error {
	return s.store.DeleteMessage(ctx, userID, id)
}

// BulkCount previews how many announcements BulkDelete would remove.
func (s *Service) BulkCount(ctx context.Context, userID string, f storage.BulkFilter) (int, error) {
	return s.store.CountBulk(ctx, userID, f)
}

func (s *Service) BulkDelete(ctx context.Context, userID string, f storage.BulkFilter) (int, error) {
	n, err := s.store.DeleteBulk(ctx, userID, f)
	if err == nil && n > 0 {
		s.log.Info("messages deleted", logx.UserID(userID), logx.Int("count", n))
	}
	return n, err
}
