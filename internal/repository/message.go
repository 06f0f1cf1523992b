package repository

import (
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/edgebridge/gateway/internal/model"
)

type messageRow struct {
	ID         uint64 `gorm:"primarykey"`
	Channel    string
	Content    []byte
	EnqueuedAt time.Time
}

func (messageRow) TableName() string { return "outbound_messages" }

// MessageStore persists outbound platform messages until they are published.
// It backs the platform publisher, so messages queued while the platform is
// unreachable survive a gateway restart. Row IDs grow monotonically and
// define the publish order.
type MessageStore struct {
	mu sync.Mutex
	db *gorm.DB
}

// NewMessageStore migrates the message table and returns the store.
func NewMessageStore(db *gorm.DB) (*MessageStore, error) {
	if err := db.AutoMigrate(&messageRow{}); err != nil {
		return nil, err
	}
	return &MessageStore{db: db}, nil
}

// Store appends the message and returns its ID.
func (s *MessageStore) Store(msg *model.Message) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := messageRow{Channel: msg.Channel, Content: msg.Content, EnqueuedAt: time.Now().UTC()}
	if err := s.db.Create(&row).Error; err != nil {
		return 0, err
	}
	return row.ID, nil
}

// Remove deletes the message with the given ID.
func (s *MessageStore) Remove(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Delete(&messageRow{ID: id}).Error
}

// LoadAll returns every pending message in enqueue order.
func (s *MessageStore) LoadAll() ([]model.PersistedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []messageRow
	if err := s.db.Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	msgs := make([]model.PersistedMessage, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, model.PersistedMessage{
			ID:         row.ID,
			Channel:    row.Channel,
			Content:    row.Content,
			EnqueuedAt: row.EnqueuedAt,
		})
	}
	return msgs, nil
}
