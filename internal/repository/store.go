package repository

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// PayloadMap stores the free-form notification payload as jsonb.
type PayloadMap map[string]string

func (p PayloadMap) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

func (p *PayloadMap) Scan(src interface{}) error {
	if src == nil {
		*p = nil
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported payload column type %T", src)
	}
	return json.Unmarshal(raw, p)
}

// Notification mirrors the notifications table maintained by the backend
// application. The dispatcher only reads pending rows and flips sent.
type Notification struct {
	ID      string     `gorm:"primaryKey;column:id"`
	UserID  string     `gorm:"column:user_id"`
	Title   string     `gorm:"column:title"`
	Body    string     `gorm:"column:body"`
	Action  string     `gorm:"column:action"`
	Payload PayloadMap `gorm:"column:payload;type:jsonb"`
	Sent    bool       `gorm:"column:sent"`
}

// User carries the registered device tokens for one account. Tokens are
// registered and revoked by the mobile client; this service never writes them.
type User struct {
	ID        string         `gorm:"primaryKey;column:id"`
	FCMTokens pq.StringArray `gorm:"column:fcm_tokens;type:text[]"`
}

// Store wraps the shared postgres database behind the two read views and one
// idempotent write the dispatch path needs.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// FetchUnsent returns every notification not yet marked sent, oldest id first.
func (s *Store) FetchUnsent(ctx context.Context) ([]Notification, error) {
	var rows []Notification
	err := s.db.WithContext(ctx).
		Where("sent = ?", false).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// DeviceTokens returns the FCM tokens registered for the user.
func (s *Store) DeviceTokens(ctx context.Context, userID string) ([]string, error) {
	var user User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		return nil, err
	}
	return []string(user.FCMTokens), nil
}

// MarkSent flips the sent flag for one notification. The update is keyed by
// id and safe to repeat; marking an already-sent row is a no-op.
func (s *Store) MarkSent(ctx context.Context, notiID string) error {
	return s.db.WithContext(ctx).
		Model(&Notification{}).
		Where("id = ?", notiID).
		Update("sent", true).Error
}
