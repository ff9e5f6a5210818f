// README: Notification stores: PostgreSQL for deployments, memory for tests and local runs.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"rideflow/internal/types"
)

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	ListForReceiver(ctx context.Context, receiverID types.ID, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, id, receiverID types.ID) error
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, n *Notification) error {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO notifications (id, sender_id, receiver_id, title, message, type, data, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(n.ID), string(n.SenderID), string(n.ReceiverID), n.Title, n.Message, string(n.Type),
		string(data), n.Read, n.CreatedAt,
	)
	return err
}

func (s *Store) ListForReceiver(ctx context.Context, receiverID types.ID, limit int) ([]Notification, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, sender_id, receiver_id, title, message, type, data, read, created_at
		FROM notifications
		WHERE receiver_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, string(receiverID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		var data []byte
		if err := rows.Scan(&n.ID, &n.SenderID, &n.ReceiverID, &n.Title, &n.Message, &n.Type, &data, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &n.Data); err != nil {
				return nil, fmt.Errorf("decode notification data: %w", err)
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) MarkRead(ctx context.Context, id, receiverID types.ID) error {
	tag, err := s.db.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1 AND receiver_id = $2`,
		string(id), string(receiverID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type MemoryStore struct {
	mu    sync.Mutex
	items []Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Create(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, *n)
	return nil
}

func (m *MemoryStore) ListForReceiver(_ context.Context, receiverID types.ID, limit int) ([]Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Notification
	for i := len(m.items) - 1; i >= 0 && len(out) < limit; i-- {
		if m.items[i].ReceiverID == receiverID {
			out = append(out, m.items[i])
		}
	}
	return out, nil
}

func (m *MemoryStore) MarkRead(_ context.Context, id, receiverID types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].ID == id && m.items[i].ReceiverID == receiverID {
			m.items[i].Read = true
			return nil
		}
	}
	return ErrNotFound
}
