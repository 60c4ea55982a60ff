package audit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/heimdall-labs/heimdall/internal/models"
)

var (
	ErrTailConflict  = errors.New("audit chain tail does not match expected prev hash")
	ErrEntryNotFound = errors.New("audit entry not found")
)

// Store persists the hash-chained audit log. Appends are serialized through a
// single writer lock: two concurrent appends racing on PrevHash would fork
// the chain.
type Store struct {
	db *gorm.DB
	mu sync.Mutex
}

// NewStore returns a Store using the provided DB.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// QueryFilters narrows Query results. Zero values are ignored.
type QueryFilters struct {
	EventTypes []models.EventType
	UserID     string
	UserEmail  string
	Resource   string
	Result     models.Result
	Severity   models.Severity
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
	Offset     int
	Ascending  bool
}

// TailHash returns the hash of the newest entry, or the genesis constant for
// an empty chain.
func (s *Store) TailHash() (string, error) {
	var tail models.AuditEntry
	err := s.db.Order("seq desc").First(&tail).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return GenesisHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("load chain tail: %w", err)
	}
	return tail.Hash, nil
}

// AppendIfTail links the entry to the current tail and inserts it, but only
// when the tail hash still equals expectedPrevHash. Callers retry on
// ErrTailConflict. The entry's PrevHash and Hash are filled in here; ID and
// Timestamp get defaults when unset.
func (s *Store) AppendIfTail(e *models.AuditEntry, expectedPrevHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		var tail models.AuditEntry
		tailHash := GenesisHash
		err := tx.Order("seq desc").First(&tail).Error
		if err == nil {
			tailHash = tail.Hash
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("load chain tail: %w", err)
		}

		if tailHash != expectedPrevHash {
			return ErrTailConflict
		}

		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now().UTC()
		}
		e.PrevHash = expectedPrevHash

		hash, err := EntryHash(e)
		if err != nil {
			return err
		}
		e.Hash = hash

		if err := tx.Create(e).Error; err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}
		return nil
	})
}

// Append links the entry to whatever the tail currently is. The writer lock
// makes the read-tail-then-insert atomic with respect to other appenders on
// this Store, so it cannot conflict with itself.
func (s *Store) Append(e *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		var tail models.AuditEntry
		prevHash := GenesisHash
		err := tx.Order("seq desc").First(&tail).Error
		if err == nil {
			prevHash = tail.Hash
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("load chain tail: %w", err)
		}

		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now().UTC()
		}
		e.PrevHash = prevHash

		hash, err := EntryHash(e)
		if err != nil {
			return err
		}
		e.Hash = hash

		if err := tx.Create(e).Error; err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}
		return nil
	})
}

// Query returns matching entries plus the total count before limit/offset.
func (s *Store) Query(f QueryFilters) ([]models.AuditEntry, int64, error) {
	q := s.db.Model(&models.AuditEntry{})

	if len(f.EventTypes) > 0 {
		q = q.Where("event_type IN ?", f.EventTypes)
	}
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.UserEmail != "" {
		q = q.Where("user_email = ?", f.UserEmail)
	}
	if f.Resource != "" {
		q = q.Where("resource = ?", f.Resource)
	}
	if f.Result != "" {
		q = q.Where("result = ?", f.Result)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	if !f.StartTime.IsZero() {
		q = q.Where("timestamp >= ?", f.StartTime)
	}
	if !f.EndTime.IsZero() {
		q = q.Where("timestamp <= ?", f.EndTime)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	order := "seq desc"
	if f.Ascending {
		order = "seq asc"
	}
	q = q.Order(order)

	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var entries []models.AuditEntry
	if err := q.Find(&entries).Error; err != nil {
		return nil, 0, fmt.Errorf("query audit entries: %w", err)
	}
	return entries, total, nil
}

// GetByID fetches a single entry.
func (s *Store) GetByID(id string) (*models.AuditEntry, error) {
	var e models.AuditEntry
	if err := s.db.Where("id = ?", id).First(&e).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("get audit entry: %w", err)
	}
	return &e, nil
}

// Range returns entries between start and end in chain order, for
// verification passes.
func (s *Store) Range(start, end time.Time, limit int) ([]models.AuditEntry, error) {
	entries, _, err := s.Query(QueryFilters{
		StartTime: start,
		EndTime:   end,
		Limit:     limit,
		Ascending: true,
	})
	return entries, err
}
