// Package audit provides the tamper-evident, hash-chained audit trail.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/venuetap/venuetap/pkg/errs"
	"github.com/venuetap/venuetap/pkg/metrics"
	"github.com/venuetap/venuetap/pkg/models"
)

// Entry is the input for one audit record. ActorID defaults to the system
// sentinel when left empty.
type Entry struct {
	ActionType   string
	ActorID      string
	ActorRole    string
	ResourceType string
	ResourceID   string
	Changes      map[string]interface{}
	IPAddress    string
}

// Sink is the narrow port business services append through, keeping the
// chain implementation swappable and independently testable.
type Sink interface {
	Append(ctx context.Context, entry Entry) error
}

// TrailFilter selects a page of the audit trail.
type TrailFilter struct {
	ResourceID string
	ActionType string
	Limit      int
	Offset     int
}

// Service implements the hash-chained audit log over the relational store.
type Service struct {
	db          *gorm.DB
	logger      *zap.Logger
	maxPageSize int

	// mu is the single global ordering point: the read-latest-hash then
	// append sequence must never interleave, or two entries would share a
	// previous hash and fork the chain.
	mu sync.Mutex
}

// NewService creates a new audit service.
func NewService(db *gorm.DB, logger *zap.Logger, maxPageSize int) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if maxPageSize <= 0 {
		maxPageSize = 200
	}
	return &Service{db: db, logger: logger, maxPageSize: maxPageSize}, nil
}

// chainPayload is the canonical hash input. Field order is fixed and map
// keys are sorted by encoding/json, so the digest is reproducible from the
// stored columns.
type chainPayload struct {
	ActionType   string                 `json:"action_type"`
	ActorID      string                 `json:"actor_id"`
	ActorRole    string                 `json:"actor_role"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Changes      map[string]interface{} `json:"changes"`
	IPAddress    string                 `json:"ip_address"`
	PreviousHash string                 `json:"previous_hash"`
}

func computeHash(p chainPayload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chain payload: %w", err)
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum), nil
}

// normalizeChanges round-trips the diff payload through JSON so the hashed
// representation is identical to what a later reload from storage yields:
// ints become float64 either way, and a nil payload becomes the empty map
// the store hands back on reload.
func normalizeChanges(changes map[string]interface{}) (models.JSONMap, error) {
	if changes == nil {
		return models.JSONMap{}, nil
	}
	data, err := json.Marshal(changes)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize changes: %w", err)
	}
	var out models.JSONMap
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to normalize changes: %w", err)
	}
	return out, nil
}

// Append appends one entry to the chain. The whole read-then-insert sequence
// is serialized across concurrent callers; chain position is the insertion
// order, not the wall clock, since timestamps can collide.
func (s *Service) Append(ctx context.Context, entry Entry) error {
	if entry.ActionType == "" {
		return errs.Validationf("audit entry requires an action type")
	}
	if entry.ActorID == "" {
		entry.ActorID = models.SystemActor
	}

	changes, err := normalizeChanges(entry.Changes)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prevHash string
		var position int64
		var last models.AuditLog
		if err := tx.Order("chain_position DESC").First(&last).Error; err != nil {
			if err != gorm.ErrRecordNotFound {
				return fmt.Errorf("failed to read chain head: %w", err)
			}
			// first entry ever: empty previous hash
		} else {
			prevHash = last.Hash
			position = last.ChainPosition
		}

		hash, err := computeHash(chainPayload{
			ActionType:   entry.ActionType,
			ActorID:      entry.ActorID,
			ActorRole:    entry.ActorRole,
			ResourceType: entry.ResourceType,
			ResourceID:   entry.ResourceID,
			Changes:      changes,
			IPAddress:    entry.IPAddress,
			PreviousHash: prevHash,
		})
		if err != nil {
			return err
		}

		record := models.AuditLog{
			ID:            uuid.New(),
			ActionType:    entry.ActionType,
			ActorID:       entry.ActorID,
			ActorRole:     entry.ActorRole,
			ResourceType:  entry.ResourceType,
			ResourceID:    entry.ResourceID,
			Changes:       changes,
			IPAddress:     entry.IPAddress,
			PreviousHash:  prevHash,
			Hash:          hash,
			ChainPosition: position + 1,
			Timestamp:     time.Now().UTC(),
		}

		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("failed to append audit entry: %w", err)
		}
		return nil
	})
	if err != nil {
		metrics.AuditAppendFailures.Inc()
		return err
	}

	metrics.AuditAppends.Inc()
	return nil
}

// VerifyIntegrity walks all entries oldest to newest, recomputing each hash
// from the stored fields and the previous entry's recomputed hash. Returns
// false on the first mismatch.
func (s *Service) VerifyIntegrity(ctx context.Context) (bool, error) {
	var entries []models.AuditLog
	if err := s.db.WithContext(ctx).Order("chain_position ASC").Find(&entries).Error; err != nil {
		return false, fmt.Errorf("failed to load audit entries: %w", err)
	}

	prevHash := ""
	for _, e := range entries {
		recomputed, err := computeHash(chainPayload{
			ActionType:   e.ActionType,
			ActorID:      e.ActorID,
			ActorRole:    e.ActorRole,
			ResourceType: e.ResourceType,
			ResourceID:   e.ResourceID,
			Changes:      e.Changes,
			IPAddress:    e.IPAddress,
			PreviousHash: prevHash,
		})
		if err != nil {
			return false, err
		}
		if recomputed != e.Hash {
			metrics.ChainVerifications.WithLabelValues("invalid").Inc()
			s.logger.Warn("audit chain verification failed",
				zap.Int64("chain_position", e.ChainPosition),
				zap.String("entry_id", e.ID.String()))
			return false, nil
		}
		prevHash = recomputed
	}

	metrics.ChainVerifications.WithLabelValues("valid").Inc()
	return true, nil
}

// GetAuditTrail returns a page of entries, newest first, optionally filtered
// by resource ID and action type. Page size is capped.
func (s *Service) GetAuditTrail(ctx context.Context, filter TrailFilter) ([]models.AuditLog, int64, error) {
	limit := filter.Limit
	if limit <= 0 || limit > s.maxPageSize {
		limit = s.maxPageSize
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})
	if filter.ResourceID != "" {
		query = query.Where("resource_id = ?", filter.ResourceID)
	}
	if filter.ActionType != "" {
		query = query.Where("action_type = ?", filter.ActionType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	var entries []models.AuditLog
	if err := query.Order("chain_position DESC").Limit(limit).Offset(offset).Find(&entries).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to query audit entries: %w", err)
	}

	return entries, total, nil
}
