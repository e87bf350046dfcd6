package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/quantdash/termd/internal/session"
)

// SessionRecord is the gorm model for a persisted session record.
type SessionRecord struct {
	ID               string    `gorm:"primaryKey"`
	ProjectID        string    `gorm:"index;not null"`
	OwnerID          string    `gorm:"index"`
	Kind             string    `gorm:"not null"`
	WorkingDirectory string    `gorm:"not null"`
	Status           string    `gorm:"not null"`
	IsFocused        bool      `gorm:"not null;default:false"`
	Cols             int       `gorm:"not null;default:0"`
	Rows             int       `gorm:"not null;default:0"`
	CreatedAt        time.Time `gorm:"autoCreateTime"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
	LastActivityAt   time.Time
}

// Database is the sqlite-backed record store.
type Database struct {
	db *gorm.DB
}

// OpenDatabase opens (creating if needed) the sqlite database at path and
// migrates the session record schema.
func OpenDatabase(path string) (*Database, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := db.AutoMigrate(&SessionRecord{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}

	return &Database{db: db}, nil
}

func (s *Database) Put(record session.Record) error {
	model := toModel(record)
	if err := s.db.Save(&model).Error; err != nil {
		return fmt.Errorf("%w: %v", session.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Database) Get(id string) (session.Record, bool, error) {
	var model SessionRecord
	err := s.db.First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return session.Record{}, false, nil
	}
	if err != nil {
		return session.Record{}, false, fmt.Errorf("%w: %v", session.ErrStorageUnavailable, err)
	}
	return fromModel(model), true, nil
}

func (s *Database) Delete(id string) error {
	if err := s.db.Delete(&SessionRecord{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("%w: %v", session.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Database) List(projectID string) ([]session.Record, error) {
	var models []SessionRecord
	err := s.db.Where("project_id = ?", projectID).Order("created_at").Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrStorageUnavailable, err)
	}

	records := make([]session.Record, 0, len(models))
	for _, model := range models {
		records = append(records, fromModel(model))
	}
	return records, nil
}

func (s *Database) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toModel(r session.Record) SessionRecord {
	return SessionRecord{
		ID:               r.ID,
		ProjectID:        r.ProjectID,
		OwnerID:          r.OwnerID,
		Kind:             string(r.Kind),
		WorkingDirectory: r.WorkingDirectory,
		Status:           string(r.Status),
		IsFocused:        r.IsFocused,
		Cols:             r.Cols,
		Rows:             r.Rows,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
		LastActivityAt:   r.LastActivityAt,
	}
}

func fromModel(m SessionRecord) session.Record {
	return session.Record{
		ID:               m.ID,
		ProjectID:        m.ProjectID,
		OwnerID:          m.OwnerID,
		Kind:             session.Kind(m.Kind),
		WorkingDirectory: m.WorkingDirectory,
		Status:           session.Status(m.Status),
		IsFocused:        m.IsFocused,
		Cols:             m.Cols,
		Rows:             m.Rows,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
		LastActivityAt:   m.LastActivityAt,
	}
}
