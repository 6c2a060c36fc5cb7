package agents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-json-experiment/json"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Record is the agents table row. List fields are stored as JSON arrays.
type Record struct {
	ID           string `gorm:"primaryKey;size:64"`
	Name         string `gorm:"size:255;not null"`
	Role         string `gorm:"size:64"`
	Description  string `gorm:"type:text"`
	Goals        string `gorm:"type:json"`
	Capabilities string `gorm:"type:json"`
	Provider     string `gorm:"size:64;not null"`
	Model        string `gorm:"size:128"`
	SystemPrompt string `gorm:"type:text"`
	Tools        string `gorm:"type:json"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (Record) TableName() string { return "agents" }

// GormDirectory is a Lookup backed by a SQL database through GORM.
type GormDirectory struct {
	db *gorm.DB
}

// NewGormDirectory wraps an open GORM handle.
func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

// OpenMySQL connects to MySQL at dsn and pings it.
func OpenMySQL(ctx context.Context, dsn string) (*GormDirectory, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}
	return NewGormDirectory(db), nil
}

// AutoMigrate creates or updates the agents table.
func (g *GormDirectory) AutoMigrate(ctx context.Context) error {
	if err := g.db.WithContext(ctx).AutoMigrate(&Record{}); err != nil {
		return fmt.Errorf("failed to migrate agents table: %w", err)
	}
	return nil
}

// Save inserts or replaces an agent.
func (g *GormDirectory) Save(ctx context.Context, a Agent) error {
	rec, err := toRecord(a)
	if err != nil {
		return err
	}
	err = g.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to save agent %s: %w", a.ID, err)
	}
	return nil
}

// FindAgentByID loads one agent or returns ErrAgentNotFound.
func (g *GormDirectory) FindAgentByID(ctx context.Context, id string) (*Agent, error) {
	var rec Record
	err := g.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load agent %s: %w", id, err)
	}
	return fromRecord(rec)
}

// Close releases the underlying connection pool.
func (g *GormDirectory) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecord(a Agent) (Record, error) {
	rec := Record{
		ID:           a.ID,
		Name:         a.Name,
		Role:         a.Role,
		Description:  a.Description,
		Provider:     a.Provider,
		Model:        a.Model,
		SystemPrompt: a.SystemPrompt,
	}
	for _, f := range []struct {
		dst *string
		src []string
	}{
		{&rec.Goals, a.Goals},
		{&rec.Capabilities, a.Capabilities},
		{&rec.Tools, a.Tools},
	} {
		if f.src == nil {
			f.src = []string{}
		}
		b, err := json.Marshal(f.src)
		if err != nil {
			return Record{}, fmt.Errorf("failed to encode agent %s: %w", a.ID, err)
		}
		*f.dst = string(b)
	}
	return rec, nil
}

func fromRecord(rec Record) (*Agent, error) {
	a := &Agent{
		ID:           rec.ID,
		Name:         rec.Name,
		Role:         rec.Role,
		Description:  rec.Description,
		Provider:     rec.Provider,
		Model:        rec.Model,
		SystemPrompt: rec.SystemPrompt,
	}
	for _, f := range []struct {
		src string
		dst *[]string
	}{
		{rec.Goals, &a.Goals},
		{rec.Capabilities, &a.Capabilities},
		{rec.Tools, &a.Tools},
	} {
		if f.src == "" {
			continue
		}
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return nil, fmt.Errorf("failed to decode agent %s: %w", rec.ID, err)
		}
	}
	return a, nil
}
