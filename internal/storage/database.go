// Package storage keeps a small sqlite journal of task outcomes and
// self-restarts.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"weather-clock/internal/state"
)

const weatherTask = "weather"

type Database struct {
	db        *gorm.DB
	retention time.Duration
	log       *zap.SugaredLogger
}

// NewDatabase opens (creating if needed) the journal at path. Events older
// than retention are pruned after each successful weather refresh; zero
// disables pruning.
func NewDatabase(path string, retention time.Duration, log *zap.SugaredLogger) (*Database, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&Event{}, &Restart{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Database{db: db, retention: retention, log: log}, nil
}

func (d *Database) RecordEvent(e *Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return d.db.Create(e).Error
}

// RecentEvents returns up to limit events, newest first.
func (d *Database) RecentEvents(limit int) ([]Event, error) {
	var events []Event
	result := d.db.Order("timestamp desc").Order("id desc").Limit(limit).Find(&events)
	if result.Error != nil {
		return nil, result.Error
	}
	return events, nil
}

func (d *Database) RecordRestart(code, message string) error {
	return d.db.Create(&Restart{
		Timestamp: time.Now(),
		Code:      code,
		Message:   message,
	}).Error
}

// LastRestart returns the most recent restart, or nil when there is none.
func (d *Database) LastRestart() (*Restart, error) {
	var r Restart
	result := d.db.Order("timestamp desc").Order("id desc").First(&r)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &r, nil
}

func (d *Database) CleanOldEvents(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result := d.db.Where("timestamp < ?", cutoff).Delete(&Event{})
	return result.RowsAffected, result.Error
}

func (d *Database) TaskSucceeded(task string, took time.Duration, snap state.Snapshot) {
	e := &Event{
		Task:       task,
		Success:    true,
		DurationMs: took.Milliseconds(),
	}
	if task == weatherTask && snap.HasWeather() {
		e.Condition = snap.Weather.Condition.String()
		e.Temperature = snap.Weather.Temperature
	}
	if err := d.RecordEvent(e); err != nil {
		d.log.Warnw("Failed to journal event", "task", task, "error", err)
	}

	if task == weatherTask && d.retention > 0 {
		if n, err := d.CleanOldEvents(d.retention); err != nil {
			d.log.Warnw("Failed to prune journal", "error", err)
		} else if n > 0 {
			d.log.Debugw("Pruned journal", "events", n)
		}
	}
}

func (d *Database) TaskFailed(task string, took time.Duration, err error) {
	e := &Event{
		Task:       task,
		DurationMs: took.Milliseconds(),
	}
	if err != nil {
		e.Message = err.Error()
	}
	if err := d.RecordEvent(e); err != nil {
		d.log.Warnw("Failed to journal event", "task", task, "error", err)
	}
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
