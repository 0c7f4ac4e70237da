// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package scanstore persists scan sessions and the per-path results fetched
// during them.
//
// A session row is created before fetching starts, results are appended as
// each path completes, and the session is either kept (stored scans) or
// deleted together with all of its results once matching is done.
package scanstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cast"
	"gorm.io/gorm"

	"github.com/vulntor/wafp/pkg/likepattern"
	"github.com/vulntor/wafp/pkg/storage"
)

// Session is one scan dataset.
type Session struct {
	ID        int64     `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Info      string    `json:"info" yaml:"info"`
	Results   int64     `json:"results" yaml:"results"`
}

// Result is the outcome of fetching one path.
type Result struct {
	Path       string `json:"path" yaml:"path"`
	Checksum   string `json:"checksum" yaml:"checksum"`
	StatusCode int    `json:"status_code" yaml:"status_code"`
}

// Stats summarizes the scan database.
type Stats struct {
	Sessions int64 `json:"sessions" yaml:"sessions"`
	Results  int64 `json:"results" yaml:"results"`
}

// Legacy databases store tstamp and retcode as text, so both are read as
// strings and coerced.
type sessionRow struct {
	ID     int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Name   string `gorm:"column:name;index"`
	Tstamp string `gorm:"column:tstamp"`
	Info   string `gorm:"column:info"`
}

func (sessionRow) TableName() string { return "tbl_store" }

type resultRow struct {
	ID      int64  `gorm:"column:id;primaryKey;autoIncrement"`
	StoreID int64  `gorm:"column:store_id;index"`
	Csum    string `gorm:"column:csum"`
	Path    string `gorm:"column:path"`
	RetCode string `gorm:"column:retcode"`
}

func (resultRow) TableName() string { return "tbl_results" }

// Store is the scan database. Writes are serialized; the handle allows one
// open connection so concurrent workers never contend inside SQLite.
type Store struct {
	db   *gorm.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the scan database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := storage.Open(ctx, storage.Config{Path: path, MaxOpenConns: 1})
	if err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).AutoMigrate(&sessionRow{}, &resultRow{}); err != nil {
		_ = storage.Close(db)
		return nil, fmt.Errorf("migrate scan schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file backing the store.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error {
	return storage.Close(s.db)
}

// CreateSession inserts a new session. Names must be unique.
func (s *Store) CreateSession(ctx context.Context, name, info string, at time.Time) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing int64
	if err := s.db.WithContext(ctx).Model(&sessionRow{}).Where("name = ?", name).Count(&existing).Error; err != nil {
		return Session{}, fmt.Errorf("check session %s: %w", name, err)
	}
	if existing > 0 {
		return Session{}, fmt.Errorf("session %q already exists", name)
	}

	row := sessionRow{Name: name, Tstamp: cast.ToString(at.Unix()), Info: info}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return Session{}, fmt.Errorf("create session %s: %w", name, err)
	}
	log.Debug().Str("session", name).Int64("id", row.ID).Msg("session created")
	return row.session(0), nil
}

// AppendResult records one fetched path for the session. Safe for
// concurrent use.
func (s *Store) AppendResult(ctx context.Context, sessionID int64, r Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := resultRow{
		StoreID: sessionID,
		Csum:    r.Checksum,
		Path:    r.Path,
		RetCode: cast.ToString(r.StatusCode),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("append result %s: %w", r.Path, err)
	}
	return nil
}

// Session looks a session up by name.
func (s *Store) Session(ctx context.Context, name string) (Session, error) {
	var row sessionRow
	res := s.db.WithContext(ctx).Where("name = ?", name).Limit(1).Find(&row)
	if res.Error != nil {
		return Session{}, fmt.Errorf("lookup session %s: %w", name, res.Error)
	}
	if res.RowsAffected == 0 {
		return Session{}, storage.NewNotFoundError("session", name)
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&resultRow{}).Where("store_id = ?", row.ID).Count(&n).Error; err != nil {
		return Session{}, fmt.Errorf("count results of %s: %w", name, err)
	}
	return row.session(n), nil
}

// Results returns the stored results of the named session in insertion order.
func (s *Store) Results(ctx context.Context, name string) ([]Result, error) {
	sess, err := s.Session(ctx, name)
	if err != nil {
		return nil, err
	}
	var rows []resultRow
	if err := s.db.WithContext(ctx).Where("store_id = ?", sess.ID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query results of %s: %w", name, err)
	}
	out := make([]Result, len(rows))
	for i, r := range rows {
		out[i] = Result{Path: r.Path, Checksum: r.Csum, StatusCode: cast.ToInt(r.RetCode)}
	}
	return out, nil
}

// DeleteSession removes the session and all of its results atomically.
// Deleting an unknown session is not an error.
func (s *Store) DeleteSession(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := tx.Model(&sessionRow{}).Select("id").Where("name = ?", name)
		if err := tx.Where("store_id IN (?)", ids).Delete(&resultRow{}).Error; err != nil {
			return fmt.Errorf("delete results: %w", err)
		}
		if err := tx.Where("name = ?", name).Delete(&sessionRow{}).Error; err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", name, err)
	}
	log.Debug().Str("session", name).Msg("session deleted")
	return nil
}

// List returns sessions whose name matches the LIKE pattern, oldest first.
func (s *Store) List(ctx context.Context, pattern string) ([]Session, error) {
	var rows []sessionRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	type countRow struct {
		StoreID int64 `gorm:"column:store_id"`
		N       int64 `gorm:"column:n"`
	}
	var counts []countRow
	if err := s.db.WithContext(ctx).Model(&resultRow{}).Select("store_id, count(*) AS n").Group("store_id").Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("count results: %w", err)
	}
	byID := make(map[int64]int64, len(counts))
	for _, c := range counts {
		byID[c.StoreID] = c.N
	}

	if strings.TrimSpace(pattern) == "" {
		pattern = likepattern.Any
	}
	m := likepattern.Compile(pattern)
	var out []Session
	for _, r := range rows {
		if m.Match(r.Name) {
			out = append(out, r.session(byID[r.ID]))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Stats counts sessions and results.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.WithContext(ctx).Model(&sessionRow{}).Count(&st.Sessions).Error; err != nil {
		return st, fmt.Errorf("count sessions: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&resultRow{}).Count(&st.Results).Error; err != nil {
		return st, fmt.Errorf("count results: %w", err)
	}
	return st, nil
}

func (r sessionRow) session(results int64) Session {
	return Session{
		ID:        r.ID,
		Name:      r.Name,
		CreatedAt: time.Unix(cast.ToInt64(r.Tstamp), 0),
		Info:      r.Info,
		Results:   results,
	}
}
