// Package gormstorage implements storage.Backend as a table of JSON documents
// behind GORM. It works on both SQLite and Postgres dialects. Changes made by
// this process are fanned out immediately; changes made by other processes
// sharing the database are picked up by polling the revision column.
package gormstorage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shardfall/shardfall/internal/storage"
)

// Document is one stored value.
type Document struct {
	Collection string         `gorm:"primaryKey;size:64"`
	Key        string         `gorm:"column:doc_key;primaryKey;size:191"`
	Body       datatypes.JSON `gorm:"not null"`
	Revision   int64          `gorm:"index;not null"`
	UpdatedAt  time.Time
}

// TableName pins the table name regardless of naming strategy.
func (Document) TableName() string {
	return "documents"
}

// revisionCounter is the single row handing out document revisions.
type revisionCounter struct {
	ID    int   `gorm:"primaryKey;autoIncrement:false"`
	Value int64 `gorm:"not null"`
}

func (revisionCounter) TableName() string {
	return "document_revisions"
}

const counterID = 1

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB           *gorm.DB
	Logger       zerolog.Logger
	PollInterval time.Duration // 0 disables polling for foreign writes
}

// Backend implements storage.Backend on a GORM connection.
type Backend struct {
	deps Dependencies
	subs *storage.Subscribers

	mu       sync.Mutex
	seen     map[string]int64 // path -> newest revision delivered
	lastPoll int64

	stopChan chan struct{}
	wg       sync.WaitGroup
	closed   bool
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	return &Backend{
		deps: deps,
		subs: storage.NewSubscribers(),
		seen: make(map[string]int64),
	}
}

// DB exposes the connection for dialect specific wrappers.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init migrates the documents table and starts the poller.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return fmt.Errorf("gorm storage: no database")
	}
	if err := b.deps.DB.AutoMigrate(&Document{}, &revisionCounter{}); err != nil {
		return fmt.Errorf("failed to migrate documents: %w", err)
	}

	var maxRev int64
	if err := b.deps.DB.Model(&Document{}).Select("COALESCE(MAX(revision), 0)").Scan(&maxRev).Error; err != nil {
		return fmt.Errorf("failed to read revision: %w", err)
	}
	counter := revisionCounter{ID: counterID, Value: maxRev}
	if err := b.deps.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&counter).Error; err != nil {
		return fmt.Errorf("failed to seed revision counter: %w", err)
	}
	b.lastPoll = maxRev

	b.stopChan = make(chan struct{})
	if b.deps.PollInterval > 0 {
		b.wg.Add(1)
		go b.pollLoop()
	}
	b.deps.Logger.Info().Str("dialect", b.deps.DB.Dialector.Name()).Dur("poll", b.deps.PollInterval).Msg("Document store ready")
	return nil
}

// Close stops the poller and drops subscriptions. The connection stays open;
// its owner closes it.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.stopChan != nil {
		close(b.stopChan)
	}
	b.wg.Wait()
	b.subs.Clear()
	return nil
}

func (b *Backend) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Read returns one document or every document in a collection.
func (b *Backend) Read(ctx context.Context, path string) (storage.Snapshot, error) {
	p, err := storage.ParsePath(path)
	if err != nil {
		return storage.Snapshot{}, err
	}
	if b.isClosed() {
		return storage.Snapshot{}, storage.ErrClosed
	}
	return b.read(ctx, p)
}

func (b *Backend) read(ctx context.Context, p storage.Path) (storage.Snapshot, error) {
	snap := storage.Snapshot{Path: p.String()}
	db := b.deps.DB.WithContext(ctx)

	if p.IsCollection() {
		var docs []Document
		if err := db.Where("collection = ?", p.Collection).Find(&docs).Error; err != nil {
			return snap, fmt.Errorf("read %s: %w", p, err)
		}
		if len(docs) > 0 {
			snap.Children = make(map[string]json.RawMessage, len(docs))
			for _, d := range docs {
				snap.Children[d.Key] = json.RawMessage(d.Body)
			}
		}
		return snap, nil
	}

	var doc Document
	err := db.Where("collection = ? AND doc_key = ?", p.Collection, p.Key).Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return snap, nil
	}
	if err != nil {
		return snap, fmt.Errorf("read %s: %w", p, err)
	}
	snap.Value = json.RawMessage(doc.Body)
	return snap, nil
}

// nextRevision bumps the counter row inside tx. The row lock is held until
// tx commits, so a later revision never becomes visible before an earlier one.
func nextRevision(tx *gorm.DB) (int64, error) {
	err := tx.Model(&revisionCounter{}).Where("id = ?", counterID).
		UpdateColumn("value", gorm.Expr("value + ?", 1)).Error
	if err != nil {
		return 0, fmt.Errorf("bump revision: %w", err)
	}
	var rev int64
	if err := tx.Model(&revisionCounter{}).Where("id = ?", counterID).Select("value").Scan(&rev).Error; err != nil {
		return 0, fmt.Errorf("read revision: %w", err)
	}
	return rev, nil
}

// Write upserts the document at path and notifies local subscribers.
func (b *Backend) Write(ctx context.Context, path string, value json.RawMessage) error {
	p, err := storage.ParsePath(path)
	if err != nil {
		return err
	}
	if p.IsCollection() {
		return storage.ErrInvalidPath
	}
	if !json.Valid(value) {
		return fmt.Errorf("write %s: value is not valid JSON", path)
	}
	if b.isClosed() {
		return storage.ErrClosed
	}

	doc := Document{
		Collection: p.Collection,
		Key:        p.Key,
		Body:       datatypes.JSON(append([]byte(nil), value...)),
		UpdatedAt:  time.Now().UTC(),
	}
	err = b.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rev, err := nextRevision(tx)
		if err != nil {
			return err
		}
		doc.Revision = rev
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection"}, {Name: "doc_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"body", "revision", "updated_at"}),
		}).Create(&doc).Error
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}

	if b.markSeen(p.String(), doc.Revision) {
		b.subs.Notify(p, storage.Snapshot{Path: p.String(), Value: json.RawMessage(doc.Body)})
	}
	return nil
}

// markSeen records rev for path and reports whether it is newer than anything delivered.
func (b *Backend) markSeen(path string, rev int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rev <= b.seen[path] {
		return false
	}
	b.seen[path] = rev
	return true
}

// Subscribe replays the current state to fn, then streams changes.
func (b *Backend) Subscribe(path string, fn storage.ChangeFunc) (storage.Unsubscribe, error) {
	p, err := storage.ParsePath(path)
	if err != nil {
		return nil, err
	}
	if b.isClosed() {
		return nil, storage.ErrClosed
	}

	unsub := b.subs.Add(p, fn)
	initial, err := b.read(context.Background(), p)
	if err != nil {
		unsub()
		return nil, err
	}
	storage.Replay(initial, fn)
	return unsub, nil
}

func (b *Backend) pollLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.deps.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.poll(); err != nil {
				b.deps.Logger.Warn().Err(err).Msg("Document poll failed")
			}
		}
	}
}

// poll delivers documents whose revision moved past the last poll.
func (b *Backend) poll() error {
	if b.subs.Len() == 0 {
		return nil
	}
	b.mu.Lock()
	since := b.lastPoll
	b.mu.Unlock()

	var docs []Document
	err := b.deps.DB.Where("revision > ?", since).Order("revision").Find(&docs).Error
	if err != nil {
		return err
	}
	for _, d := range docs {
		b.mu.Lock()
		if d.Revision > b.lastPoll {
			b.lastPoll = d.Revision
		}
		b.mu.Unlock()

		path := storage.Path{Collection: d.Collection, Key: d.Key}
		if b.markSeen(path.String(), d.Revision) {
			b.subs.Notify(path, storage.Snapshot{Path: path.String(), Value: json.RawMessage(d.Body)})
		}
	}
	return nil
}
