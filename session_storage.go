package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go-mrz-scanner/models"

	"github.com/redis/go-redis/v9"
	"go.etcd.io/bbolt"
)

var ErrSessionNotFound = errors.New("scan session not found")

// Should be safe to use concurrently
type SessionStorage interface {
	// Registers a pending session, returns an error when it already exists.
	CreateSession(sessionId string) error

	// Stores the result of a session. Only the first call for a session
	// stores anything; later calls return false without an error.
	// Completing an unknown session returns ErrSessionNotFound.
	CompleteSession(sessionId string, record models.ScanRecord) (bool, error)

	// Should retrieve the session and return ErrSessionNotFound when it
	// does not exist or has expired.
	RetrieveSession(sessionId string) (models.ScanRecord, error)

	// Should remove the session and return an error if it fails to do so.
	// The session not being there should also be considered an error.
	RemoveSession(sessionId string) error
}

const Timeout time.Duration = 24 * time.Hour

func newPendingRecord(sessionId string) models.ScanRecord {
	return models.ScanRecord{
		SessionId: sessionId,
		Status:    models.SessionPending,
		CreatedAt: time.Now().UTC(),
	}
}

// completedRecord merges a scan result into the pending record.
func completedRecord(pending, result models.ScanRecord) models.ScanRecord {
	now := time.Now().UTC()
	pending.Status = models.SessionCompleted
	pending.Lines = result.Lines
	pending.DocumentImage = result.DocumentImage
	pending.CompletedAt = &now
	return pending
}

func expired(record models.ScanRecord) bool {
	return time.Since(record.CreatedAt) > Timeout
}

// ------------------------------------------------------------------------------

type InMemorySessionStorage struct {
	Sessions map[string]models.ScanRecord
	mutex    sync.Mutex
}

func NewInMemorySessionStorage() *InMemorySessionStorage {
	return &InMemorySessionStorage{
		Sessions: make(map[string]models.ScanRecord),
	}
}

func (s *InMemorySessionStorage) CreateSession(sessionId string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.Sessions[sessionId]; ok {
		return fmt.Errorf("session %s already exists", sessionId)
	}
	s.Sessions[sessionId] = newPendingRecord(sessionId)
	return nil
}

func (s *InMemorySessionStorage) CompleteSession(sessionId string, record models.ScanRecord) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	pending, err := s.lookup(sessionId)
	if err != nil {
		return false, err
	}
	if pending.Completed() {
		return false, nil
	}
	s.Sessions[sessionId] = completedRecord(pending, record)
	return true, nil
}

func (s *InMemorySessionStorage) RetrieveSession(sessionId string) (models.ScanRecord, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.lookup(sessionId)
}

func (s *InMemorySessionStorage) RemoveSession(sessionId string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.Sessions[sessionId]; ok {
		delete(s.Sessions, sessionId)
		return nil
	} else {
		return fmt.Errorf("failed to remove session %s, because it wasn't there", sessionId)
	}
}

// lookup expects the mutex to be held.
func (s *InMemorySessionStorage) lookup(sessionId string) (models.ScanRecord, error) {
	record, ok := s.Sessions[sessionId]
	if !ok {
		return models.ScanRecord{}, ErrSessionNotFound
	}
	if expired(record) {
		delete(s.Sessions, sessionId)
		return models.ScanRecord{}, ErrSessionNotFound
	}
	return record, nil
}

// ------------------------------------------------------------------------------

// RedisSessionStorage keeps the pending session and its result under
// separate keys so that completion is a single SETNX.
type RedisSessionStorage struct {
	client    *redis.Client
	namespace string
}

func NewRedisSessionStorage(client *redis.Client, namespace string) *RedisSessionStorage {
	return &RedisSessionStorage{client: client, namespace: namespace}
}

func createKey(namespace, kind, sessionId string) string {
	return fmt.Sprintf("%s:%s:%s", namespace, kind, sessionId)
}

func (s *RedisSessionStorage) sessionKey(sessionId string) string {
	return createKey(s.namespace, "session", sessionId)
}

func (s *RedisSessionStorage) resultKey(sessionId string) string {
	return createKey(s.namespace, "result", sessionId)
}

func (s *RedisSessionStorage) CreateSession(sessionId string) error {
	ctx := context.Background()
	payload, err := json.Marshal(newPendingRecord(sessionId))
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.sessionKey(sessionId), payload, Timeout).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("session %s already exists", sessionId)
	}
	return nil
}

func (s *RedisSessionStorage) CompleteSession(sessionId string, record models.ScanRecord) (bool, error) {
	ctx := context.Background()
	pending, err := s.get(ctx, s.sessionKey(sessionId))
	if err != nil {
		return false, err
	}
	payload, err := json.Marshal(completedRecord(pending, record))
	if err != nil {
		return false, err
	}
	return s.client.SetNX(ctx, s.resultKey(sessionId), payload, Timeout).Result()
}

func (s *RedisSessionStorage) RetrieveSession(sessionId string) (models.ScanRecord, error) {
	ctx := context.Background()
	record, err := s.get(ctx, s.resultKey(sessionId))
	if errors.Is(err, ErrSessionNotFound) {
		return s.get(ctx, s.sessionKey(sessionId))
	}
	return record, err
}

func (s *RedisSessionStorage) RemoveSession(sessionId string) error {
	ctx := context.Background()
	n, err := s.client.Del(ctx, s.sessionKey(sessionId), s.resultKey(sessionId)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("failed to remove session %s, because it wasn't there", sessionId)
	}
	return nil
}

func (s *RedisSessionStorage) get(ctx context.Context, key string) (models.ScanRecord, error) {
	payload, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.ScanRecord{}, ErrSessionNotFound
	}
	if err != nil {
		return models.ScanRecord{}, err
	}
	var record models.ScanRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return models.ScanRecord{}, fmt.Errorf("failed to decode session: %w", err)
	}
	return record, nil
}

// ------------------------------------------------------------------------------

const sessionBucketName = "scan_sessions"

// BoltSessionStorage keeps sessions in a bbolt file for single instance
// deployments that should survive restarts. Expiry is checked on access.
type BoltSessionStorage struct {
	db *bbolt.DB
}

func NewBoltSessionStorage(path string) (*BoltSessionStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(sessionBucketName))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create session bucket: %w", err)
	}
	return &BoltSessionStorage{db: db}, nil
}

func (b *BoltSessionStorage) Close() error {
	return b.db.Close()
}

func (b *BoltSessionStorage) CreateSession(sessionId string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionBucketName))
		if bucket.Get([]byte(sessionId)) != nil {
			return fmt.Errorf("session %s already exists", sessionId)
		}
		return putRecord(bucket, newPendingRecord(sessionId))
	})
}

func (b *BoltSessionStorage) CompleteSession(sessionId string, record models.ScanRecord) (bool, error) {
	completed := false
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionBucketName))
		pending, err := getRecord(bucket, sessionId)
		if err != nil {
			return err
		}
		if pending.Completed() {
			return nil
		}
		completed = true
		return putRecord(bucket, completedRecord(pending, record))
	})
	if err != nil {
		return false, err
	}
	return completed, nil
}

func (b *BoltSessionStorage) RetrieveSession(sessionId string) (models.ScanRecord, error) {
	var record models.ScanRecord
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		record, err = getRecord(tx.Bucket([]byte(sessionBucketName)), sessionId)
		return err
	})
	return record, err
}

func (b *BoltSessionStorage) RemoveSession(sessionId string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionBucketName))
		if bucket.Get([]byte(sessionId)) == nil {
			return fmt.Errorf("failed to remove session %s, because it wasn't there", sessionId)
		}
		return bucket.Delete([]byte(sessionId))
	})
}

func getRecord(bucket *bbolt.Bucket, sessionId string) (models.ScanRecord, error) {
	data := bucket.Get([]byte(sessionId))
	if data == nil {
		return models.ScanRecord{}, ErrSessionNotFound
	}
	var record models.ScanRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return models.ScanRecord{}, fmt.Errorf("failed to decode session: %w", err)
	}
	if expired(record) {
		return models.ScanRecord{}, ErrSessionNotFound
	}
	return record, nil
}

func putRecord(bucket *bbolt.Bucket, record models.ScanRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return bucket.Put([]byte(record.SessionId), data)
}
