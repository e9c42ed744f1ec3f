// Package db persists the workspace as an opaque JSON blob in Redis. The
// in-memory workspace stays authoritative: loads fall back to defaults on any
// malformed blob, and saves are fire-and-forget diagnostics.
package db

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/go-redis/redis/v8"
	"github.com/tidwall/gjson"

	"gradebook-server-go/models"
)

// workspaceKey is the single blob slot holding the whole workspace.
const workspaceKey = "gradebook:workspace"

// StateStore handles workspace persistence against Redis.
type StateStore struct {
	Client *redis.Client
	Ctx    context.Context
}

// NewStateStore creates a new StateStore instance.
func NewStateStore(client *redis.Client) *StateStore {
	return &StateStore{
		Client: client,
		Ctx:    context.Background(),
	}
}

// Load reads the persisted workspace. An absent blob, a blob that is not
// valid JSON, or one whose sheets field is not an array all fall back to an
// empty workspace with default settings; partial blobs get defaults applied
// field by field. Load never fails the session.
func (s *StateStore) Load() models.Workspace {
	data, err := s.Client.Get(s.Ctx, workspaceKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("Error loading workspace state from Redis: %v. Starting empty.", err)
		}
		return models.NewWorkspace()
	}
	return DecodeState(data)
}

// DecodeState turns a raw persisted blob into a workspace, tolerating shape
// mismatches. A blob whose sheets field is not list-shaped is treated as
// entirely absent.
func DecodeState(data []byte) models.Workspace {
	if !gjson.GetBytes(data, "sheets").IsArray() {
		log.Printf("Persisted workspace state is malformed (sheets is not a list). Starting empty.")
		return models.NewWorkspace()
	}
	// Unmarshal over a defaults-initialized workspace so missing optional
	// fields keep their default values.
	ws := models.NewWorkspace()
	if err := json.Unmarshal(data, &ws); err != nil {
		log.Printf("Error decoding persisted workspace state: %v. Starting empty.", err)
		return models.NewWorkspace()
	}
	ws.Normalize()
	return ws
}

// Save writes the workspace blob to Redis.
func (s *StateStore) Save(ws models.Workspace) error {
	data, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("failed to encode workspace state: %w", err)
	}
	if err := s.Client.Set(s.Ctx, workspaceKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write workspace state to Redis: %w", err)
	}
	return nil
}

// InitializeRedisClient creates and tests a Redis client connection.
func InitializeRedisClient(addr, password string, database int) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       database,
	})

	// Ping Redis to check connection
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Fatalf("Could not connect to Redis at %s: %v", addr, err)
	}

	log.Printf("Successfully connected to Redis at %s (db %d)", addr, database)
	return rdb
}
