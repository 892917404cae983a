// Package mongo provides a MongoDB-backed session store
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AltairaLabs/mcpchat/internal/storage"
	"github.com/AltairaLabs/mcpchat/internal/types"
)

const (
	// DefaultCollection holds one document per session
	DefaultCollection = "chat_sessions"

	closeTimeout = 5 * time.Second
)

// sessionDocument keeps the conversation as a JSON payload; tool arguments are
// free-form and round-trip more faithfully through JSON than through BSON maps.
type sessionDocument struct {
	ID         string    `bson:"_id"`
	UserEmail  string    `bson:"user_email"`
	Payload    string    `bson:"payload"`
	CreatedAt  time.Time `bson:"created_at"`
	LastActive time.Time `bson:"last_active"`
}

// SessionStore implements storage.SessionStore on a Mongo collection
type SessionStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

var _ storage.SessionStore = (*SessionStore)(nil)

// NewSessionStore connects, pings and indexes the session collection
func NewSessionStore(ctx context.Context, uri, database string) (*SessionStore, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if database == "" {
		return nil, errors.New("mongo database name is required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	collection := client.Database(database).Collection(DefaultCollection)
	_, err = collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "last_active", Value: 1}},
		Options: options.Index().SetName("last_active"),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create session index: %w", err)
	}

	return &SessionStore{client: client, collection: collection}, nil
}

// GetSession loads a session, returning nil, nil when it does not exist
func (ms *SessionStore) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	if sessionID == "" {
		return nil, storage.ErrSessionIDEmpty
	}

	var doc sessionDocument
	err := ms.collection.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	return doc.toSession()
}

// SaveSession replaces the session document, inserting it if absent
func (ms *SessionStore) SaveSession(ctx context.Context, session *types.Session) error {
	if err := storage.ValidateSession(session); err != nil {
		return err
	}

	doc, err := newDocument(session, time.Now().UTC())
	if err != nil {
		return err
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := ms.collection.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, opts); err != nil {
		return fmt.Errorf("failed to save session %s: %w", session.ID, err)
	}
	return nil
}

// DeleteSession removes the session document
func (ms *SessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return storage.ErrSessionIDEmpty
	}
	if _, err := ms.collection.DeleteOne(ctx, bson.M{"_id": sessionID}); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

// UpdateSessionActivity bumps last_active. The payload copy is refreshed on the next save.
func (ms *SessionStore) UpdateSessionActivity(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return storage.ErrSessionIDEmpty
	}
	res, err := ms.collection.UpdateOne(ctx,
		bson.M{"_id": sessionID},
		bson.M{"$set": bson.M{"last_active": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", sessionID, err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrSessionNotFound
	}
	return nil
}

// ListStaleSessions returns the IDs of sessions inactive since before
func (ms *SessionStore) ListStaleSessions(ctx context.Context, before time.Time) ([]string, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1})
	cursor, err := ms.collection.Find(ctx, bson.M{"last_active": bson.M{"$lt": before}}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale sessions: %w", err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.ID)
	}
	return ids, cursor.Err()
}

// Close disconnects the client
func (ms *SessionStore) Close(ctx context.Context) error {
	if ms == nil || ms.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, closeTimeout)
	defer cancel()
	return ms.client.Disconnect(ctx)
}

func newDocument(session *types.Session, now time.Time) (sessionDocument, error) {
	stored := session.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.LastActive.IsZero() {
		stored.LastActive = now
	}
	payload, err := json.Marshal(stored)
	if err != nil {
		return sessionDocument{}, fmt.Errorf("failed to encode session %s: %w", session.ID, err)
	}
	return sessionDocument{
		ID:         stored.ID,
		UserEmail:  stored.UserEmail,
		Payload:    string(payload),
		CreatedAt:  stored.CreatedAt,
		LastActive: stored.LastActive,
	}, nil
}

func (doc sessionDocument) toSession() (*types.Session, error) {
	var session types.Session
	if err := json.Unmarshal([]byte(doc.Payload), &session); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", doc.ID, err)
	}
	// The indexed column is authoritative for activity
	session.LastActive = doc.LastActive
	if session.Files == nil {
		session.Files = make(map[string]types.FileRef)
	}
	return &session, nil
}
