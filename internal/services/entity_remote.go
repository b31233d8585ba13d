package services

import (
	"context"
	"fmt"
	"time"

	"github.com/prefeitura-rio/app-sync/internal/logging"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// entityDocument is the MongoDB representation of a synced entity.
type entityDocument struct {
	ID           string    `bson:"_id"`
	Type         string    `bson:"type"`
	EntityID     string    `bson:"entity_id"`
	Data         []byte    `bson:"data"`
	Version      int64     `bson:"version"`
	ContentHash  string    `bson:"content_hash"`
	LastModified time.Time `bson:"last_modified"`
	SyncedAt     time.Time `bson:"synced_at"`
}

// MongoEntityHandler pushes entities into a MongoDB collection with
// version checking against the remote copy.
type MongoEntityHandler struct {
	collection *mongo.Collection
	logger     *logging.SafeLogger
}

// NewMongoEntityHandler creates a handler writing to the given collection.
func NewMongoEntityHandler(collection *mongo.Collection, logger *logging.SafeLogger) *MongoEntityHandler {
	return &MongoEntityHandler{
		collection: collection,
		logger:     logger,
	}
}

func remoteDocID(entityType, id string) string {
	return entityType + ":" + id
}

// SyncEntity upserts the entity remotely. When the remote already holds a
// strictly newer version, a RemoteConflictError carrying the remote copy is
// returned instead of overwriting it.
func (h *MongoEntityHandler) SyncEntity(ctx context.Context, entity *Entity) error {
	docID := remoteDocID(entity.Type, entity.ID)

	var existing entityDocument
	err := h.collection.FindOne(ctx, bson.M{"_id": docID}).Decode(&existing)
	if err != nil && err != mongo.ErrNoDocuments {
		return fmt.Errorf("failed to read remote entity: %w", err)
	}

	if err == nil && existing.Version > entity.Version {
		return &RemoteConflictError{Remote: &Entity{
			Type:         existing.Type,
			ID:           existing.EntityID,
			Data:         existing.Data,
			LastModified: existing.LastModified,
			Version:      existing.Version,
			SyncStatus:   SyncStatusSynced,
			ContentHash:  existing.ContentHash,
		}}
	}

	update := bson.M{"$set": entityDocument{
		ID:           docID,
		Type:         entity.Type,
		EntityID:     entity.ID,
		Data:         entity.Data,
		Version:      entity.Version,
		ContentHash:  entity.ContentHash,
		LastModified: entity.LastModified,
		SyncedAt:     time.Now(),
	}}

	_, err = h.collection.UpdateOne(ctx, bson.M{"_id": docID}, update, options.Update().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Concurrent upsert raced us to the same document id; the data
			// is already there.
			h.logger.Debug("duplicate key during entity sync",
				zap.String("type", entity.Type),
				zap.String("id", entity.ID))
			return nil
		}
		return fmt.Errorf("failed to upsert remote entity: %w", err)
	}

	h.logger.Debug("entity pushed to remote",
		zap.String("type", entity.Type),
		zap.String("id", entity.ID),
		zap.Int64("version", entity.Version))
	return nil
}
