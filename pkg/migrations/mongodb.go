package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureMongoCollections creates the indexes the approval workflow and the
// test bench query on. Safe to run on every boot.
func EnsureMongoCollections(ctx context.Context, db *mongo.Database) error {
	requestIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "rule_id", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index().SetName("idx_approval_requests_rule_status"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_approval_requests_status_created"),
		},
	}
	if err := createIndexes(ctx, db.Collection("approval_requests"), requestIndexes); err != nil {
		return err
	}

	timelineIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "request_id", Value: 1}, {Key: "timestamp", Value: 1}},
			Options: options.Index().SetName("idx_approval_timeline_request"),
		},
		{
			Keys:    bson.D{{Key: "rule_id", Value: 1}, {Key: "timestamp", Value: 1}},
			Options: options.Index().SetName("idx_approval_timeline_rule"),
		},
	}
	if err := createIndexes(ctx, db.Collection("approval_timeline"), timelineIndexes); err != nil {
		return err
	}

	caseIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "rule_id", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName("idx_test_cases_rule_created"),
		},
	}
	return createIndexes(ctx, db.Collection("test_cases"), caseIndexes)
}

func createIndexes(ctx context.Context, collection *mongo.Collection, indexes []mongo.IndexModel) error {
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create indexes on %s: %w", collection.Name(), err)
		}
	}
	return nil
}
