package testbench

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Repository interface {
	Create(ctx context.Context, tc *TestCase) error
	Get(ctx context.Context, id string) (*TestCase, error)
	ListByRule(ctx context.Context, ruleID string) ([]TestCase, error)
	Update(ctx context.Context, tc *TestCase) error
	Delete(ctx context.Context, id string) error
	DeleteByRule(ctx context.Context, ruleID string) error
}

type mongoRepository struct {
	cases *mongo.Collection
}

func NewRepository(db *mongo.Database) Repository {
	return &mongoRepository{cases: db.Collection("test_cases")}
}

func (r *mongoRepository) Create(ctx context.Context, tc *TestCase) error {
	if tc.ID == "" {
		tc.ID = uuid.New().String()
	}
	now := time.Now()
	tc.CreatedAt = now
	tc.UpdatedAt = now

	if _, err := r.cases.InsertOne(ctx, tc); err != nil {
		return fmt.Errorf("failed to create test case: %w", err)
	}
	return nil
}

func (r *mongoRepository) Get(ctx context.Context, id string) (*TestCase, error) {
	var tc TestCase
	err := r.cases.FindOne(ctx, bson.M{"_id": id}).Decode(&tc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get test case: %w", err)
	}
	return &tc, nil
}

func (r *mongoRepository) ListByRule(ctx context.Context, ruleID string) ([]TestCase, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := r.cases.Find(ctx, bson.M{"rule_id": ruleID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list test cases: %w", err)
	}
	defer cursor.Close(ctx)

	var out []TestCase
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode test cases: %w", err)
	}
	return out, nil
}

func (r *mongoRepository) Update(ctx context.Context, tc *TestCase) error {
	tc.UpdatedAt = time.Now()

	result, err := r.cases.ReplaceOne(ctx, bson.M{"_id": tc.ID}, tc)
	if err != nil {
		return fmt.Errorf("failed to update test case: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("test case not found")
	}
	return nil
}

func (r *mongoRepository) Delete(ctx context.Context, id string) error {
	result, err := r.cases.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete test case: %w", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("test case not found")
	}
	return nil
}

func (r *mongoRepository) DeleteByRule(ctx context.Context, ruleID string) error {
	if _, err := r.cases.DeleteMany(ctx, bson.M{"rule_id": ruleID}); err != nil {
		return fmt.Errorf("failed to delete test cases: %w", err)
	}
	return nil
}
