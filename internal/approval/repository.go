package approval

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
	Create(ctx context.Context, req *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	List(ctx context.Context, status Status) ([]Request, error)
	ListByRule(ctx context.Context, ruleID string) ([]Request, error)
	Update(ctx context.Context, req *Request) error

	AppendTimeline(ctx context.Context, event *TimelineEvent) error
	Timeline(ctx context.Context, requestID string) ([]TimelineEvent, error)
	RuleTimeline(ctx context.Context, ruleID string) ([]TimelineEvent, error)
}

type mongoRepository struct {
	requests *mongo.Collection
	timeline *mongo.Collection
}

func NewRepository(db *mongo.Database) Repository {
	return &mongoRepository{
		requests: db.Collection("approval_requests"),
		timeline: db.Collection("approval_timeline"),
	}
}

func (r *mongoRepository) Create(ctx context.Context, req *Request) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	now := time.Now()
	req.CreatedAt = now
	req.UpdatedAt = now

	if _, err := r.requests.InsertOne(ctx, req); err != nil {
		return fmt.Errorf("failed to create approval request: %w", err)
	}
	return nil
}

func (r *mongoRepository) Get(ctx context.Context, id string) (*Request, error) {
	var req Request
	err := r.requests.FindOne(ctx, bson.M{"_id": id}).Decode(&req)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval request: %w", err)
	}
	return &req, nil
}

func (r *mongoRepository) List(ctx context.Context, status Status) ([]Request, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := r.requests.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list approval requests: %w", err)
	}
	defer cursor.Close(ctx)

	var requests []Request
	if err := cursor.All(ctx, &requests); err != nil {
		return nil, fmt.Errorf("failed to decode approval requests: %w", err)
	}
	return requests, nil
}

func (r *mongoRepository) ListByRule(ctx context.Context, ruleID string) ([]Request, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := r.requests.Find(ctx, bson.M{"rule_id": ruleID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list approval requests: %w", err)
	}
	defer cursor.Close(ctx)

	var requests []Request
	if err := cursor.All(ctx, &requests); err != nil {
		return nil, fmt.Errorf("failed to decode approval requests: %w", err)
	}
	return requests, nil
}

func (r *mongoRepository) Update(ctx context.Context, req *Request) error {
	req.UpdatedAt = time.Now()

	result, err := r.requests.UpdateOne(ctx, bson.M{"_id": req.ID}, bson.M{"$set": req})
	if err != nil {
		return fmt.Errorf("failed to update approval request: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("approval request not found")
	}
	return nil
}

func (r *mongoRepository) AppendTimeline(ctx context.Context, event *TimelineEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if _, err := r.timeline.InsertOne(ctx, event); err != nil {
		return fmt.Errorf("failed to append timeline event: %w", err)
	}
	return nil
}

func (r *mongoRepository) Timeline(ctx context.Context, requestID string) ([]TimelineEvent, error) {
	return r.findTimeline(ctx, bson.M{"request_id": requestID})
}

func (r *mongoRepository) RuleTimeline(ctx context.Context, ruleID string) ([]TimelineEvent, error) {
	return r.findTimeline(ctx, bson.M{"rule_id": ruleID})
}

func (r *mongoRepository) findTimeline(ctx context.Context, filter bson.M) ([]TimelineEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})

	cursor, err := r.timeline.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline: %w", err)
	}
	defer cursor.Close(ctx)

	var events []TimelineEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("failed to decode timeline events: %w", err)
	}
	return events, nil
}
