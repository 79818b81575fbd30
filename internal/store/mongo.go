// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/calyxhealth/calyx/internal/apperr"
	"github.com/calyxhealth/calyx/internal/models"
)

// Collection names used by the Mongo adapters.
const (
	collNotifications = "notifications"
	collCarePlans     = "care_plans"
	collGroups        = "groups"
	collSessions      = "sessions"
	collAISessions    = "ai_sessions"
)

// ConnectMongo dials MongoDB and returns the named database handle.
func ConnectMongo(ctx context.Context, uri, database string) (*mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client.Database(database), nil
}

// MongoNotifications implements Notifications on a MongoDB collection.
type MongoNotifications struct {
	coll *mongo.Collection
}

// NewMongoNotifications returns a Mongo-backed notification store.
func NewMongoNotifications(db *mongo.Database) *MongoNotifications {
	return &MongoNotifications{coll: db.Collection(collNotifications)}
}

func mongoFilter(f NotificationFilter) bson.M {
	filter := bson.M{}
	if f.UserID != "" {
		filter["userId"] = f.UserID
	}
	if f.NotificationType != "" {
		filter["notificationType"] = f.NotificationType
	}
	if f.Read != nil {
		filter["read"] = *f.Read
	}
	return filter
}

// Create inserts the notification row.
func (s *MongoNotifications) Create(ctx context.Context, n *models.Notification) error {
	if _, err := s.coll.InsertOne(ctx, n); err != nil {
		return apperr.Internal("insert notification", err)
	}
	return nil
}

// Get returns the notification by id.
func (s *MongoNotifications) Get(ctx context.Context, id string) (*models.Notification, error) {
	var n models.Notification
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&n)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("notification", id)
	}
	if err != nil {
		return nil, apperr.Internal("find notification", err)
	}
	return &n, nil
}

// Update replaces the row matched by id.
func (s *MongoNotifications) Update(ctx context.Context, n *models.Notification) error {
	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": n.ID}, n)
	if err != nil {
		return apperr.Internal("update notification", err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("notification", n.ID)
	}
	return nil
}

// MarkRead transitions the row with a single conditional update. The
// read:false filter makes the update the compare-and-set: of any
// number of concurrent callers, only one matches.
func (s *MongoNotifications) MarkRead(ctx context.Context, id, userID string, at time.Time) (*models.Notification, bool, error) {
	var n models.Notification
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "userId": userID, "read": false},
		bson.M{"$set": bson.M{"read": true, "readAt": at}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&n)
	if err == nil {
		return &n, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, apperr.Internal("mark read", err)
	}

	// No unread row matched: either it is already read or it does not
	// belong to the caller.
	err = s.coll.FindOne(ctx, bson.M{"_id": id, "userId": userID}).Decode(&n)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, apperr.NotFound("notification", id)
	}
	if err != nil {
		return nil, false, apperr.Internal("find notification", err)
	}
	return &n, false, nil
}

// List returns matching rows ordered by createdAt descending.
func (s *MongoNotifications) List(ctx context.Context, f NotificationFilter, afterID string, take int) ([]*models.Notification, error) {
	filter := mongoFilter(f)
	if afterID != "" {
		anchor, err := s.Get(ctx, afterID)
		if err != nil {
			return nil, err
		}
		// Rows strictly after the anchor in (createdAt desc, _id desc) order.
		filter["$or"] = bson.A{
			bson.M{"createdAt": bson.M{"$lt": anchor.CreatedAt}},
			bson.M{"createdAt": anchor.CreatedAt, "_id": bson.M{"$lt": anchor.ID}},
		}
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	if take > 0 {
		opts.SetLimit(int64(take))
	}
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, apperr.Internal("list notifications", err)
	}
	defer cur.Close(ctx)

	var rows []*models.Notification
	if err := cur.All(ctx, &rows); err != nil {
		return nil, apperr.Internal("decode notifications", err)
	}
	return rows, nil
}

// Count returns the number of rows matching the filter.
func (s *MongoNotifications) Count(ctx context.Context, f NotificationFilter) (int, error) {
	n, err := s.coll.CountDocuments(ctx, mongoFilter(f))
	if err != nil {
		return 0, apperr.Internal("count notifications", err)
	}
	return int(n), nil
}

// MarkAllRead transitions every unread row for the user.
func (s *MongoNotifications) MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error) {
	res, err := s.coll.UpdateMany(ctx,
		bson.M{"userId": userID, "read": false},
		bson.M{"$set": bson.M{"read": true, "readAt": at}},
	)
	if err != nil {
		return 0, apperr.Internal("mark all read", err)
	}
	return int(res.ModifiedCount), nil
}

// MongoCarePlans implements CarePlans on a MongoDB collection.
type MongoCarePlans struct {
	coll *mongo.Collection
}

// NewMongoCarePlans returns a Mongo-backed care-plan store.
func NewMongoCarePlans(db *mongo.Database) *MongoCarePlans {
	return &MongoCarePlans{coll: db.Collection(collCarePlans)}
}

type carePlanDoc struct {
	ID                    string `bson:"_id"`
	OwnerUserID           string `bson:"ownerUserId"`
	ProgressScore         int    `bson:"progressScore"`
	LastNotifiedMilestone int    `bson:"lastNotifiedMilestone"`
}

// Get returns the milestone slice of the care plan.
func (s *MongoCarePlans) Get(ctx context.Context, id string) (*CarePlan, error) {
	var doc carePlanDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("care plan", id)
	}
	if err != nil {
		return nil, apperr.Internal("find care plan", err)
	}
	return &CarePlan{
		ID:                    doc.ID,
		OwnerUserID:           doc.OwnerUserID,
		ProgressScore:         doc.ProgressScore,
		LastNotifiedMilestone: doc.LastNotifiedMilestone,
	}, nil
}

// SetLastNotifiedMilestone persists the milestone watermark.
func (s *MongoCarePlans) SetLastNotifiedMilestone(ctx context.Context, id string, milestone int) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"lastNotifiedMilestone": milestone}},
	)
	if err != nil {
		return apperr.Internal("set milestone", err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("care plan", id)
	}
	return nil
}

// MongoGroups implements Groups on a MongoDB collection.
type MongoGroups struct {
	coll *mongo.Collection
}

// NewMongoGroups returns a Mongo-backed group store.
func NewMongoGroups(db *mongo.Database) *MongoGroups {
	return &MongoGroups{coll: db.Collection(collGroups)}
}

type groupDoc struct {
	ID        string   `bson:"_id"`
	OwnerID   string   `bson:"ownerId"`
	MemberIDs []string `bson:"memberIds"`
}

// Members returns the current member ids of the group, owner included.
func (s *MongoGroups) Members(ctx context.Context, groupID string) ([]string, error) {
	var doc groupDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": groupID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("group", groupID)
	}
	if err != nil {
		return nil, apperr.Internal("find group", err)
	}
	ids := doc.MemberIDs
	seen := false
	for _, id := range ids {
		if id == doc.OwnerID {
			seen = true
			break
		}
	}
	if !seen && doc.OwnerID != "" {
		ids = append(ids, doc.OwnerID)
	}
	return ids, nil
}

// IsOwnerOrMember reports current ownership or membership, looked up fresh.
func (s *MongoGroups) IsOwnerOrMember(ctx context.Context, groupID, userID string) (bool, error) {
	n, err := s.coll.CountDocuments(ctx, bson.M{
		"_id": groupID,
		"$or": bson.A{
			bson.M{"ownerId": userID},
			bson.M{"memberIds": userID},
		},
	})
	if err != nil {
		return false, apperr.Internal("check membership", err)
	}
	return n > 0, nil
}

// MongoSessions implements Sessions on a MongoDB collection.
type MongoSessions struct {
	coll *mongo.Collection
}

// NewMongoSessions returns a Mongo-backed session resolver.
func NewMongoSessions(db *mongo.Database) *MongoSessions {
	return &MongoSessions{coll: db.Collection(collSessions)}
}

type sessionDoc struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"userId"`
	ExpiresAt time.Time `bson:"expiresAt"`
}

// Resolve returns the user id of a live, unexpired session.
func (s *MongoSessions) Resolve(ctx context.Context, sessionID string) (string, error) {
	var doc sessionDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", apperr.Unauthenticated("unknown session")
	}
	if err != nil {
		return "", apperr.Internal("session lookup", err)
	}
	if !doc.ExpiresAt.IsZero() && doc.ExpiresAt.Before(time.Now()) {
		return "", apperr.Unauthenticated("expired session")
	}
	return doc.UserID, nil
}

// MongoAISessions implements AISessions on a MongoDB collection.
type MongoAISessions struct {
	coll *mongo.Collection
}

// NewMongoAISessions returns a Mongo-backed AI-session store.
func NewMongoAISessions(db *mongo.Database) *MongoAISessions {
	return &MongoAISessions{coll: db.Collection(collAISessions)}
}

// Owner returns the owning user id of the AI session.
func (s *MongoAISessions) Owner(ctx context.Context, sessionID string) (string, error) {
	var doc struct {
		OwnerID string `bson:"ownerId"`
	}
	err := s.coll.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", apperr.NotFound("ai session", sessionID)
	}
	if err != nil {
		return "", apperr.Internal("ai session lookup", err)
	}
	return doc.OwnerID, nil
}
