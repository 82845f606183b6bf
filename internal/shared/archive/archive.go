// Package archive keeps a durable record of every confirmed match so past
// sessions can be listed per user.
package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bkohler93/peermatch/internal/shared/match"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const SessionsCollection = "sessions"

var ErrNoSession = errors.New("session not found")

type Recorder interface {
	Record(ctx context.Context, m match.ConfirmedMatch) error
}

// Finder looks up archived sessions.
type Finder interface {
	Session(ctx context.Context, collabID string) (Session, error)
	SessionsForUser(ctx context.Context, userID string) ([]Session, error)
}

// Session mirrors the collaboration service's session document.
type Session struct {
	CollabID   string    `bson:"collabid" json:"collabid"`
	Users      []string  `bson:"users" json:"users"`
	Language   string    `bson:"language" json:"language"`
	QuestionID string    `bson:"question_id" json:"question_id"`
	Topic      string    `bson:"topic" json:"topic"`
	Difficulty string    `bson:"difficulty" json:"difficulty"`
	CreatedAt  time.Time `bson:"createdAt" json:"createdAt"`
}

func NewSession(m match.ConfirmedMatch) Session {
	users := make([]string, 0, len(m.Users))
	for _, u := range m.Users {
		id := u.UserID
		if id == "" {
			id = u.Email
		}
		users = append(users, id)
	}
	return Session{
		CollabID:   m.CollaborationID.String(),
		Users:      users,
		Language:   m.Language,
		QuestionID: m.QuestionID,
		Topic:      m.Topic,
		Difficulty: m.Difficulty,
		CreatedAt:  time.Unix(m.ConfirmedAt, 0).UTC(),
	}
}

type MongoRecorder struct {
	client   *mongo.Client
	sessions *mongo.Collection
}

func NewMongoRecorder(ctx context.Context, uri, database string) (*MongoRecorder, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err = client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return &MongoRecorder{
		client:   client,
		sessions: client.Database(database).Collection(SessionsCollection),
	}, nil
}

func (r *MongoRecorder) Record(ctx context.Context, m match.ConfirmedMatch) error {
	_, err := r.sessions.InsertOne(ctx, NewSession(m))
	if err != nil {
		return fmt.Errorf("failed to archive session %s: %w", m.CollaborationID, err)
	}
	return nil
}

func (r *MongoRecorder) Session(ctx context.Context, collabID string) (Session, error) {
	var s Session
	err := r.sessions.FindOne(ctx, bson.M{"collabid": collabID}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return s, ErrNoSession
	}
	return s, err
}

// SessionsForUser lists a user's sessions, newest first.
func (r *MongoRecorder) SessionsForUser(ctx context.Context, userID string) ([]Session, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cur, err := r.sessions.Find(ctx, bson.M{"users": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	sessions := []Session{}
	if err = cur.All(ctx, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *MongoRecorder) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
