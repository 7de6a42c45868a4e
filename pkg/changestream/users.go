// Package changestream tails the users collection and emits one UserChange
// per insert, update, replace or delete.
package changestream

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// UserChange is the exported form of a users change event. User never
// carries the password field.
type UserChange struct {
	EventID     string                 `json:"event_id"`
	Operation   string                 `json:"operation"`
	UserID      string                 `json:"user_id"`
	User        map[string]interface{} `json:"user,omitempty"`
	ClusterTime primitive.Timestamp    `json:"cluster_time"`
	ResumeToken bson.Raw               `json:"-"`
}

// Watcher streams user changes starting after resumeToken (nil means now).
type Watcher interface {
	Watch(ctx context.Context, resumeToken bson.Raw) (<-chan UserChange, <-chan error)
	Close() error
}

type streamCloser interface {
	Close(ctx context.Context) error
}

type UsersWatcher struct {
	users *mongo.Collection

	mu     sync.Mutex
	stream streamCloser
	closed bool
}

func NewUsersWatcher(users *mongo.Collection) *UsersWatcher {
	return &UsersWatcher{users: users}
}

// pipeline drops operations the replica has no use for and strips the
// password before the event leaves the server.
func pipeline() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"insert", "update", "replace", "delete"}}}},
		}}},
		{{Key: "$unset", Value: bson.A{"fullDocument.password", "updateDescription"}}},
	}
}

func (w *UsersWatcher) Watch(ctx context.Context, resumeToken bson.Raw) (<-chan UserChange, <-chan error) {
	changes := make(chan UserChange)
	errs := make(chan error, 1)

	go func() {
		defer close(changes)
		defer close(errs)

		opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
		if len(resumeToken) > 0 {
			opts.SetResumeAfter(resumeToken)
		}

		stream, err := w.users.Watch(ctx, pipeline(), opts)
		if err != nil {
			errs <- fmt.Errorf("failed to open users change stream: %w", err)
			return
		}
		defer stream.Close(context.Background())
		if !w.track(stream) {
			return
		}

		for stream.Next(ctx) {
			change, err := decodeChange(stream.Current)
			if err != nil {
				errs <- err
				return
			}
			change.ResumeToken = stream.ResumeToken()

			select {
			case changes <- change:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil && ctx.Err() == nil {
			errs <- fmt.Errorf("users change stream failed: %w", err)
		}
	}()

	return changes, errs
}

func decodeChange(raw bson.Raw) (UserChange, error) {
	var ev struct {
		ID struct {
			Data string `bson:"_data"`
		} `bson:"_id"`
		OperationType string                 `bson:"operationType"`
		FullDocument  map[string]interface{} `bson:"fullDocument"`
		DocumentKey   struct {
			ID interface{} `bson:"_id"`
		} `bson:"documentKey"`
		ClusterTime primitive.Timestamp `bson:"clusterTime"`
	}
	if err := bson.Unmarshal(raw, &ev); err != nil {
		return UserChange{}, fmt.Errorf("failed to decode change event: %w", err)
	}

	change := UserChange{
		EventID:     ev.ID.Data,
		Operation:   ev.OperationType,
		UserID:      idString(ev.DocumentKey.ID),
		ClusterTime: ev.ClusterTime,
	}
	if ev.OperationType != "delete" && ev.FullDocument != nil {
		delete(ev.FullDocument, "password")
		delete(ev.FullDocument, "_id")
		change.User = ev.FullDocument
	}
	if change.EventID == "" {
		change.EventID = fmt.Sprintf("%s:%d:%d", change.UserID, ev.ClusterTime.T, ev.ClusterTime.I)
	}
	return change, nil
}

func idString(v interface{}) string {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id.Hex()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", id)
	}
}

// track records the open stream for Close. It reports false when Close
// already ran, in which case the caller owns closing the stream.
func (w *UsersWatcher) track(s streamCloser) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.stream = s
	return true
}

// Close stops the stream opened by Watch. It is safe to call from any
// goroutine, before or after the stream opens.
func (w *UsersWatcher) Close() error {
	w.mu.Lock()
	w.closed = true
	s := w.stream
	w.mu.Unlock()

	if s != nil {
		return s.Close(context.Background())
	}
	return nil
}
