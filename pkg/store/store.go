// Package store is the storage access layer. Every method performs exactly
// one MongoDB operation against one of the users, questions or puzzles
// collections and carries no business rules.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/AdarCohen1/MathStARz/pkg/config"
	"github.com/AdarCohen1/MathStARz/pkg/password"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var (
	// ErrNotFound is returned when a lookup matches no document.
	ErrNotFound = errors.New("document not found")
	// ErrDuplicate is returned when an insert violates a unique index.
	ErrDuplicate = errors.New("duplicate key")
)

// Store holds the three collections the game uses.
type Store struct {
	users     *mongo.Collection
	questions *mongo.Collection
	puzzles   *mongo.Collection
}

// New binds a Store to the collections named in cfg.
func New(db *mongo.Database, cfg config.MongoConfig) *Store {
	return NewWithCollections(
		db.Collection(cfg.UsersCollection),
		db.Collection(cfg.QuestionsCollection),
		db.Collection(cfg.PuzzlesCollection),
	)
}

// NewWithCollections binds a Store to explicit collections.
func NewWithCollections(users, questions, puzzles *mongo.Collection) *Store {
	return &Store{users: users, questions: questions, puzzles: puzzles}
}

// EnsureIndexes creates the unique indexes backing the username and
// (userId, puzzleId) invariants.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("username_unique"),
	})
	if err != nil {
		return fmt.Errorf("failed to create users index: %w", err)
	}

	_, err = s.puzzles.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "puzzleId", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("user_puzzle_unique"),
	})
	if err != nil {
		return fmt.Errorf("failed to create puzzles index: %w", err)
	}
	return nil
}

// Ping checks that the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.users.Database().Client().Ping(ctx, readpref.Primary())
}

// InsertUser inserts u and sets its MongoID. Username uniqueness is the
// caller's concern; a unique index violation surfaces as ErrDuplicate.
func (s *Store) InsertUser(ctx context.Context, u *User) error {
	res, err := s.users.InsertOne(ctx, u)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		u.MongoID = oid
	}
	return nil
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.findUser(ctx, bson.D{{Key: "username", Value: username}})
}

// FindUserByCredentials returns the user whose username matches and whose
// stored password verifies against plain.
func (s *Store) FindUserByCredentials(ctx context.Context, username, plain string) (*User, error) {
	u, err := s.FindUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if ok, _ := password.Verify(u.Password, plain); !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

func (s *Store) FindUserByID(ctx context.Context, id string) (*User, error) {
	return s.findUser(ctx, bson.D{{Key: "id", Value: id}})
}

func (s *Store) FindLoggedInUserByID(ctx context.Context, id string) (*User, error) {
	return s.findUser(ctx, bson.D{{Key: "id", Value: id}, {Key: "isLoggedIn", Value: true}})
}

func (s *Store) findUser(ctx context.Context, filter bson.D) (*User, error) {
	var u User
	if err := s.users.FindOne(ctx, filter).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &u, nil
}

// GetUserScore returns the stored totalPoints, or 0 when the user or the
// field is absent.
func (s *Store) GetUserScore(ctx context.Context, username string) (int, error) {
	var doc struct {
		TotalPoints int `bson:"totalPoints"`
	}
	opts := options.FindOne().SetProjection(bson.D{{Key: "totalPoints", Value: 1}})
	err := s.users.FindOne(ctx, bson.D{{Key: "username", Value: username}}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get user score: %w", err)
	}
	return doc.TotalPoints, nil
}

// UpdateUserScore sets totalPoints for username, creating the document if
// it does not exist.
func (s *Store) UpdateUserScore(ctx context.Context, username string, score int) error {
	_, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "username", Value: username}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "totalPoints", Value: score}}}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to update user score: %w", err)
	}
	return nil
}

// IncrementUserScore atomically adds delta to totalPoints and returns the
// new total. It does not create missing users.
func (s *Store) IncrementUserScore(ctx context.Context, username string, delta int) (int, error) {
	var doc struct {
		TotalPoints int `bson:"totalPoints"`
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.D{{Key: "totalPoints", Value: 1}})
	err := s.users.FindOneAndUpdate(ctx,
		bson.D{{Key: "username", Value: username}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "totalPoints", Value: delta}}}},
		opts,
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to increment user score: %w", err)
	}
	return doc.TotalPoints, nil
}

// UpdateFullUser overwrites the mutable fields of the user matched by
// u.Username. The external id and _id are never touched, and an empty
// Password keeps the stored one. It reports whether a document matched.
func (s *Store) UpdateFullUser(ctx context.Context, u *User) (bool, error) {
	set := bson.D{
		{Key: "firstName", Value: u.FirstName},
		{Key: "lastName", Value: u.LastName},
		{Key: "username", Value: u.Username},
		{Key: "userType", Value: u.UserType},
		{Key: "totalPoints", Value: u.TotalPoints},
		{Key: "shapes", Value: u.Shapes},
		{Key: "isLoggedIn", Value: u.IsLoggedIn},
	}
	if u.Password != "" {
		set = append(set, bson.E{Key: "password", Value: u.Password})
	}

	res, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "username", Value: u.Username}},
		bson.D{{Key: "$set", Value: set}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to update user: %w", err)
	}
	return res.MatchedCount > 0, nil
}

// SetLoggedIn sets the isLoggedIn flag and reports whether a user matched.
func (s *Store) SetLoggedIn(ctx context.Context, username string, loggedIn bool) (bool, error) {
	res, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "username", Value: username}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "isLoggedIn", Value: loggedIn}}}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to set logged-in flag: %w", err)
	}
	return res.MatchedCount > 0, nil
}

// SetPassword replaces the stored password hash.
func (s *Store) SetPassword(ctx context.Context, username, hash string) error {
	_, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "username", Value: username}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "password", Value: hash}}}},
	)
	if err != nil {
		return fmt.Errorf("failed to set password: %w", err)
	}
	return nil
}

// GetTopUsers returns up to limit users by totalPoints descending. Ties are
// ordered by _id so a snapshot always yields the same order.
func (s *Store) GetTopUsers(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	opts := options.Find().
		SetProjection(bson.D{{Key: "username", Value: 1}, {Key: "totalPoints", Value: 1}, {Key: "_id", Value: 0}}).
		SetSort(bson.D{{Key: "totalPoints", Value: -1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))

	cur, err := s.users.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	entries := make([]LeaderboardEntry, 0, limit)
	if err := cur.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode leaderboard: %w", err)
	}
	return entries, nil
}

// GetQuestionByID returns the question payload without its _id.
func (s *Store) GetQuestionByID(ctx context.Context, id string) (Question, error) {
	var q Question
	opts := options.FindOne().SetProjection(bson.D{{Key: "_id", Value: 0}})
	if err := s.questions.FindOne(ctx, bson.D{{Key: "_id", Value: id}}, opts).Decode(&q); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find question: %w", err)
	}
	return q, nil
}

// UpsertQuestion replaces the question whose _id is id, inserting it when
// absent.
func (s *Store) UpsertQuestion(ctx context.Context, id string, q Question) error {
	doc := make(bson.M, len(q)+1)
	for k, v := range q {
		doc[k] = v
	}
	doc["_id"] = id

	_, err := s.questions.ReplaceOne(ctx, bson.D{{Key: "_id", Value: id}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert question %s: %w", id, err)
	}
	return nil
}

// UpdatePuzzleProgress upserts piecesCollected for (userID, puzzleID).
func (s *Store) UpdatePuzzleProgress(ctx context.Context, userID, puzzleID, pieces int) error {
	_, err := s.puzzles.UpdateOne(ctx,
		bson.D{{Key: "userId", Value: userID}, {Key: "puzzleId", Value: puzzleID}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "piecesCollected", Value: pieces}}}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to update puzzle progress: %w", err)
	}
	return nil
}

func (s *Store) GetUserPuzzle(ctx context.Context, userID, puzzleID int) (*PuzzleProgress, error) {
	var p PuzzleProgress
	opts := options.FindOne().SetProjection(bson.D{{Key: "_id", Value: 0}})
	err := s.puzzles.FindOne(ctx, bson.D{{Key: "userId", Value: userID}, {Key: "puzzleId", Value: puzzleID}}, opts).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find puzzle progress: %w", err)
	}
	return &p, nil
}

func (s *Store) GetAllPuzzlesByUser(ctx context.Context, userID int) ([]PuzzleProgress, error) {
	opts := options.Find().SetProjection(bson.D{{Key: "_id", Value: 0}})
	cur, err := s.puzzles.Find(ctx, bson.D{{Key: "userId", Value: userID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query puzzle progress: %w", err)
	}
	puzzles := []PuzzleProgress{}
	if err := cur.All(ctx, &puzzles); err != nil {
		return nil, fmt.Errorf("failed to decode puzzle progress: %w", err)
	}
	return puzzles, nil
}
