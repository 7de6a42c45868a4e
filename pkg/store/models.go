package store

import "go.mongodb.org/mongo-driver/bson/primitive"

// Shapes counts the shape types a user has collected.
type Shapes struct {
	Triangle int `bson:"triangle" json:"triangle" validate:"gte=0"`
	Square   int `bson:"square" json:"square" validate:"gte=0"`
	Circle   int `bson:"circle" json:"circle" validate:"gte=0"`
}

// User is a document in the users collection. Password holds a bcrypt
// hash (or a legacy plaintext value) and is never serialized to clients.
type User struct {
	MongoID     primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	ID          string             `bson:"id" json:"id"`
	FirstName   string             `bson:"firstName" json:"firstName"`
	LastName    string             `bson:"lastName" json:"lastName"`
	Username    string             `bson:"username" json:"username"`
	Password    string             `bson:"password" json:"-"`
	UserType    int                `bson:"userType" json:"userType"`
	TotalPoints int                `bson:"totalPoints" json:"totalPoints"`
	Shapes      Shapes             `bson:"shapes" json:"shapes"`
	IsLoggedIn  bool               `bson:"isLoggedIn" json:"isLoggedIn"`
}

// LeaderboardEntry is the projection returned by GetTopUsers.
type LeaderboardEntry struct {
	Username    string `bson:"username" json:"username"`
	TotalPoints int    `bson:"totalPoints" json:"totalPoints"`
}

// PuzzleProgress is a document in the puzzles collection, unique per
// (UserID, PuzzleID).
type PuzzleProgress struct {
	UserID          int `bson:"userId" json:"userId"`
	PuzzleID        int `bson:"puzzleId" json:"puzzleId"`
	PiecesCollected int `bson:"piecesCollected" json:"piecesCollected"`
}

// Question is an opaque question payload. Its fields are managed outside
// this service.
type Question map[string]interface{}
