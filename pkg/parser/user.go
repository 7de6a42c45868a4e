// Package parser turns exported user change messages into reporting rows.
package parser

import (
	"errors"
	"fmt"
	"time"

	"github.com/AdarCohen1/MathStARz/pkg/writer"

	"github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrMissingUserID    = errors.New("missing user id")
	ErrUnknownOperation = errors.New("unknown operation")
	ErrMissingUser      = errors.New("missing user document")
)

type envelope struct {
	EventID     string              `json:"event_id"`
	Operation   string              `json:"operation"`
	UserID      string              `json:"user_id"`
	User        *userDoc            `json:"user"`
	ClusterTime primitive.Timestamp `json:"cluster_time"`
}

type userDoc struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	UserType    int    `json:"userType"`
	TotalPoints int    `json:"totalPoints"`
	Shapes      struct {
		Triangle int `json:"triangle"`
		Square   int `json:"square"`
		Circle   int `json:"circle"`
	} `json:"shapes"`
	IsLoggedIn bool `json:"isLoggedIn"`
}

// ParseUserChange decodes one message value. Deletes carry only the user id.
func ParseUserChange(data []byte) (writer.UserRow, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return writer.UserRow{}, fmt.Errorf("failed to decode user change: %w", err)
	}
	if env.UserID == "" {
		return writer.UserRow{}, ErrMissingUserID
	}

	row := writer.UserRow{
		UserID:    env.UserID,
		Operation: env.Operation,
		ChangedAt: time.Unix(int64(env.ClusterTime.T), 0).UTC(),
	}

	switch env.Operation {
	case "delete":
		row.Deleted = true
		return row, nil
	case "insert", "update", "replace":
	default:
		return writer.UserRow{}, fmt.Errorf("%w: %q", ErrUnknownOperation, env.Operation)
	}

	if env.User == nil {
		return writer.UserRow{}, ErrMissingUser
	}
	u := env.User
	row.ExternalID = u.ID
	row.Username = u.Username
	row.UserType = u.UserType
	row.TotalPoints = u.TotalPoints
	row.Triangle = u.Shapes.Triangle
	row.Square = u.Shapes.Square
	row.Circle = u.Shapes.Circle
	row.IsLoggedIn = u.IsLoggedIn
	return row, nil
}
