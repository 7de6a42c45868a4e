package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/AdarCohen1/MathStARz/pkg/store"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report JSON field names instead of Go field names.
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

type registerRequest struct {
	ID        string `json:"id" validate:"required"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Username  string `json:"username" validate:"required"`
	Password  string `json:"password" validate:"required,max=72"`
	UserType  *int   `json:"userType" validate:"required"`
}

type credentialsRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type updateUserRequest struct {
	FirstName   string       `json:"firstName"`
	LastName    string       `json:"lastName"`
	Username    string       `json:"username" validate:"required"`
	Password    string       `json:"password" validate:"max=72"`
	UserType    int          `json:"userType"`
	TotalPoints int          `json:"totalPoints"`
	Shapes      store.Shapes `json:"shapes"`
	IsLoggedIn  bool         `json:"isLoggedIn"`
}

func (r updateUserRequest) toUser() *store.User {
	return &store.User{
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		Username:    r.Username,
		Password:    r.Password,
		UserType:    r.UserType,
		TotalPoints: r.TotalPoints,
		Shapes:      r.Shapes,
		IsLoggedIn:  r.IsLoggedIn,
	}
}

type puzzleRequest struct {
	UserID          *int `json:"userId" validate:"required"`
	PuzzleID        *int `json:"puzzleId" validate:"required"`
	PiecesCollected *int `json:"piecesCollected" validate:"required,gte=0"`
}

type scoreRequest struct {
	Username string `json:"username" validate:"required"`
	Score    *int   `json:"score" validate:"required"`
}

type logoutRequest struct {
	Username string `json:"username"`
}

// decodeAndValidate reads a JSON body into dst and validates it.
func decodeAndValidate(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := getValidator().Struct(dst); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: %s", field, fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

// decodeUsername accepts either a bare JSON string or {"username": ...}.
func decodeUsername(r *http.Request) (string, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return "", err
	}

	var name string
	if err := json.Unmarshal(body, &name); err == nil {
		if name == "" {
			return "", errors.New("username: required")
		}
		return name, nil
	}

	var req logoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return "", fmt.Errorf("invalid request body: %w", err)
	}
	if req.Username == "" {
		return "", errors.New("username: required")
	}
	return req.Username, nil
}
