package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AdarCohen1/MathStARz/internal/game"
	"github.com/AdarCohen1/MathStARz/pkg/logger"
	"github.com/AdarCohen1/MathStARz/pkg/store"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type MockService struct{ mock.Mock }

func (m *MockService) Register(ctx context.Context, r game.Registration) (string, error) {
	args := m.Called(ctx, r)
	return args.String(0), args.Error(1)
}
func (m *MockService) Login(ctx context.Context, username, password string) (*store.User, error) {
	args := m.Called(ctx, username, password)
	u, _ := args.Get(0).(*store.User)
	return u, args.Error(1)
}
func (m *MockService) Logout(ctx context.Context, username string) error {
	return m.Called(ctx, username).Error(0)
}
func (m *MockService) UserExists(ctx context.Context, username string) (bool, error) {
	args := m.Called(ctx, username)
	return args.Bool(0), args.Error(1)
}
func (m *MockService) VerifyPassword(ctx context.Context, username, password string) (bool, error) {
	args := m.Called(ctx, username, password)
	return args.Bool(0), args.Error(1)
}
func (m *MockService) IsLoggedIn(ctx context.Context, username string) (bool, error) {
	args := m.Called(ctx, username)
	return args.Bool(0), args.Error(1)
}
func (m *MockService) UpdateScore(ctx context.Context, username string, delta int) (int, error) {
	args := m.Called(ctx, username, delta)
	return args.Int(0), args.Error(1)
}
func (m *MockService) Score(ctx context.Context, username string) (int, error) {
	args := m.Called(ctx, username)
	return args.Int(0), args.Error(1)
}
func (m *MockService) Leaderboard(ctx context.Context, limit int) ([]store.LeaderboardEntry, error) {
	args := m.Called(ctx, limit)
	e, _ := args.Get(0).([]store.LeaderboardEntry)
	return e, args.Error(1)
}
func (m *MockService) Question(ctx context.Context, id string) (store.Question, error) {
	args := m.Called(ctx, id)
	q, _ := args.Get(0).(store.Question)
	return q, args.Error(1)
}
func (m *MockService) FindUser(ctx context.Context, id, username string) (*store.User, error) {
	args := m.Called(ctx, id, username)
	u, _ := args.Get(0).(*store.User)
	return u, args.Error(1)
}
func (m *MockService) UpdateUser(ctx context.Context, u *store.User) error {
	return m.Called(ctx, u).Error(0)
}
func (m *MockService) CheckLoggedIn(ctx context.Context, id string) (*store.User, error) {
	args := m.Called(ctx, id)
	u, _ := args.Get(0).(*store.User)
	return u, args.Error(1)
}
func (m *MockService) UpdatePuzzle(ctx context.Context, p store.PuzzleProgress) error {
	return m.Called(ctx, p).Error(0)
}
func (m *MockService) Puzzle(ctx context.Context, userID, puzzleID int) (*store.PuzzleProgress, error) {
	args := m.Called(ctx, userID, puzzleID)
	p, _ := args.Get(0).(*store.PuzzleProgress)
	return p, args.Error(1)
}
func (m *MockService) UserPuzzles(ctx context.Context, userID int) ([]store.PuzzleProgress, error) {
	args := m.Called(ctx, userID)
	p, _ := args.Get(0).([]store.PuzzleProgress)
	return p, args.Error(1)
}

func newTestRouter(svc GameService) http.Handler {
	return NewRouter(svc, logger.NewNop(), Options{})
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestRoot(t *testing.T) {
	rec := do(t, newTestRouter(new(MockService)), http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MathStarz API is live!", decode(t, rec)["message"])
}

func TestRegisterHandler(t *testing.T) {
	body := `{"id":"u1","firstName":"A","lastName":"B","username":"alice","password":"pw","userType":0}`

	tests := []struct {
		name       string
		body       string
		setup      func(*MockService)
		wantStatus int
		wantKey    string
		wantValue  string
	}{
		{
			name: "success",
			body: body,
			setup: func(m *MockService) {
				m.On("Register", mock.Anything, game.Registration{
					ID: "u1", FirstName: "A", LastName: "B", Username: "alice", Password: "pw", UserType: 0,
				}).Return(game.MsgRegistered, nil)
			},
			wantStatus: http.StatusOK,
			wantKey:    "message",
			wantValue:  "User registered successfully",
		},
		{
			name: "duplicate username",
			body: body,
			setup: func(m *MockService) {
				m.On("Register", mock.Anything, mock.Anything).Return("", game.ErrConflict)
			},
			wantStatus: http.StatusBadRequest,
			wantKey:    "detail",
			wantValue:  "Username already exists",
		},
		{
			name:       "missing userType",
			body:       `{"id":"u1","username":"alice","password":"pw"}`,
			setup:      func(*MockService) {},
			wantStatus: http.StatusUnprocessableEntity,
			wantKey:    "detail",
			wantValue:  "userType: required",
		},
		{
			name:       "password over 72 characters",
			body:       `{"id":"u1","username":"alice","password":"` + strings.Repeat("p", 73) + `","userType":0}`,
			setup:      func(*MockService) {},
			wantStatus: http.StatusUnprocessableEntity,
			wantKey:    "detail",
			wantValue:  "password: max=72",
		},
		{
			name: "password over 72 bytes",
			body: `{"id":"u1","username":"alice","password":"` + strings.Repeat("€", 30) + `","userType":0}`,
			setup: func(m *MockService) {
				m.On("Register", mock.Anything, mock.Anything).Return("", fmt.Errorf("%w: too long", game.ErrInvalidInput))
			},
			wantStatus: http.StatusBadRequest,
			wantKey:    "detail",
			wantValue:  "password exceeds 72 bytes",
		},
		{
			name:       "malformed body",
			body:       `{"id":`,
			setup:      func(*MockService) {},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "store failure",
			body: body,
			setup: func(m *MockService) {
				m.On("Register", mock.Anything, mock.Anything).Return("", errors.New("connection reset"))
			},
			wantStatus: http.StatusInternalServerError,
			wantKey:    "detail",
			wantValue:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := new(MockService)
			tt.setup(m)
			rec := do(t, newTestRouter(m), http.MethodPost, "/users/register", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantKey != "" {
				assert.Equal(t, tt.wantValue, decode(t, rec)[tt.wantKey])
			}
		})
	}
}

func TestLoginHandler(t *testing.T) {
	m := new(MockService)
	id := primitive.NewObjectID()
	m.On("Login", mock.Anything, "alice", "pw").Return(&store.User{
		MongoID: id, ID: "u1", Username: "alice", Password: "$2a$hash", IsLoggedIn: true,
	}, nil)
	m.On("Login", mock.Anything, "alice", "bad").Return(nil, game.ErrUnauthorized)
	h := newTestRouter(m)

	rec := do(t, h, http.MethodPost, "/users/login", `{"username":"alice","password":"pw"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, "Login successful", out["message"])
	user := out["user"].(map[string]interface{})
	assert.Equal(t, id.Hex(), user["_id"])
	assert.Equal(t, true, user["isLoggedIn"])
	assert.NotContains(t, user, "password")
	assert.NotContains(t, rec.Body.String(), "$2a$hash")

	rec = do(t, h, http.MethodPost, "/users/login", `{"username":"alice","password":"bad"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid credentials", decode(t, rec)["detail"])
}

func TestLogoutHandler(t *testing.T) {
	m := new(MockService)
	m.On("Logout", mock.Anything, "alice").Return(nil)
	m.On("Logout", mock.Anything, "ghost").Return(game.ErrNotFound)
	h := newTestRouter(m)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantKey    string
		wantValue  string
	}{
		{"bare string body", `"alice"`, http.StatusOK, "message", "User logged out"},
		{"object body", `{"username":"alice"}`, http.StatusOK, "message", "User logged out"},
		{"unknown user", `"ghost"`, http.StatusNotFound, "detail", "User not found"},
		{"empty username", `""`, http.StatusUnprocessableEntity, "detail", "username: required"},
		{"garbage", `[1,2]`, http.StatusUnprocessableEntity, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/users/logout", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantKey != "" {
				assert.Equal(t, tt.wantValue, decode(t, rec)[tt.wantKey])
			}
		})
	}
}

func TestBooleanEndpointsReturnStrings(t *testing.T) {
	m := new(MockService)
	m.On("UserExists", mock.Anything, "alice").Return(true, nil)
	m.On("UserExists", mock.Anything, "ghost").Return(false, nil)
	m.On("IsLoggedIn", mock.Anything, "alice").Return(true, nil)
	m.On("VerifyPassword", mock.Anything, "alice", "bad").Return(false, nil)
	h := newTestRouter(m)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   string
	}{
		{"exists", http.MethodGet, "/users/exists?username=alice", "", `"true"`},
		{"not exists", http.MethodGet, "/users/exists?username=ghost", "", `"false"`},
		{"logged in", http.MethodGet, "/users/is-logged-in?username=alice", "", `"true"`},
		{"verify mismatch", http.MethodPost, "/users/verify-password", `{"username":"alice","password":"bad"}`, `"false"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.target, tt.body)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, rec.Body.String())
		})
	}

	rec := do(t, h, http.MethodGet, "/users/exists", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLeaderboardHandler(t *testing.T) {
	m := new(MockService)
	entries := []store.LeaderboardEntry{{Username: "a", TotalPoints: 9}, {Username: "b", TotalPoints: 4}}
	m.On("Leaderboard", mock.Anything, 0).Return(entries, nil)
	m.On("Leaderboard", mock.Anything, 3).Return(entries, nil)
	h := newTestRouter(m)

	for _, target := range []string{"/users/leaderboard", "/users/leaderboard?limit=abc", "/users/leaderboard?limit=3"} {
		rec := do(t, h, http.MethodGet, target, "")
		require.Equal(t, http.StatusOK, rec.Code, target)
		assert.JSONEq(t, `[{"username":"a","totalPoints":9},{"username":"b","totalPoints":4}]`, rec.Body.String())
	}
	m.AssertNumberOfCalls(t, "Leaderboard", 3)
}

func TestQuestionHandler(t *testing.T) {
	m := new(MockService)
	m.On("Question", mock.Anything, "q1").Return(store.Question{"text": "2+2?", "answer": "4"}, nil)
	m.On("Question", mock.Anything, "nope").Return(nil, game.ErrNotFound)
	h := newTestRouter(m)

	rec := do(t, h, http.MethodGet, "/questions/q1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"text":"2+2?","answer":"4"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/questions/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Question not found", decode(t, rec)["detail"])
}

func TestGetUserHandler(t *testing.T) {
	m := new(MockService)
	m.On("FindUser", mock.Anything, "u1", "").Return(&store.User{ID: "u1", Username: "alice"}, nil)
	m.On("FindUser", mock.Anything, "", "ghost").Return(nil, game.ErrNotFound)
	m.On("FindUser", mock.Anything, "", "").Return(nil, game.ErrInvalidInput)
	h := newTestRouter(m)

	rec := do(t, h, http.MethodGet, "/users?id=u1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", decode(t, rec)["username"])

	rec = do(t, h, http.MethodGet, "/users?username=ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "User not found", decode(t, rec)["detail"])

	rec = do(t, h, http.MethodGet, "/users", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing id or username", decode(t, rec)["detail"])
}

func TestUpdateUserHandler(t *testing.T) {
	m := new(MockService)
	m.On("UpdateUser", mock.Anything, mock.MatchedBy(func(u *store.User) bool {
		return u.Username == "alice" && u.TotalPoints == 12 && u.Shapes.Circle == 2 && u.Password == ""
	})).Return(nil)
	h := newTestRouter(m)

	rec := do(t, h, http.MethodPost, "/users/update",
		`{"firstName":"A","lastName":"B","username":"alice","password":"","userType":1,"totalPoints":12,"shapes":{"triangle":0,"square":1,"circle":2},"isLoggedIn":true}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "User data updated", decode(t, rec)["message"])

	rec = do(t, h, http.MethodPost, "/users/update", `{"username":"alice","shapes":{"triangle":-1}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "shapes.triangle: gte=0", decode(t, rec)["detail"])

	rec = do(t, h, http.MethodPost, "/users/update", `{"username":"alice","password":"`+strings.Repeat("p", 80)+`"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "password: max=72", decode(t, rec)["detail"])
	m.AssertNumberOfCalls(t, "UpdateUser", 1)
}

func TestCheckLoggedInHandler(t *testing.T) {
	m := new(MockService)
	m.On("CheckLoggedIn", mock.Anything, "u1").Return(&store.User{ID: "u1", IsLoggedIn: true}, nil)
	m.On("CheckLoggedIn", mock.Anything, "u2").Return(nil, game.ErrNotFound)
	h := newTestRouter(m)

	rec := do(t, h, http.MethodGet, "/users/check-loggedin?id=u1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "loggedin", decode(t, rec)["status"])

	rec = do(t, h, http.MethodGet, "/users/check-loggedin?id=u2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "User not logged in", decode(t, rec)["detail"])
}

func TestScoreHandlers(t *testing.T) {
	m := new(MockService)
	m.On("UpdateScore", mock.Anything, "alice", 5).Return(8, nil)
	m.On("UpdateScore", mock.Anything, "ghost", 5).Return(0, game.ErrNotFound)
	m.On("Score", mock.Anything, "alice").Return(8, nil)
	h := newTestRouter(m)

	rec := do(t, h, http.MethodPost, "/users/score", `{"username":"alice","score":5}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"success","totalPoints":8}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/users/score", `{"username":"ghost","score":5}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/users/score?username=alice", "")
	assert.JSONEq(t, `{"username":"alice","totalPoints":8}`, rec.Body.String())
}

func TestPuzzleHandlers(t *testing.T) {
	m := new(MockService)
	m.On("UpdatePuzzle", mock.Anything, store.PuzzleProgress{UserID: 1, PuzzleID: 2, PiecesCollected: 0}).Return(nil)
	m.On("Puzzle", mock.Anything, 1, 2).Return(&store.PuzzleProgress{UserID: 1, PuzzleID: 2, PiecesCollected: 0}, nil)
	m.On("Puzzle", mock.Anything, 1, 3).Return(nil, game.ErrNotFound)
	m.On("UserPuzzles", mock.Anything, 7).Return([]store.PuzzleProgress(nil), nil)
	h := newTestRouter(m)

	rec := do(t, h, http.MethodPost, "/puzzles/update", `{"userId":1,"puzzleId":2,"piecesCollected":0}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Puzzle progress updated", decode(t, rec)["message"])

	rec = do(t, h, http.MethodPost, "/puzzles/update", `{"userId":1,"puzzleId":2}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodGet, "/puzzles/get?userId=1&puzzleId=2", "")
	assert.JSONEq(t, `{"userId":1,"puzzleId":2,"piecesCollected":0}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/puzzles/get?userId=1&puzzleId=3", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Puzzle not found", decode(t, rec)["detail"])

	rec = do(t, h, http.MethodGet, "/puzzles/get?userId=x&puzzleId=3", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodGet, "/puzzles/get?userId=1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/puzzles/user?userId=7", "")
	assert.Equal(t, "[]", rec.Body.String())
}

func TestCORSAllowsAnyOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/users/login", nil)
	req.Header.Set("Origin", "http://game.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	newTestRouter(new(MockService)).ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	m := new(MockService)
	m.On("Score", mock.Anything, "alice").Return(1, nil)
	h := NewRouter(m, logger.NewNop(), Options{RateLimit: 2})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, do(t, h, http.MethodGet, "/users/score?username=alice", "").Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
