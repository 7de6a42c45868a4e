package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/AdarCohen1/MathStARz/internal/game"
	"github.com/AdarCohen1/MathStARz/pkg/logger"
	"github.com/AdarCohen1/MathStARz/pkg/store"

	"github.com/go-chi/chi/v5"
)

// GameService is the domain surface the handlers call.
type GameService interface {
	Register(ctx context.Context, r game.Registration) (string, error)
	Login(ctx context.Context, username, password string) (*store.User, error)
	Logout(ctx context.Context, username string) error
	UserExists(ctx context.Context, username string) (bool, error)
	VerifyPassword(ctx context.Context, username, password string) (bool, error)
	IsLoggedIn(ctx context.Context, username string) (bool, error)
	UpdateScore(ctx context.Context, username string, delta int) (int, error)
	Score(ctx context.Context, username string) (int, error)
	Leaderboard(ctx context.Context, limit int) ([]store.LeaderboardEntry, error)
	Question(ctx context.Context, id string) (store.Question, error)
	FindUser(ctx context.Context, id, username string) (*store.User, error)
	UpdateUser(ctx context.Context, u *store.User) error
	CheckLoggedIn(ctx context.Context, id string) (*store.User, error)
	UpdatePuzzle(ctx context.Context, p store.PuzzleProgress) error
	Puzzle(ctx context.Context, userID, puzzleID int) (*store.PuzzleProgress, error)
	UserPuzzles(ctx context.Context, userID int) ([]store.PuzzleProgress, error)
}

type Handlers struct {
	svc    GameService
	logger *logger.Logger
}

func NewHandlers(svc GameService, l *logger.Logger) *Handlers {
	return &Handlers{svc: svc, logger: l}
}

var (
	registerDetails = details{
		game.ErrConflict:     "Username already exists",
		game.ErrInvalidInput: "password exceeds 72 bytes",
	}
	loginDetails  = details{game.ErrUnauthorized: "Invalid credentials"}
	updateDetails = details{game.ErrInvalidInput: "password exceeds 72 bytes"}
)

func (h *Handlers) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "MathStarz API is live!"})
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	msg, err := h.svc.Register(r.Context(), game.Registration{
		ID:        req.ID,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Username:  req.Username,
		Password:  req.Password,
		UserType:  *req.UserType,
	})
	if err != nil {
		h.respondError(w, r, err, registerDetails)
		return
	}
	writeJSON(w, http.StatusOK, statusBody{Status: "success", Message: msg})
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	u, err := h.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.respondError(w, r, err, loginDetails)
		return
	}
	writeJSON(w, http.StatusOK, loginBody{Status: "success", Message: game.MsgLoggedIn, User: u})
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	username, err := decodeUsername(r)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := h.svc.Logout(r.Context(), username); err != nil {
		h.respondError(w, r, err, details{game.ErrNotFound: "User not found"})
		return
	}
	writeJSON(w, http.StatusOK, statusBody{Status: "success", Message: game.MsgLoggedOut})
}

func (h *Handlers) UserExists(w http.ResponseWriter, r *http.Request) {
	username, ok := requireQuery(w, r, "username")
	if !ok {
		return
	}
	exists, err := h.svc.UserExists(r.Context(), username)
	if err != nil {
		h.respondError(w, r, err, nil)
		return
	}
	writeBool(w, exists)
}

func (h *Handlers) VerifyPassword(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	ok, err := h.svc.VerifyPassword(r.Context(), req.Username, req.Password)
	if err != nil {
		h.respondError(w, r, err, nil)
		return
	}
	writeBool(w, ok)
}

func (h *Handlers) IsLoggedIn(w http.ResponseWriter, r *http.Request) {
	username, ok := requireQuery(w, r, "username")
	if !ok {
		return
	}
	loggedIn, err := h.svc.IsLoggedIn(r.Context(), username)
	if err != nil {
		h.respondError(w, r, err, nil)
		return
	}
	writeBool(w, loggedIn)
}

func (h *Handlers) UpdateScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	total, err := h.svc.UpdateScore(r.Context(), req.Username, *req.Score)
	if err != nil {
		h.respondError(w, r, err, details{game.ErrNotFound: "User not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "totalPoints": total})
}

func (h *Handlers) Score(w http.ResponseWriter, r *http.Request) {
	username, ok := requireQuery(w, r, "username")
	if !ok {
		return
	}
	total, err := h.svc.Score(r.Context(), username)
	if err != nil {
		h.respondError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, store.LeaderboardEntry{Username: username, TotalPoints: total})
}

// Leaderboard accepts an optional ?limit; absent or unparsable values fall
// back to the configured default.
func (h *Handlers) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.svc.Leaderboard(r.Context(), limit)
	if err != nil {
		h.respondError(w, r, err, nil)
		return
	}
	if entries == nil {
		entries = []store.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handlers) Question(w http.ResponseWriter, r *http.Request) {
	q, err := h.svc.Question(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err, details{game.ErrNotFound: "Question not found"})
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	u, err := h.svc.FindUser(r.Context(), q.Get("id"), q.Get("username"))
	if err != nil {
		h.respondError(w, r, err, details{
			game.ErrNotFound:     "User not found",
			game.ErrInvalidInput: "Missing id or username",
		})
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handlers) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := h.svc.UpdateUser(r.Context(), req.toUser()); err != nil {
		h.respondError(w, r, err, updateDetails)
		return
	}
	writeJSON(w, http.StatusOK, statusBody{Status: "success", Message: game.MsgUserUpdated})
}

func (h *Handlers) CheckLoggedIn(w http.ResponseWriter, r *http.Request) {
	id, ok := requireQuery(w, r, "id")
	if !ok {
		return
	}
	u, err := h.svc.CheckLoggedIn(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err, details{game.ErrNotFound: "User not logged in"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "loggedin", "user": u})
}

func (h *Handlers) UpdatePuzzle(w http.ResponseWriter, r *http.Request) {
	var req puzzleRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	err := h.svc.UpdatePuzzle(r.Context(), store.PuzzleProgress{
		UserID:          *req.UserID,
		PuzzleID:        *req.PuzzleID,
		PiecesCollected: *req.PiecesCollected,
	})
	if err != nil {
		h.respondError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, statusBody{Status: "success", Message: game.MsgPuzzleUpdate})
}

func (h *Handlers) GetPuzzle(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireIntQuery(w, r, "userId")
	if !ok {
		return
	}
	puzzleID, ok := requireIntQuery(w, r, "puzzleId")
	if !ok {
		return
	}
	p, err := h.svc.Puzzle(r.Context(), userID, puzzleID)
	if err != nil {
		h.respondError(w, r, err, details{game.ErrNotFound: "Puzzle not found"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) UserPuzzles(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireIntQuery(w, r, "userId")
	if !ok {
		return
	}
	puzzles, err := h.svc.UserPuzzles(r.Context(), userID)
	if err != nil {
		h.respondError(w, r, err, nil)
		return
	}
	if puzzles == nil {
		puzzles = []store.PuzzleProgress{}
	}
	writeJSON(w, http.StatusOK, puzzles)
}

// requireQuery writes a 400 and returns false when the parameter is absent.
func requireQuery(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		writeDetail(w, http.StatusBadRequest, "Missing "+name)
		return "", false
	}
	return v, true
}

func requireIntQuery(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v, ok := requireQuery(w, r, name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, name+": must be an integer")
		return 0, false
	}
	return n, true
}
