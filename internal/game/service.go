// Package game holds the use-case rules of the quiz backend: registration,
// sessions, score accumulation, leaderboard and puzzle progress.
package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/AdarCohen1/MathStARz/pkg/logger"
	"github.com/AdarCohen1/MathStARz/pkg/metrics"
	"github.com/AdarCohen1/MathStARz/pkg/password"
	"github.com/AdarCohen1/MathStARz/pkg/store"

	"go.uber.org/zap"
)

const (
	MsgRegistered   = "User registered successfully"
	MsgLoggedIn     = "Login successful"
	MsgLoggedOut    = "User logged out"
	MsgUserUpdated  = "User data updated"
	MsgPuzzleUpdate = "Puzzle progress updated"
)

// Store is the storage surface the service depends on.
type Store interface {
	InsertUser(ctx context.Context, u *store.User) error
	FindUserByUsername(ctx context.Context, username string) (*store.User, error)
	FindUserByCredentials(ctx context.Context, username, plain string) (*store.User, error)
	FindUserByID(ctx context.Context, id string) (*store.User, error)
	FindLoggedInUserByID(ctx context.Context, id string) (*store.User, error)
	GetUserScore(ctx context.Context, username string) (int, error)
	UpdateUserScore(ctx context.Context, username string, score int) error
	IncrementUserScore(ctx context.Context, username string, delta int) (int, error)
	UpdateFullUser(ctx context.Context, u *store.User) (bool, error)
	SetLoggedIn(ctx context.Context, username string, loggedIn bool) (bool, error)
	SetPassword(ctx context.Context, username, hash string) error
	GetTopUsers(ctx context.Context, limit int) ([]store.LeaderboardEntry, error)
	GetQuestionByID(ctx context.Context, id string) (store.Question, error)
	UpdatePuzzleProgress(ctx context.Context, userID, puzzleID, pieces int) error
	GetUserPuzzle(ctx context.Context, userID, puzzleID int) (*store.PuzzleProgress, error)
	GetAllPuzzlesByUser(ctx context.Context, userID int) ([]store.PuzzleProgress, error)
}

// Options tunes the service.
type Options struct {
	LeaderboardLimit    int
	LeaderboardMaxLimit int
	// AtomicScore selects a single $inc for score updates instead of the
	// read-then-write sequence.
	AtomicScore bool
	BcryptCost  int
}

// Registration is the input of Register.
type Registration struct {
	ID        string
	FirstName string
	LastName  string
	Username  string
	Password  string
	UserType  int
}

// Service implements every use case on top of a Store.
type Service struct {
	store  Store
	logger *logger.Logger
	opts   Options
}

// NewService creates a new game service
func NewService(s Store, l *logger.Logger, opts Options) *Service {
	if opts.LeaderboardLimit < 1 {
		opts.LeaderboardLimit = 5
	}
	if opts.LeaderboardMaxLimit < opts.LeaderboardLimit {
		opts.LeaderboardMaxLimit = opts.LeaderboardLimit
	}
	return &Service{store: s, logger: l, opts: opts}
}

// Register creates a user with zero score, zeroed shape counters and the
// logged-out flag. It fails with ErrConflict when the username is taken.
func (s *Service) Register(ctx context.Context, r Registration) (string, error) {
	_, err := s.store.FindUserByUsername(ctx, r.Username)
	switch {
	case err == nil:
		metrics.RegistrationsTotal.WithLabelValues("conflict").Inc()
		return "", ErrConflict
	case !errors.Is(err, store.ErrNotFound):
		return "", err
	}

	hash, err := hashPassword(r.Password, s.opts.BcryptCost)
	if err != nil {
		return "", err
	}

	u := &store.User{
		ID:          r.ID,
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		Username:    r.Username,
		Password:    hash,
		UserType:    r.UserType,
		TotalPoints: 0,
		Shapes:      store.Shapes{},
		IsLoggedIn:  false,
	}
	if err := s.store.InsertUser(ctx, u); err != nil {
		// Lost a race against a concurrent registration of the same name.
		if errors.Is(err, store.ErrDuplicate) {
			metrics.RegistrationsTotal.WithLabelValues("conflict").Inc()
			return "", ErrConflict
		}
		return "", err
	}

	metrics.RegistrationsTotal.WithLabelValues("created").Inc()
	s.logger.Info("user registered", zap.String("username", r.Username), zap.Int("user_type", r.UserType))
	return MsgRegistered, nil
}

// Login verifies the credentials, marks the user logged in and returns the
// stored record. A legacy plaintext password is re-hashed on success.
func (s *Service) Login(ctx context.Context, username, plain string) (*store.User, error) {
	u, err := s.store.FindUserByCredentials(ctx, username, plain)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.LoginsTotal.WithLabelValues("rejected").Inc()
			return nil, ErrUnauthorized
		}
		return nil, err
	}

	if !password.IsHash(u.Password) {
		s.upgradePassword(ctx, username, plain)
	}

	if _, err := s.store.SetLoggedIn(ctx, username, true); err != nil {
		return nil, err
	}
	u.IsLoggedIn = true

	metrics.LoginsTotal.WithLabelValues("accepted").Inc()
	s.logger.Info("user logged in", zap.String("username", username))
	return u, nil
}

// hashPassword reports an over-long password as ErrInvalidInput.
func hashPassword(plain string, cost int) (string, error) {
	hash, err := password.Hash(plain, cost)
	if errors.Is(err, password.ErrTooLong) {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return hash, err
}

// upgradePassword failures are logged only; the login itself already
// succeeded.
func (s *Service) upgradePassword(ctx context.Context, username, plain string) {
	hash, err := password.Hash(plain, s.opts.BcryptCost)
	if err == nil {
		err = s.store.SetPassword(ctx, username, hash)
	}
	if err != nil {
		s.logger.Error("failed to upgrade legacy password", err, zap.String("username", username))
		return
	}
	metrics.PasswordUpgradesTotal.Inc()
	s.logger.Info("upgraded legacy password", zap.String("username", username))
}

// Logout clears the logged-in flag. ErrNotFound when no user matched.
func (s *Service) Logout(ctx context.Context, username string) error {
	matched, err := s.store.SetLoggedIn(ctx, username, false)
	if err != nil {
		return err
	}
	if !matched {
		return ErrNotFound
	}
	s.logger.Info("user logged out", zap.String("username", username))
	return nil
}

func (s *Service) UserExists(ctx context.Context, username string) (bool, error) {
	_, err := s.store.FindUserByUsername(ctx, username)
	return found(err)
}

func (s *Service) VerifyPassword(ctx context.Context, username, plain string) (bool, error) {
	_, err := s.store.FindUserByCredentials(ctx, username, plain)
	return found(err)
}

// IsLoggedIn is false for unknown users.
func (s *Service) IsLoggedIn(ctx context.Context, username string) (bool, error) {
	u, err := s.store.FindUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.IsLoggedIn, nil
}

func found(err error) (bool, error) {
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdateScore adds delta (any sign, no clamping) to the user's total and
// returns the new total.
func (s *Service) UpdateScore(ctx context.Context, username string, delta int) (int, error) {
	var (
		total int
		err   error
	)
	if s.opts.AtomicScore {
		total, err = s.store.IncrementUserScore(ctx, username, delta)
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrNotFound
		}
	} else {
		total, err = s.readModifyWriteScore(ctx, username, delta)
	}
	if err != nil {
		return 0, err
	}

	metrics.ScoreUpdatesTotal.Inc()
	s.logger.Debug("score updated", zap.String("username", username), zap.Int("delta", delta), zap.Int("total", total))
	return total, nil
}

// readModifyWriteScore is two separate store calls; concurrent updates for
// the same user can lose a delta.
func (s *Service) readModifyWriteScore(ctx context.Context, username string, delta int) (int, error) {
	current, err := s.store.GetUserScore(ctx, username)
	if err != nil {
		return 0, err
	}
	total := current + delta
	if err := s.store.UpdateUserScore(ctx, username, total); err != nil {
		return 0, err
	}
	return total, nil
}

// Score returns the user's total, 0 for unknown users.
func (s *Service) Score(ctx context.Context, username string) (int, error) {
	return s.store.GetUserScore(ctx, username)
}

// Leaderboard returns the top users by score. A non-positive limit means
// the configured default; larger limits are capped.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]store.LeaderboardEntry, error) {
	if limit < 1 {
		limit = s.opts.LeaderboardLimit
	}
	if limit > s.opts.LeaderboardMaxLimit {
		limit = s.opts.LeaderboardMaxLimit
	}
	return s.store.GetTopUsers(ctx, limit)
}

func (s *Service) Question(ctx context.Context, id string) (store.Question, error) {
	q, err := s.store.GetQuestionByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("question %q: %w", id, ErrNotFound)
	}
	return q, err
}

// FindUser looks a user up by external id, or by username when id is
// empty. ErrInvalidInput when both are empty.
func (s *Service) FindUser(ctx context.Context, id, username string) (*store.User, error) {
	var (
		u   *store.User
		err error
	)
	switch {
	case id != "":
		u, err = s.store.FindUserByID(ctx, id)
	case username != "":
		u, err = s.store.FindUserByUsername(ctx, username)
	default:
		return nil, ErrInvalidInput
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return u, err
}

// UpdateUser overwrites the user's fields. A non-empty password is hashed
// first; an unknown username is a no-op.
func (s *Service) UpdateUser(ctx context.Context, u *store.User) error {
	if u.Password != "" {
		hash, err := hashPassword(u.Password, s.opts.BcryptCost)
		if err != nil {
			return err
		}
		u.Password = hash
	}

	matched, err := s.store.UpdateFullUser(ctx, u)
	if err != nil {
		return err
	}
	if !matched {
		s.logger.Debug("update for unknown user ignored", zap.String("username", u.Username))
	}
	return nil
}

// CheckLoggedIn returns the user with external id only if logged in.
func (s *Service) CheckLoggedIn(ctx context.Context, id string) (*store.User, error) {
	u, err := s.store.FindLoggedInUserByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return u, err
}

func (s *Service) UpdatePuzzle(ctx context.Context, p store.PuzzleProgress) error {
	if err := s.store.UpdatePuzzleProgress(ctx, p.UserID, p.PuzzleID, p.PiecesCollected); err != nil {
		return err
	}
	metrics.PuzzleUpdatesTotal.Inc()
	return nil
}

func (s *Service) Puzzle(ctx context.Context, userID, puzzleID int) (*store.PuzzleProgress, error) {
	p, err := s.store.GetUserPuzzle(ctx, userID, puzzleID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *Service) UserPuzzles(ctx context.Context, userID int) ([]store.PuzzleProgress, error) {
	return s.store.GetAllPuzzlesByUser(ctx, userID)
}
