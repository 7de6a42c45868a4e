package exporter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AdarCohen1/MathStARz/pkg/changestream"
	"github.com/AdarCohen1/MathStARz/pkg/logger"
	"github.com/AdarCohen1/MathStARz/pkg/retry"

	"github.com/goccy/go-json"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

type MockTokens struct{ mock.Mock }

func (m *MockTokens) Save(ctx context.Context, tok bson.Raw) error {
	return m.Called(ctx, tok).Error(0)
}
func (m *MockTokens) Load(ctx context.Context) (bson.Raw, error) {
	args := m.Called(ctx)
	tok, _ := args.Get(0).(bson.Raw)
	return tok, args.Error(1)
}

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(ctx context.Context, key, value []byte) error {
	return m.Called(ctx, key, value).Error(0)
}
func (m *MockPublisher) Close() error { return m.Called().Error(0) }

type MockWatcher struct{ mock.Mock }

func (m *MockWatcher) Watch(ctx context.Context, tok bson.Raw) (<-chan changestream.UserChange, <-chan error) {
	args := m.Called(ctx, tok)
	return args.Get(0).(<-chan changestream.UserChange), args.Get(1).(<-chan error)
}
func (m *MockWatcher) Close() error { return m.Called().Error(0) }

func newTestService(mt *MockTokens, mp *MockPublisher, mw *MockWatcher, attempts int) *Service {
	s := NewService(logger.NewNop(), mt, mp, mw)
	s.retryOpts = retry.RetryOptions{MaxAttempts: attempts, InitialInterval: time.Microsecond, MaxInterval: time.Microsecond, Multiplier: 1}
	return s
}

func TestExportOrdering(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("token is saved only after the publish is acknowledged", prop.ForAll(
		func(userID string, publishOK bool) bool {
			mt, mp := new(MockTokens), new(MockPublisher)
			s := newTestService(mt, mp, new(MockWatcher), 1)
			change := changestream.UserChange{EventID: "e", Operation: "update", UserID: userID, ResumeToken: bson.Raw("tok")}

			var publishErr error
			if !publishOK {
				publishErr = errors.New("broker down")
			}
			mp.On("Publish", mock.Anything, []byte(userID), mock.Anything).Return(publishErr)
			mt.On("Save", mock.Anything, change.ResumeToken).Return(nil)

			err := s.export(context.Background(), change)
			if publishOK {
				return err == nil && mt.AssertNumberOfCalls(t, "Save", 1)
			}
			return err != nil && mt.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
		},
		gen.Identifier(),
		gen.Bool(),
	))

	properties.Property("token save is retried up to the attempt limit", prop.ForAll(
		func(attempts int) bool {
			mt, mp := new(MockTokens), new(MockPublisher)
			s := newTestService(mt, mp, new(MockWatcher), attempts)

			mp.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
			mt.On("Save", mock.Anything, mock.Anything).Return(errors.New("disk full"))

			err := s.export(context.Background(), changestream.UserChange{UserID: "u", ResumeToken: bson.Raw("t")})
			return err != nil && mt.AssertNumberOfCalls(t, "Save", attempts)
		},
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestExportPayload(t *testing.T) {
	mt, mp := new(MockTokens), new(MockPublisher)
	s := newTestService(mt, mp, new(MockWatcher), 1)

	var payload []byte
	mp.On("Publish", mock.Anything, []byte("u1"), mock.Anything).Run(func(args mock.Arguments) {
		payload = args.Get(2).([]byte)
	}).Return(nil)
	mt.On("Save", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, s.export(context.Background(), changestream.UserChange{
		EventID:   "e1",
		Operation: "insert",
		UserID:    "u1",
		User:      map[string]interface{}{"username": "alice", "totalPoints": 0},
	}))

	var decoded changestream.UserChange
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "alice", decoded.User["username"])
	assert.NotContains(t, string(payload), "password")
}

func TestRunExportsUntilStreamEnds(t *testing.T) {
	mt, mp, mw := new(MockTokens), new(MockPublisher), new(MockWatcher)
	s := newTestService(mt, mp, mw, 1)

	changes := make(chan changestream.UserChange, 2)
	errs := make(chan error, 1)
	changes <- changestream.UserChange{EventID: "1", UserID: "a", ResumeToken: bson.Raw("t1")}
	changes <- changestream.UserChange{EventID: "2", UserID: "b", ResumeToken: bson.Raw("t2")}
	close(changes)
	errs <- errors.New("cursor killed")
	close(errs)

	mt.On("Load", mock.Anything).Return(bson.Raw("t0"), nil)
	mw.On("Watch", mock.Anything, bson.Raw("t0")).Return((<-chan changestream.UserChange)(changes), (<-chan error)(errs))
	mp.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	mt.On("Save", mock.Anything, mock.Anything).Return(nil)
	mw.On("Close").Return(nil)
	mp.On("Close").Return(nil)

	err := s.Run(context.Background())
	assert.ErrorContains(t, err, "cursor killed")
	mt.AssertCalled(t, "Save", mock.Anything, bson.Raw("t2"))
	mw.AssertCalled(t, "Close")
	mp.AssertCalled(t, "Close")
}

func TestRunLoadFailure(t *testing.T) {
	mt, mp, mw := new(MockTokens), new(MockPublisher), new(MockWatcher)
	s := newTestService(mt, mp, mw, 1)

	mt.On("Load", mock.Anything).Return(nil, errors.New("redis unavailable"))
	mw.On("Close").Return(nil)
	mp.On("Close").Return(nil)

	err := s.Run(context.Background())
	assert.ErrorContains(t, err, "resume token")
	mw.AssertNotCalled(t, "Watch", mock.Anything, mock.Anything)
}
