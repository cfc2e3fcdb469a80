package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/probability-game/internal/config"
	apperrors "github.com/wfunc/probability-game/internal/errors"
	"github.com/wfunc/probability-game/internal/game"
	"github.com/wfunc/probability-game/internal/models"
	"github.com/wfunc/probability-game/internal/repository"
	"go.uber.org/zap"
)

type fakeRefiller struct {
	mu      sync.Mutex
	calls   int
	budgets []int
	err     error
}

func (f *fakeRefiller) RefillAll(_ context.Context, budget int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.budgets = append(f.budgets, budget)
	return 3, f.err
}

func (f *fakeRefiller) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestNewRegistersJob(t *testing.T) {
	s, err := New(config.SchedulerConfig{RefillCron: "0 6 * * *", Timezone: "UTC"}, &fakeRefiller{}, zap.NewNop())
	require.NoError(t, err)
	defer s.Shutdown()

	assert.Equal(t, []string{RefillJobName}, s.Jobs())
}

func TestNewInvalidCron(t *testing.T) {
	_, err := New(config.SchedulerConfig{RefillCron: "not a cron"}, &fakeRefiller{}, zap.NewNop())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrConfigValidate))
}

func TestNewInvalidTimezone(t *testing.T) {
	_, err := New(config.SchedulerConfig{RefillCron: "0 6 * * *", Timezone: "Mars/Base"}, &fakeRefiller{}, zap.NewNop())
	assert.True(t, apperrors.Is(err, apperrors.ErrConfigValidate))
}

func TestRefillPassesBudget(t *testing.T) {
	f := &fakeRefiller{}
	s, err := New(config.SchedulerConfig{RefillCron: "0 6 * * *", RefillBudget: 7}, f, zap.NewNop())
	require.NoError(t, err)
	defer s.Shutdown()

	n, err := s.Refill(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, []int{7}, f.budgets)

	f.err = errors.New("db down")
	_, err = s.Refill(context.Background())
	assert.Error(t, err)
}

func TestRunNow(t *testing.T) {
	f := &fakeRefiller{}
	s, err := New(config.SchedulerConfig{RefillCron: "0 6 * * *"}, f, zap.NewNop())
	require.NoError(t, err)
	defer s.Shutdown()

	s.Start()
	require.NoError(t, s.RunNow())
	assert.Eventually(t, func() bool { return f.Calls() == 1 }, 2*time.Second, 10*time.Millisecond)
}

// storeRefiller 直接用存储做补充
type storeRefiller struct {
	store repository.GameStateStore
}

func (r storeRefiller) RefillAll(ctx context.Context, budget int) (int64, error) {
	if budget == 0 {
		budget = r.store.Rules().StudentAttemptBudget
	}
	return r.store.RefillAllStudents(ctx, budget)
}

func TestRefillWithStore(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(game.DefaultRules())
	_, err := store.UpsertOnLogin(ctx, "s1", "", false)
	require.NoError(t, err)
	_, err = store.Update(ctx, "s1", func(rec *models.GameRecord) error {
		rec.RemainingAttempts = 0
		return nil
	})
	require.NoError(t, err)

	s, err := New(config.SchedulerConfig{RefillCron: "0 6 * * *"}, storeRefiller{store: store}, zap.NewNop())
	require.NoError(t, err)
	defer s.Shutdown()

	n, err := s.Refill(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rec, err := store.Find(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 5, rec.RemainingAttempts)
}
