package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/wfunc/probability-game/internal/errors"
	"github.com/wfunc/probability-game/internal/game"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  mode: test\n"))
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "test", cfg.Server.Mode)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, game.DefaultRules(), cfg.Game.Rules)
	assert.False(t, cfg.Game.TrustClientState)
	assert.Equal(t, []string{"teacher"}, cfg.Game.TeacherIDs)
	assert.True(t, cfg.Game.IsTeacherID("Teacher"))
	assert.False(t, cfg.Game.IsTeacherID("s1"))
	assert.Equal(t, "/ws/events", cfg.WebSocket.Path)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "0.0.0.0:3000", cfg.Server.Addr())
}

func TestLoad_GameRulesFromFile(t *testing.T) {
	path := writeConfig(t, `
game:
  baseline_balance: 10
  win_threshold: 1000
  probability_decay: flat_step
  decay_step: 5
  probability_floor: 5
  history_cap: 50
  student_attempt_budget: 3
  teacher_attempt_budget: 100
  trust_client_state: true
  teacher_ids: [t1, t2]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(10), cfg.Game.BaselineBalance)
	assert.Equal(t, int64(1000), cfg.Game.WinThreshold)
	assert.Equal(t, game.DecayFlatStep, cfg.Game.ProbabilityDecay)
	assert.Equal(t, 5, cfg.Game.ProbabilityFloor)
	assert.Equal(t, 50, cfg.Game.HistoryCap)
	assert.Equal(t, 3, cfg.Game.StudentAttemptBudget)
	assert.True(t, cfg.Game.TrustClientState)
	assert.True(t, cfg.Game.IsTeacherID("t2"))
}

func TestLoad_InvalidRules(t *testing.T) {
	_, err := Load(writeConfig(t, "game:\n  history_cap: 0\n"))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidRules))
}

func TestLoad_InvalidDriver(t *testing.T) {
	_, err := Load(writeConfig(t, "database:\n  driver: oracle\n"))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrConfigValidate))
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrConfigLoad))
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PROB_GAME_SERVER_PORT", "9090")
	t.Setenv("PROB_GAME_GAME_WIN_THRESHOLD", "12800")

	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, int64(12800), cfg.Game.WinThreshold)
}

func TestLoad_LegacyDatabaseEnv(t *testing.T) {
	t.Setenv("PORT", "4000")
	t.Setenv("DB_HOST", "db.local")
	t.Setenv("DB_USER", "game")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "classroom")
	t.Setenv("DB_PORT", "")
	t.Setenv("DB_SSL", "true")

	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "host=db.local user=game password=secret dbname=classroom port=5432 sslmode=require", cfg.Database.DSN)
}

func TestValidate_SchedulerWithoutCron(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	cfg.Scheduler.Enabled = true
	cfg.Scheduler.RefillCron = ""
	assert.True(t, apperrors.Is(cfg.Validate(), apperrors.ErrConfigValidate))
}
