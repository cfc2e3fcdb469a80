package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/wfunc/probability-game/internal/config"
	apperrors "github.com/wfunc/probability-game/internal/errors"
	"github.com/wfunc/probability-game/internal/logger"
	"go.uber.org/zap"
)

// RefillJobName 每日补充次数任务名
const RefillJobName = "daily-refill"

const refillTimeout = time.Minute

// Refiller 批量补充次数
type Refiller interface {
	RefillAll(ctx context.Context, budget int) (int64, error)
}

// Scheduler 定时任务
type Scheduler struct {
	sched    gocron.Scheduler
	job      gocron.Job
	refiller Refiller
	budget   int
	log      *zap.Logger
}

// New 创建定时任务，refill_budget 为0时使用当前规则中的学生次数
func New(cfg config.SchedulerConfig, refiller Refiller, log *zap.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.GetModuleLogger(logger.ModuleScheduler)
	}

	loc := time.Local
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrConfigValidate, "无效的时区: %s", cfg.Timezone)
		}
		loc = l
	}

	sched, err := gocron.NewScheduler(gocron.WithLocation(loc))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrUnknown, "创建调度器失败")
	}

	s := &Scheduler{
		sched:    sched,
		refiller: refiller,
		budget:   cfg.RefillBudget,
		log:      log,
	}

	job, err := sched.NewJob(
		gocron.CronJob(cfg.RefillCron, false),
		gocron.NewTask(s.runRefill),
		gocron.WithName(RefillJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, apperrors.Wrapf(err, apperrors.ErrConfigValidate, "无效的 cron 表达式: %s", cfg.RefillCron)
	}
	s.job = job
	return s, nil
}

func (s *Scheduler) runRefill() {
	ctx, cancel := context.WithTimeout(context.Background(), refillTimeout)
	defer cancel()
	if _, err := s.Refill(ctx); err != nil {
		s.log.Error("补充次数任务失败", zap.Error(err))
	}
}

// Refill 执行一次批量补充
func (s *Scheduler) Refill(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := s.refiller.RefillAll(ctx, s.budget)
	if err != nil {
		return 0, err
	}
	s.log.Info("补充次数任务完成",
		zap.Int64("affected", n),
		zap.Duration("duration", time.Since(start)),
	)
	return n, nil
}

// Start 启动调度
func (s *Scheduler) Start() {
	s.sched.Start()
	if next, err := s.job.NextRun(); err == nil {
		s.log.Info("定时任务已启动",
			zap.String("job", RefillJobName),
			zap.Time("next_run", next),
		)
	}
}

// RunNow 立即触发一次补充任务
func (s *Scheduler) RunNow() error {
	return s.job.RunNow()
}

// Jobs 已注册的任务名
func (s *Scheduler) Jobs() []string {
	jobs := s.sched.Jobs()
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name())
	}
	return names
}

// Shutdown 停止调度并等待运行中的任务
func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}
