package task

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler は定期実行するジョブをcron式で登録する
type Scheduler struct {
	cron   *cron.Cron
	runner *Runner
	ctx    context.Context
}

func NewScheduler(ctx context.Context, runner *Runner) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		runner: runner,
		ctx:    ctx,
	}
}

// Add はspecが空なら何もしない
func (s *Scheduler) Add(name, spec string, fn func(context.Context) error) error {
	if spec == "" {
		slog.Info("schedule disabled", slog.String("task", name))
		return nil
	}
	_, err := s.cron.AddFunc(spec, func() {
		if err := s.runner.Run(s.ctx, name, fn); err != nil {
			slog.Error("scheduled task failed", slog.String("task", name), slog.Any("err", err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
	}
	slog.Info("task scheduled", slog.String("task", name), slog.String("spec", spec))
	return nil
}

func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop は実行中のジョブの終了を待つ
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
