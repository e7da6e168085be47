package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Songmu/retry"
	"github.com/pyama86/firefighter/metrics"
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent はリトライしても結果が変わらないエラーに印をつける
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Runner はハンドラやバッチを一定回数リトライしつつタイムアウト付きで実行する
type Runner struct {
	Retries    uint
	RetryDelay time.Duration
	Timeout    time.Duration
}

func NewRunner(retries int, delay, timeout time.Duration) *Runner {
	if retries < 0 {
		retries = 0
	}
	return &Runner{
		Retries:    uint(retries),
		RetryDelay: delay,
		Timeout:    timeout,
	}
}

// Run はfnを最大Retries+1回実行する。Permanentなエラーはその場で打ち切る
func (r *Runner) Run(ctx context.Context, name string, fn func(context.Context) error) error {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	var last error
	attempts := 0
	err := retry.Retry(r.Retries+1, r.RetryDelay, func() error {
		attempts++
		last = fn(ctx)
		if last != nil {
			slog.Warn("task attempt failed",
				slog.String("task", name),
				slog.Int("attempt", attempts),
				slog.Any("err", last),
			)
		}
		if IsPermanent(last) || ctx.Err() != nil {
			return nil
		}
		return last
	})
	if err == nil {
		err = last
	}

	switch {
	case err == nil:
		metrics.TaskRuns.WithLabelValues(name, "success").Inc()
		return nil
	case IsPermanent(err):
		metrics.TaskRuns.WithLabelValues(name, "permanent").Inc()
	default:
		metrics.TaskRuns.WithLabelValues(name, "failure").Inc()
	}
	return fmt.Errorf("task %s failed: %w", name, err)
}

// Wrap はイベントハンドラをRunnerで包む
func Wrap[E any](r *Runner, name string, fn func(context.Context, E) error) func(context.Context, E) error {
	return func(ctx context.Context, ev E) error {
		return r.Run(ctx, name, func(ctx context.Context) error {
			return fn(ctx, ev)
		})
	}
}
