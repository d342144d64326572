package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"hookbook/internal/model"
	"hookbook/internal/storage"
)

// Submitter replays one validated task against the engine.
type Submitter interface {
	SubmitTask(ctx context.Context, t model.Task) error
}

// RunConfig holds runtime settings for the replay loop.
type RunConfig struct {
	TasksPath         string
	BatchSize         int
	ResumeAfter       uint64
	CheckpointPath    string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration
}

// Runner streams tasks from a JSONL file, replays them in order, and
// journals every outcome. Task rejections are recorded, not retried; only
// journal writes go through the retry loop.
type Runner struct {
	cfg        RunConfig
	submitter  Submitter
	results    storage.ResultSink
	logger     *zap.Logger
	seen       map[uint64]struct{}
	checkpoint *CheckpointStore
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(cfg RunConfig, submitter Submitter, results storage.ResultSink, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:        cfg,
		submitter:  submitter,
		results:    results,
		logger:     logger,
		seen:       make(map[uint64]struct{}),
		checkpoint: NewCheckpointStore(cfg.CheckpointPath, cfg.CheckpointEnabled),
	}
}

// Run executes the replay loop.
func (r *Runner) Run(ctx context.Context) error {
	if r.submitter == nil {
		return fmt.Errorf("submitter is nil")
	}
	if r.results == nil {
		return fmt.Errorf("result sink is nil")
	}
	if r.cfg.BatchSize <= 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}

	resumeAfter := r.cfg.ResumeAfter
	resuming := resumeAfter > 0
	if r.checkpoint != nil {
		cp, ok, err := r.checkpoint.Load()
		if err != nil {
			return err
		}
		if ok && cp.LastTaskIndex > resumeAfter {
			resumeAfter = cp.LastTaskIndex
			resuming = true
			r.logger.Info("resume from checkpoint", zap.Uint64("last_task_index", resumeAfter))
		}
	}

	file, err := os.Open(r.cfg.TasksPath)
	if err != nil {
		return fmt.Errorf("open tasks file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	batch := make([]model.TaskResult, 0, r.cfg.BatchSize)
	var lastIndex uint64
	var lineNo int
	var replayed int

	for scanner.Scan() {
		lineNo++
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var t model.Task
		if err := json.Unmarshal(line, &t); err != nil {
			return fmt.Errorf("parse task at line %d: %w", lineNo, err)
		}
		if resuming && t.Index <= resumeAfter {
			continue
		}
		if r.isDuplicate(t.Index) {
			r.logger.Warn("duplicate task index skipped", zap.Uint64("index", t.Index), zap.Int("line", lineNo))
			continue
		}

		submitErr := r.submitter.SubmitTask(ctx, t)
		result := model.TaskResult{
			Index:       t.Index,
			Kind:        t.Kind.String(),
			Success:     submitErr == nil,
			ProcessedAt: time.Now().UTC().Format(time.RFC3339Nano),
		}
		if submitErr != nil {
			result.Error = submitErr.Error()
		}
		batch = append(batch, result)
		lastIndex = t.Index
		replayed++

		if len(batch) >= r.cfg.BatchSize {
			if err := r.flush(ctx, batch, lastIndex); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read tasks file: %w", err)
	}

	if len(batch) > 0 {
		if err := r.flush(ctx, batch, lastIndex); err != nil {
			return err
		}
	}

	r.logger.Info("replay complete", zap.Int("tasks", replayed), zap.Uint64("last_task_index", lastIndex))
	return nil
}

func (r *Runner) flush(ctx context.Context, batch []model.TaskResult, lastIndex uint64) error {
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		if err := r.results.PutResultBatch(batch); err != nil {
			r.logger.Warn("journal write failed", zap.Error(err), zap.Int("results", len(batch)))
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store results: %w", err)
	}

	if r.checkpoint != nil {
		if err := r.checkpoint.Save(lastIndex); err != nil {
			return err
		}
	}

	r.logger.Info("batch complete", zap.Int("results", len(batch)), zap.Uint64("last_task_index", lastIndex))
	return nil
}

func (r *Runner) isDuplicate(index uint64) bool {
	if _, ok := r.seen[index]; ok {
		return true
	}
	r.seen[index] = struct{}{}
	return false
}
