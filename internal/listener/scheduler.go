/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package listener

import (
	"context"
	"fmt"
	"sync"
	"time"

	"model-market-go/internal/metrics"

	"go.uber.org/zap"
)

// Job is a unit of periodic work. Run is called once at start and then every Interval.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs each job on its own ticker until stopped
type Scheduler struct {
	jobs     []Job
	wg       sync.WaitGroup
	started  bool
	stopOnce sync.Once

	// Control channels
	stopChan chan struct{}
	doneChan chan struct{}
}

func NewScheduler(jobs ...Job) *Scheduler {
	return &Scheduler{
		jobs:     jobs,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start launches every job loop
func (s *Scheduler) Start(ctx context.Context) error {
	zap.L().Info("Starting scheduler", zap.Int("jobs", len(s.jobs)))

	for _, job := range s.jobs {
		if job.Interval <= 0 {
			return fmt.Errorf("job %s has no interval", job.Name)
		}
		if job.Run == nil {
			return fmt.Errorf("job %s has no run function", job.Name)
		}
	}

	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.pollLoop(ctx, job)

		zap.L().Info("Job scheduled",
			zap.String("job", job.Name),
			zap.Duration("interval", job.Interval))
	}

	s.started = true
	go func() {
		s.wg.Wait()
		close(s.doneChan)
	}()

	return nil
}

// Stop gracefully stops the scheduler and waits for running ticks to finish. It is a no-op
// when Start never launched the jobs.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		zap.L().Info("Stopping scheduler")
		close(s.stopChan)
		if s.started {
			<-s.doneChan
		}
		zap.L().Info("Scheduler stopped")
	})
}

func (s *Scheduler) pollLoop(ctx context.Context, job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.tick(ctx, job)

	for {
		select {
		case <-ticker.C:
			s.tick(ctx, job)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, job Job) {
	start := time.Now()
	err := runJob(ctx, job)
	metrics.RecordJobTick(job.Name, err)

	if err != nil {
		zap.L().Error("Job tick failed",
			zap.String("job", job.Name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return
	}
	zap.L().Debug("Job tick finished",
		zap.String("job", job.Name),
		zap.Duration("elapsed", time.Since(start)))
}

// runJob turns a panicking tick into an error so the job keeps its schedule
func runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("Job tick panicked",
				zap.String("job", job.Name),
				zap.Any("panic", r),
				zap.Stack("stack"))
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
		}
	}()
	return job.Run(ctx)
}
