/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package workflow

import (
	"context"
	"sort"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/open-craft/phd/internal/manifest"
)

const pollInterval = 5 * time.Second

// DefaultTimeout bounds the wait for a single job.
const DefaultTimeout = 300 * time.Second

// Job is one launched (or attempted) workflow of a batch.
type Job struct {
	Kind      Kind
	Direction Direction
	Instance  string
	LaunchErr error
}

// Launcher creates workflow batches against the job engine and waits for
// their completion.
type Launcher struct {
	client.Client
	Applier *manifest.Applier
	BaseURL string

	// Timeout bounds the wait for each job; zero means DefaultTimeout.
	Timeout time.Duration
}

// JobTimeout is the effective per-job wait bound.
func (l *Launcher) JobTimeout() time.Duration {
	if l.Timeout > 0 {
		return l.Timeout
	}
	return DefaultTimeout
}

// LaunchBatch creates one workflow per kind in the instance namespace. The
// batch is launched eagerly: a launch failure for one kind is recorded on
// its job and does not prevent launching the others. Any stale workflow left
// over from a previous attempt is deleted first, so at most one job per
// (instance, kind, direction) exists.
func (l *Launcher) LaunchBatch(ctx context.Context, instance string, direction Direction, kinds []Kind, vars map[string]string) []Job {
	logger := log.FromContext(ctx)

	jobs := make([]Job, 0, len(kinds))
	for _, kind := range kinds {
		job := Job{Kind: kind, Direction: direction, Instance: instance}
		if err := l.deleteJob(ctx, instance, kind, direction); err != nil {
			logger.Info("failed to delete stale workflow", "kind", kind, "error", err.Error())
		}
		url := l.BaseURL + "/" + ManifestFile(kind, direction)
		if err := l.Applier.ApplyURL(ctx, url, instance, vars); err != nil {
			logger.Error(err, "failed to launch workflow", "instance", instance, "kind", kind, "direction", direction)
			job.LaunchErr = err
		}
		jobs = append(jobs, job)
	}
	return jobs
}

// AwaitBatch polls every job concurrently until it reaches a terminal
// condition or perJobTimeout elapses, so the worst-case wait is bounded by
// the largest single timeout rather than their sum. A job is Succeeded only
// when it reached the terminal condition and reported the success phase.
func (l *Launcher) AwaitBatch(ctx context.Context, jobs []Job, perJobTimeout time.Duration) map[Kind]Phase {
	outcomes := make(map[Kind]Phase, len(jobs))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			phase := l.await(ctx, job, perJobTimeout)
			mu.Lock()
			outcomes[job.Kind] = phase
			mu.Unlock()
		}(job)
	}
	wg.Wait()
	return outcomes
}

func (l *Launcher) await(ctx context.Context, job Job, timeout time.Duration) Phase {
	logger := log.FromContext(ctx).WithValues("instance", job.Instance, "kind", job.Kind, "direction", job.Direction)

	if job.LaunchErr != nil {
		return Failed
	}

	name := Name(job.Kind, job.Direction, job.Instance)
	outcome := Failed
	err := wait.PollUntilContextTimeout(ctx, pollInterval, timeout, true,
		func(ctx context.Context) (bool, error) {
			obj := newObject(name, job.Instance)
			if err := l.Get(ctx, types.NamespacedName{Name: name, Namespace: job.Instance}, obj); err != nil {
				// Transient read failures keep polling until the timeout.
				return false, nil
			}
			done, phase := terminal(obj)
			if !done {
				return false, nil
			}
			if phase == string(Succeeded) {
				outcome = Succeeded
			} else {
				logger.Info("workflow reached terminal state without success", "phase", phase)
				outcome = Failed
			}
			return true, nil
		})
	if err != nil {
		logger.Info("workflow did not complete within timeout", "timeout", timeout.String())
		return TimedOut
	}
	return outcome
}

// CleanupBatch deletes the batch's workflow records. Callers invoke it only
// when every outcome succeeded; otherwise the records stay for inspection.
func (l *Launcher) CleanupBatch(ctx context.Context, jobs []Job) {
	logger := log.FromContext(ctx)
	for _, job := range jobs {
		if err := l.deleteJob(ctx, job.Instance, job.Kind, job.Direction); err != nil {
			logger.Info("failed to delete workflow record", "kind", job.Kind, "error", err.Error())
		}
	}
}

// DeleteStale removes any job records of a previous attempt, best-effort.
func (l *Launcher) DeleteStale(ctx context.Context, instance string, direction Direction, kinds []Kind) {
	logger := log.FromContext(ctx)
	for _, kind := range kinds {
		if err := l.deleteJob(ctx, instance, kind, direction); err != nil {
			logger.Info("failed to delete stale workflow", "kind", kind, "error", err.Error())
		}
	}
}

func (l *Launcher) deleteJob(ctx context.Context, instance string, kind Kind, direction Direction) error {
	obj := newObject(Name(kind, direction, instance), instance)
	if err := l.Delete(ctx, obj); err != nil && !errors.IsNotFound(err) {
		return err
	}
	return nil
}

// AllSucceeded reports whether the whole batch succeeded, which makes it
// eligible for record cleanup.
func AllSucceeded(outcomes map[Kind]Phase) bool {
	for _, phase := range outcomes {
		if phase != Succeeded {
			return false
		}
	}
	return true
}

// FailedKinds lists the kinds that did not succeed, sorted for stable
// reporting.
func FailedKinds(outcomes map[Kind]Phase) []Kind {
	var failed []Kind
	for kind, phase := range outcomes {
		if phase != Succeeded {
			failed = append(failed, kind)
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })
	return failed
}
