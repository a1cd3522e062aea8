package supervisor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dronefleet/fleetctl/internal/capability"
	"github.com/dronefleet/fleetctl/internal/domain"
	"github.com/google/uuid"
)

// VisionService is the external vision collaborator the tracking-hold
// task polls.
type VisionService interface {
	Detect(ctx context.Context, frame capability.Frame, modelID string, threshold float64) ([]Detection, error)
}

// Detection is one bounding-box result from VisionService, offset in frame
// coordinates so the tracking task can turn it into a move toward it.
type Detection struct {
	OffsetX, OffsetY float64 // normalized [-1,1] from frame center
	Confidence       float64
}

// RunAltitudeHold steps pose.z toward targetCm, polling every 100ms, and
// completes when within 5cm or the timeout elapses.
func (s *DroneSupervisor) RunAltitudeHold(ctx context.Context, targetCm float64, timeout time.Duration) (domain.TaskRecord, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	task := s.beginTask(domain.TaskAltitudeHold, domain.TaskParams{TargetAltitudeCm: targetCm})
	taskCtx, cancel := s.armTask(ctx, task, timeout)

	go func() {
		defer cancel()
		defer s.finishTask(task.ID)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-taskCtx.Done():
				s.completeTask(task.ID, domain.TaskCancelled, taskCtx.Err())
				return
			case <-ticker.C:
				mode := capability.AltitudeAbsolute
				if err := s.SetAltitude(taskCtx, targetCm, mode); err != nil {
					s.completeTask(task.ID, domain.TaskFailed, err)
					return
				}
				snap := s.Snapshot()
				if math.Abs(snap.Pose.Z-targetCm) <= 5 {
					s.completeTask(task.ID, domain.TaskCompleted, nil)
					return
				}
				s.updateTaskProgress(task.ID, progressTowards(snap.Pose.Z, targetCm))
			}
		}
	}()
	return task, nil
}

func progressTowards(cur, target float64) float64 {
	if target == 0 {
		return 1
	}
	p := cur / target
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return p
}

// RunWaypointPlan executes waypoints sequentially, aborting on the first
// safety failure.
func (s *DroneSupervisor) RunWaypointPlan(ctx context.Context, waypoints []domain.Waypoint, timeout time.Duration) (domain.TaskRecord, error) {
	task := s.beginTask(domain.TaskWaypointPlan, domain.TaskParams{Waypoints: waypoints})
	taskCtx, cancel := s.armTask(ctx, task, timeout)

	go func() {
		defer cancel()
		defer s.finishTask(task.ID)
		for i, wp := range waypoints {
			select {
			case <-taskCtx.Done():
				s.completeTask(task.ID, domain.TaskCancelled, taskCtx.Err())
				return
			default:
			}

			snap := s.Snapshot()
			delta := domain.Pose{X: wp.X - snap.Pose.X, Y: wp.Y - snap.Pose.Y, Z: wp.Z - snap.Pose.Z}
			if err := s.stepToward(taskCtx, delta, wp.SpeedCmS); err != nil {
				s.completeTask(task.ID, domain.TaskFailed, err)
				return
			}
			s.updateTaskProgress(task.ID, float64(i+1)/float64(len(waypoints)))
		}
		s.completeTask(task.ID, domain.TaskCompleted, nil)
	}()
	return task, nil
}

// stepToward issues one Move per non-zero axis of delta (Y, then X, then Z),
// each capped at 500cm, relying on Move's own bounds/pre-checks. An axis
// component under 20cm is skipped; no intermediate points are sampled.
func (s *DroneSupervisor) stepToward(ctx context.Context, delta domain.Pose, speedCmS float64) error {
	dist := math.Sqrt(delta.X*delta.X + delta.Y*delta.Y + delta.Z*delta.Z)
	if dist < 1 {
		return nil
	}
	steps := int(math.Ceil(dist / 10))
	if steps < 1 {
		steps = 1
	}

	moves := []struct {
		dir  capability.Direction
		dist float64
	}{}
	if delta.Y > 0 {
		moves = append(moves, struct {
			dir  capability.Direction
			dist float64
		}{capability.DirForward, delta.Y})
	} else if delta.Y < 0 {
		moves = append(moves, struct {
			dir  capability.Direction
			dist float64
		}{capability.DirBack, -delta.Y})
	}
	if delta.X > 0 {
		moves = append(moves, struct {
			dir  capability.Direction
			dist float64
		}{capability.DirRight, delta.X})
	} else if delta.X < 0 {
		moves = append(moves, struct {
			dir  capability.Direction
			dist float64
		}{capability.DirLeft, -delta.X})
	}
	if delta.Z > 0 {
		moves = append(moves, struct {
			dir  capability.Direction
			dist float64
		}{capability.DirUp, delta.Z})
	} else if delta.Z < 0 {
		moves = append(moves, struct {
			dir  capability.Direction
			dist float64
		}{capability.DirDown, -delta.Z})
	}

	for _, m := range moves {
		if m.dist < 20 {
			continue // below the per-op minimum; skip sub-threshold residual segments
		}
		if err := s.Move(ctx, m.dir, math.Min(m.dist, 500), speedCmS); err != nil {
			return err
		}
	}
	_ = steps // computed but not used; the moves above are per axis
	return nil
}

// RunTrackingHold polls detections from vision at ≤10Hz and turns the first
// detection's offset into a single 20cm Move along one axis toward it; it
// sends no RC velocity commands. It stops after maxEmptyFrames consecutive
// empty results.
func (s *DroneSupervisor) RunTrackingHold(ctx context.Context, vision VisionService, modelID string, threshold float64, maxEmptyFrames int) (domain.TaskRecord, error) {
	if maxEmptyFrames <= 0 {
		maxEmptyFrames = 30
	}
	task := s.beginTask(domain.TaskTrackingHold, domain.TaskParams{TrackingModelID: modelID, TrackingThreshold: threshold})
	taskCtx, cancel := s.armTask(ctx, task, 0)

	go func() {
		defer cancel()
		defer s.finishTask(task.ID)
		ticker := time.NewTicker(100 * time.Millisecond) // 10Hz ceiling
		defer ticker.Stop()
		emptyStreak := 0
		for {
			select {
			case <-taskCtx.Done():
				s.completeTask(task.ID, domain.TaskCancelled, taskCtx.Err())
				return
			case <-ticker.C:
				frame, err := s.CaptureFrame(taskCtx)
				if err != nil {
					s.completeTask(task.ID, domain.TaskFailed, err)
					return
				}
				detections, err := vision.Detect(taskCtx, frame, modelID, threshold)
				if err != nil || len(detections) == 0 {
					emptyStreak++
					if emptyStreak >= maxEmptyFrames {
						s.completeTask(task.ID, domain.TaskCompleted, fmt.Errorf("target lost after %d empty frames", emptyStreak))
						return
					}
					continue
				}
				emptyStreak = 0
				best := detections[0]
				if err := s.nudgeToward(taskCtx, best); err != nil {
					s.completeTask(task.ID, domain.TaskFailed, err)
					return
				}
			}
		}
	}()
	return task, nil
}

func (s *DroneSupervisor) nudgeToward(ctx context.Context, d Detection) error {
	const step = 20.0 // minimum Move distance
	if math.Abs(d.OffsetX) < 0.1 && math.Abs(d.OffsetY) < 0.1 {
		return nil
	}
	if d.OffsetX > 0.1 {
		return s.Move(ctx, capability.DirRight, step, 0)
	}
	if d.OffsetX < -0.1 {
		return s.Move(ctx, capability.DirLeft, step, 0)
	}
	if d.OffsetY > 0.1 {
		return s.Move(ctx, capability.DirForward, step, 0)
	}
	if d.OffsetY < -0.1 {
		return s.Move(ctx, capability.DirBack, step, 0)
	}
	return nil
}

// --- task bookkeeping: at most one active task per drone ---

func (s *DroneSupervisor) beginTask(kind domain.TaskKind, params domain.TaskParams) domain.TaskRecord {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	rec := domain.TaskRecord{
		ID:        uuid.NewString(),
		Kind:      kind,
		Params:    params,
		Status:    domain.TaskPending,
		StartedAt: time.Now(),
	}
	s.mu.Lock()
	s.record.ActiveTaskID = rec.ID
	s.mu.Unlock()
	return rec
}

func (s *DroneSupervisor) armTask(ctx context.Context, rec domain.TaskRecord, timeout time.Duration) (context.Context, context.CancelFunc) {
	var taskCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		taskCtx, cancel = context.WithCancel(ctx)
	}
	s.taskMu.Lock()
	if s.activeTask != nil {
		s.activeTask.cancel() // a new task preempts the previous one
	}
	s.activeTask = &runningTask{record: rec, cancel: cancel}
	s.taskMu.Unlock()
	return taskCtx, cancel
}

func (s *DroneSupervisor) updateTaskProgress(taskID string, progress float64) {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	if s.activeTask == nil || s.activeTask.record.ID != taskID {
		return
	}
	s.activeTask.record.Status = domain.TaskRunning
	s.activeTask.record.Progress = progress
	s.activeTask.record.LastUpdateAt = time.Now()
}

func (s *DroneSupervisor) completeTask(taskID string, status domain.TaskStatus, err error) {
	s.taskMu.Lock()
	if s.activeTask != nil && s.activeTask.record.ID == taskID {
		s.activeTask.record.Status = status
		s.activeTask.record.Err = err
		s.activeTask.record.LastUpdateAt = time.Now()
	}
	s.taskMu.Unlock()
	s.emit(Event{DroneID: s.id, Kind: EventTaskCompleted, At: time.Now(), Detail: string(status)})
}

// finishTask clears ActiveTaskID once the task goroutine exits, after a
// grace period so a caller that just asked "what's my active task?" still
// sees the terminal record.
func (s *DroneSupervisor) finishTask(taskID string) {
	time.AfterFunc(2*time.Second, func() {
		s.mu.Lock()
		if s.record.ActiveTaskID == taskID {
			s.record.ActiveTaskID = ""
		}
		s.mu.Unlock()
	})
}

// CancelTask cancels the currently active task, if any, and reports whether
// one was running.
func (s *DroneSupervisor) CancelTask() bool {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	if s.activeTask == nil {
		return false
	}
	s.activeTask.cancel()
	return true
}

func (s *DroneSupervisor) ActiveTask() (domain.TaskRecord, bool) {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	if s.activeTask == nil {
		return domain.TaskRecord{}, false
	}
	return s.activeTask.record, true
}
