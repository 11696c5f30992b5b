package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/iconlayers/internal/cache"
	"github.com/cwbudde/iconlayers/internal/compute"
	"github.com/cwbudde/iconlayers/internal/imageio"
	"github.com/cwbudde/iconlayers/internal/layers"
	"github.com/cwbudde/iconlayers/internal/pipeline"
)

// cacheConfig reduces a job's pipeline.Config to the subset that
// determines whether an earlier run can be reused.
func cacheConfig(cfg pipeline.Config) cache.Config {
	out := cache.Config{
		NumSegments:          cfg.NumSegments,
		Compactness:          cfg.Compactness,
		SLICIterations:       cfg.SLICIterations,
		EnforceConnectivity:  cfg.EnforceConnectivity,
		NumberOfClusters:     cfg.NumberOfClusters,
		ClusterMaxIterations: cfg.ClusterMaxIterations,
		RandomSeed:           cfg.RandomSeed,
		MergeStrategy:        string(cfg.MergeStrategy),
	}
	if cfg.MergeThreshold != nil {
		out.MergeThreshold = *cfg.MergeThreshold
	}
	return out
}

// runJob executes a decomposition job in the background: load the source
// image, check the result cache, and if no hit, run the pipeline chain and
// save the outcome.
func runJob(ctx context.Context, jm *JobManager, imgCache cache.Cache, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	if err := jm.UpdateJob(jobID, func(j *Job) { j.State = StateRunning }); err != nil {
		return err
	}

	slog.Info("Starting job", "job_id", jobID, "source", job.SourcePath)

	bgra, w, h, err := imageio.LoadPNG(job.SourcePath)
	if err != nil {
		markJobFailed(jm, jobID, fmt.Errorf("failed to load source image: %w", err))
		return err
	}
	contentHash := cache.HashContent(bgra)
	configHash := cache.HashConfig(cacheConfig(job.Config))

	select {
	case <-ctx.Done():
		markJobCancelled(jm, jobID)
		return ctx.Err()
	default:
	}

	if imgCache != nil {
		if entry, layerBufs, err := imgCache.LoadEntry(contentHash, configHash); err == nil {
			slog.Info("Cache hit, skipping recompute", "job_id", jobID, "content_hash", contentHash, "config_hash", configHash)
			return completeFromCache(jm, jobID, entry, layerBufs)
		} else if !errors.Is(err, cache.ErrNotFound) {
			slog.Warn("Cache lookup failed, recomputing", "job_id", jobID, "error", err)
		}
	}

	chain, err := pipeline.BuildChain(job.Config)
	if err != nil {
		markJobFailed(jm, jobID, fmt.Errorf("failed to build pipeline chain: %w", err))
		return err
	}

	device, err := compute.NewDeviceForBackend("cpu")
	if err != nil {
		markJobFailed(jm, jobID, fmt.Errorf("failed to create compute device: %w", err))
		return err
	}
	defer device.Close()

	execCtx := pipeline.NewContext(device)
	execCtx.Bag.Set(pipeline.KeyBGRA, bgra)
	execCtx.Bag.Set(pipeline.KeyWidth, w)
	execCtx.Bag.Set(pipeline.KeyHeight, h)

	start := time.Now()

	tw, err := cache.NewTraceWriter("./data", contentHash, configHash)
	if err != nil {
		slog.Warn("Failed to create trace writer", "job_id", jobID, "error", err)
		tw = nil
	}

	for _, stage := range chain.Stages() {
		if err := ctx.Err(); err != nil {
			markJobCancelled(jm, jobID)
			if tw != nil {
				tw.Close()
			}
			return err
		}

		stageStart := time.Now()
		if err := stage.Execute(ctx, execCtx); err != nil {
			markJobFailed(jm, jobID, fmt.Errorf("stage %s failed: %w", stage.Name(), err))
			if tw != nil {
				tw.Close()
			}
			return err
		}
		duration := time.Since(stageStart)

		jm.UpdateJob(jobID, func(j *Job) { j.CurrentStage = stage.Name() })
		jm.broadcaster.Broadcast(ProgressEvent{
			JobID:     jobID,
			State:     StateRunning,
			Stage:     stage.Name(),
			Timestamp: time.Now(),
		})

		if tw != nil {
			if err := tw.Write(cache.StageEvent{
				Stage:      stage.Name(),
				OutputType: stage.OutputType().String(),
				Duration:   duration,
				Timestamp:  time.Now(),
			}); err != nil {
				slog.Warn("Failed to write stage trace", "job_id", jobID, "stage", stage.Name(), "error", err)
			}
		}
	}
	if tw != nil {
		tw.Close()
	}

	rawLayersAny, _ := execCtx.Bag.Get(pipeline.KeyLayerBuffers)
	rawLayers := rawLayersAny.([][]byte)
	keptLayers, pixelCounts := layers.Prune(rawLayers)

	elapsed := time.Since(start)

	if imgCache != nil {
		entry := cache.NewEntry(contentHash, configHash, len(keptLayers), w, h, pixelCounts, cacheConfig(job.Config))
		if err := imgCache.SaveEntry(contentHash, configHash, entry, keptLayers, w, h); err != nil {
			slog.Warn("Failed to save cache entry", "job_id", jobID, "error", err)
		}
	}

	endTime := time.Now()
	if err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.FinalClusterCount = len(keptLayers)
		j.LayerCount = len(keptLayers)
		j.CurrentStage = "done"
		j.EndTime = &endTime
	}); err != nil {
		return err
	}

	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", elapsed,
		"final_cluster_count", len(keptLayers),
	)

	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:             jobID,
		State:             StateCompleted,
		Stage:             "done",
		FinalClusterCount: len(keptLayers),
		LayerCount:        len(keptLayers),
		Timestamp:         time.Now(),
	})

	return nil
}

// completeFromCache fast-forwards a job straight to StateCompleted using a
// previously saved cache.Entry, without re-running any stage.
func completeFromCache(jm *JobManager, jobID string, entry *cache.Entry, layerBufs [][]byte) error {
	endTime := time.Now()
	if err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.FinalClusterCount = entry.FinalClusterCount
		j.LayerCount = len(layerBufs)
		j.CurrentStage = "done"
		j.FromCache = true
		j.EndTime = &endTime
	}); err != nil {
		return err
	}

	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:             jobID,
		State:             StateCompleted,
		Stage:             "done",
		FinalClusterCount: entry.FinalClusterCount,
		LayerCount:        len(layerBufs),
		FromCache:         true,
		Timestamp:         time.Now(),
	})

	slog.Info("Job completed from cache", "job_id", jobID, "final_cluster_count", entry.FinalClusterCount)
	return nil
}

// markJobFailed marks a job as failed with an error message.
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
}

// markJobCancelled marks a job as cancelled.
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
}

