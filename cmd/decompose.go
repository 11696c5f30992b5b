package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/cwbudde/iconlayers/internal/cache"
	"github.com/cwbudde/iconlayers/internal/compute"
	"github.com/cwbudde/iconlayers/internal/imageio"
	"github.com/cwbudde/iconlayers/internal/layers"
	"github.com/cwbudde/iconlayers/internal/merge"
	"github.com/cwbudde/iconlayers/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	sourcePath    string
	outDir        string
	numSegments   int
	compactness   float64
	slicIters     int
	enforceConn   bool
	numClusters   int
	clusterIters  int
	convEpsilon   float64
	randomSeed    uint64
	mergeThresh   float64
	mergeEnabled  bool
	mergeStrategy string
	cpuProfile    string
	memProfile    string
)

var decomposeCmd = &cobra.Command{
	Use:   "decompose",
	Short: "Decompose an icon into color layers",
	Long:  `Runs the SLIC + clustering pipeline over a source PNG and writes one PNG per surviving cluster.`,
	RunE:  runDecompose,
}

func init() {
	decomposeCmd.Flags().StringVar(&sourcePath, "source", "", "Source PNG path (required)")
	decomposeCmd.Flags().StringVar(&outDir, "out", "./out", "Output directory for layer PNGs")

	decomposeCmd.Flags().IntVar(&numSegments, "segments", 1000, "Target SLIC superpixel count")
	decomposeCmd.Flags().Float64Var(&compactness, "compactness", 25, "SLIC compactness (0,100]")
	decomposeCmd.Flags().IntVar(&slicIters, "slic-iters", 10, "SLIC refinement iterations")
	decomposeCmd.Flags().BoolVar(&enforceConn, "enforce-connectivity", true, "Enforce SLIC superpixel connectivity")

	decomposeCmd.Flags().IntVar(&numClusters, "clusters", 5, "Target number of color clusters")
	decomposeCmd.Flags().IntVar(&clusterIters, "cluster-iters", 300, "Clusterer max iterations")
	decomposeCmd.Flags().Float64Var(&convEpsilon, "epsilon", 0.01, "Clusterer convergence epsilon")
	decomposeCmd.Flags().Uint64Var(&randomSeed, "seed", 1, "Random seed for k-means++ center selection")

	decomposeCmd.Flags().BoolVar(&mergeEnabled, "merge", false, "Enable post-clustering merge pass")
	decomposeCmd.Flags().Float64Var(&mergeThresh, "merge-threshold", 0, "Merge threshold (only used when --merge)")
	decomposeCmd.Flags().StringVar(&mergeStrategy, "merge-strategy", string(merge.StrategyPairwiseClosest), "Merge strategy")

	decomposeCmd.Flags().StringVar(&cpuProfile, "cpuprofile", "", "Write CPU profile to file")
	decomposeCmd.Flags().StringVar(&memProfile, "memprofile", "", "Write memory profile to file")

	decomposeCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(decomposeCmd)
}

func runDecompose(cmd *cobra.Command, args []string) error {
	if cpuProfile != "" {
		f, err := os.Create(cpuProfile)
		if err != nil {
			return fmt.Errorf("failed to create CPU profile: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
		slog.Info("CPU profiling enabled", "output", cpuProfile)
	}

	cfg := pipeline.DefaultConfig()
	cfg.NumSegments = numSegments
	cfg.Compactness = float32(compactness)
	cfg.SLICIterations = slicIters
	cfg.EnforceConnectivity = enforceConn
	cfg.NumberOfClusters = numClusters
	cfg.ClusterMaxIterations = clusterIters
	cfg.ConvergenceEpsilon = convEpsilon
	cfg.RandomSeed = randomSeed
	cfg.MergeStrategy = merge.Strategy(mergeStrategy)
	if mergeEnabled {
		cfg.MergeThreshold = &mergeThresh
	}

	slog.Info("Loading source image", "path", sourcePath)
	bgra, w, h, err := imageio.LoadPNG(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to load source: %w", err)
	}
	slog.Info("Loaded source", "width", w, "height", h)

	chain, err := pipeline.BuildChain(cfg)
	if err != nil {
		return fmt.Errorf("failed to build pipeline chain: %w", err)
	}

	device, err := compute.NewDeviceForBackend("cpu")
	if err != nil {
		return fmt.Errorf("failed to create compute device: %w", err)
	}
	defer device.Close()

	execCtx := pipeline.NewContext(device)
	execCtx.Bag.Set(pipeline.KeyBGRA, bgra)
	execCtx.Bag.Set(pipeline.KeyWidth, w)
	execCtx.Bag.Set(pipeline.KeyHeight, h)

	start := time.Now()
	for _, stage := range chain.Stages() {
		stageStart := time.Now()
		if err := stage.Execute(context.Background(), execCtx); err != nil {
			return fmt.Errorf("stage %s failed: %w", stage.Name(), err)
		}
		slog.Info("Stage complete", "stage", stage.Name(), "duration", time.Since(stageStart))
	}
	elapsed := time.Since(start)

	rawLayersAny, _ := execCtx.Bag.Get(pipeline.KeyLayerBuffers)
	rawLayers := rawLayersAny.([][]byte)
	keptLayers, pixelCounts := layers.Prune(rawLayers)

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	for i, layer := range keptLayers {
		path := filepath.Join(outDir, layerFileName(i))
		if err := imageio.SavePNG(path, layer, w, h); err != nil {
			return fmt.Errorf("failed to write layer %d: %w", i, err)
		}
	}

	contentHash := cache.HashContent(bgra)
	meta := map[string]any{
		"contentHash":       contentHash,
		"finalClusterCount": len(keptLayers),
		"pixelCounts":       pixelCounts,
		"elapsedSeconds":    elapsed.Seconds(),
	}
	metaPath := filepath.Join(outDir, "meta.json")
	metaFile, err := os.Create(metaPath)
	if err != nil {
		return fmt.Errorf("failed to create metadata file: %w", err)
	}
	defer metaFile.Close()
	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	slog.Info("Decomposition complete",
		"elapsed", elapsed,
		"layers", len(keptLayers),
		"out_dir", outDir,
	)
	fmt.Printf("Wrote %d layer(s) to %s (%.2fs)\n", len(keptLayers), outDir, elapsed.Seconds())

	if memProfile != "" {
		f, err := os.Create(memProfile)
		if err != nil {
			return fmt.Errorf("failed to create memory profile: %w", err)
		}
		defer f.Close()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			return fmt.Errorf("failed to write memory profile: %w", err)
		}
		slog.Info("Memory profile written", "output", memProfile)
	}

	return nil
}

func layerFileName(index int) string {
	return fmt.Sprintf("layer-%03d.png", index)
}
