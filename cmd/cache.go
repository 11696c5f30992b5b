package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/cwbudde/iconlayers/internal/cache"
	"github.com/spf13/cobra"
)

var (
	cacheDataDir  string
	keepLast      int
	olderThanDays int
	forceClean    bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage cached decomposition results",
	Long: `Manage the decomposition result cache, including listing and cleaning
entries keyed by (content hash, config hash).`,
}

var listCacheCmd = &cobra.Command{
	Use:   "list",
	Short: "List all cached entries",
	Long:  `Display all cache entries with metadata including content hash, config hash, final cluster count, and directory size.`,
	RunE:  runListCache,
}

var cleanCacheCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean old cache entries",
	Long: `Delete cache entries based on retention policy.
You can specify how many entries to keep or delete entries older than N days.`,
	RunE: runCleanCache,
}

func init() {
	rootCmd.AddCommand(cacheCmd)

	cacheCmd.AddCommand(listCacheCmd)
	cacheCmd.AddCommand(cleanCacheCmd)

	cacheCmd.PersistentFlags().StringVar(&cacheDataDir, "data-dir", "./data", "Base directory for result cache storage")

	cleanCacheCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the last N entries (0 = keep all)")
	cleanCacheCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete entries older than N days (0 = no age limit)")
	cleanCacheCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func runListCache(cmd *cobra.Command, args []string) error {
	c, err := cache.NewFSCache(cacheDataDir)
	if err != nil {
		return fmt.Errorf("failed to open result cache: %w", err)
	}

	infos, err := c.ListEntries()
	if err != nil {
		return fmt.Errorf("failed to list cache entries: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No cached entries found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CONTENT HASH\tCONFIG HASH\tTIMESTAMP\tLAYERS\tSIZE")
	fmt.Fprintln(w, "------------\t-----------\t---------\t------\t----")

	for _, info := range infos {
		dir := filepath.Join(cacheDataDir, "runs", info.ContentHash, info.ConfigHash)
		size, err := getDirSize(dir)
		sizeStr := "unknown"
		if err == nil {
			sizeStr = formatBytes(size)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			shortHash(info.ContentHash),
			shortHash(info.ConfigHash),
			info.Timestamp.Format("2006-01-02 15:04:05"),
			info.FinalClusterCount,
			sizeStr,
		)
	}

	w.Flush()

	fmt.Printf("\nTotal entries: %d\n", len(infos))
	return nil
}

func runCleanCache(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	c, err := cache.NewFSCache(cacheDataDir)
	if err != nil {
		return fmt.Errorf("failed to open result cache: %w", err)
	}

	infos, err := c.ListEntries()
	if err != nil {
		return fmt.Errorf("failed to list cache entries: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No cache entries to clean.")
		return nil
	}

	toDelete := selectEntriesForDeletion(infos, keepLast, olderThanDays)

	if len(toDelete) == 0 {
		fmt.Println("No cache entries match deletion criteria.")
		return nil
	}

	fmt.Printf("Found %d entr(ies) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Printf("  - %s/%s (%s)\n",
			shortHash(info.ContentHash),
			shortHash(info.ConfigHash),
			info.Timestamp.Format("2006-01-02 15:04:05"),
		)
	}

	if !forceClean {
		fmt.Print("\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	deleted := 0
	failed := 0
	for _, info := range toDelete {
		if err := c.DeleteEntry(info.ContentHash, info.ConfigHash); err != nil {
			slog.Error("Failed to delete cache entry", "content_hash", info.ContentHash, "config_hash", info.ConfigHash, "error", err)
			failed++
		} else {
			slog.Info("Deleted cache entry", "content_hash", info.ContentHash, "config_hash", info.ConfigHash)
			deleted++
		}
	}

	fmt.Printf("\nDeleted %d entr(ies), %d failed.\n", deleted, failed)
	return nil
}

// selectEntriesForDeletion determines which entries should be deleted based on retention policy.
func selectEntriesForDeletion(infos []cache.EntryInfo, keepLast int, olderThanDays int) []cache.EntryInfo {
	var toDelete []cache.EntryInfo

	if olderThanDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -olderThanDays)
		for _, info := range infos {
			if info.Timestamp.Before(cutoff) {
				toDelete = append(toDelete, info)
			}
		}
	}

	if keepLast > 0 && len(infos) > keepLast {
		sorted := make([]cache.EntryInfo, len(infos))
		copy(sorted, infos)

		for i := 0; i < len(sorted)-1; i++ {
			for j := 0; j < len(sorted)-i-1; j++ {
				if sorted[j].Timestamp.After(sorted[j+1].Timestamp) {
					sorted[j], sorted[j+1] = sorted[j+1], sorted[j]
				}
			}
		}

		numToDelete := len(sorted) - keepLast
		for i := 0; i < numToDelete; i++ {
			found := false
			for _, existing := range toDelete {
				if existing.ContentHash == sorted[i].ContentHash && existing.ConfigHash == sorted[i].ConfigHash {
					found = true
					break
				}
			}
			if !found {
				toDelete = append(toDelete, sorted[i])
			}
		}
	}

	return toDelete
}

// shortHash truncates a hex digest for table display.
func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12] + "..."
	}
	return hash
}

// getDirSize calculates the total size of a directory.
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// formatBytes formats bytes as human-readable string.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
