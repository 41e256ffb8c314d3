package core

import (
	"math"
	"time"
)

// FileOutcome is everything the aggregator needs to know about one source file.
type FileOutcome struct {
	Filename      string
	OriginalBytes int64
	Variants      []Variant
	References    []PersistedReference
	Err           error
}

// Aggregate folds per-file outcomes into an UploadOutcome. Reference order
// follows file order, then variant order within a file.
func Aggregate(files []FileOutcome, target StorageTarget, start time.Time) UploadOutcome {
	return aggregateAt(files, target, start, time.Now())
}

func aggregateAt(files []FileOutcome, target StorageTarget, start, end time.Time) UploadOutcome {
	out := UploadOutcome{
		ReferencePaths: []string{},
		Failures:       []FileFailure{},
		Target:         target,
	}
	for _, f := range files {
		out.Stats.OriginalBytes += f.OriginalBytes
		if f.Err != nil {
			out.Failures = append(out.Failures, FileFailure{Filename: f.Filename, Error: f.Err.Error()})
			continue
		}
		out.Stats.ProcessedOriginalBytes += f.OriginalBytes
		for i, ref := range f.References {
			out.ReferencePaths = append(out.ReferencePaths, ref.Location)
			if i < len(f.Variants) {
				out.Stats.OptimizedBytes += f.Variants[i].ByteSize
			}
		}
	}

	elapsed := end.Sub(start).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	out.Stats.ElapsedMs = elapsed
	out.Stats.FileCount = len(files)
	out.Stats.VariantCount = len(out.ReferencePaths)
	out.Stats.CompressionRatio = CompressionRatio(out.Stats.ProcessedOriginalBytes, out.Stats.OptimizedBytes)
	if len(files) > 0 {
		out.Stats.AvgTimePerImageMs = int64(math.Round(float64(elapsed) / float64(len(files))))
	}
	return out
}

// CompressionRatio returns round((1 - optimized/original) * 100). It is 0
// when original is 0 and negative when variants outweigh the originals.
func CompressionRatio(original, optimized int64) int {
	if original <= 0 {
		return 0
	}
	return int(math.Round((1 - float64(optimized)/float64(original)) * 100))
}
