// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// buildBenchChain creates count archives that all carry the same files,
// simulating a real patch chain.
func buildBenchChain(b *testing.B, count, files int) []string {
	b.Helper()
	tmpDir := b.TempDir()

	var archivePaths []string
	for i := 0; i < count; i++ {
		archivePath := filepath.Join(tmpDir, fmt.Sprintf("archive_%d.mpq", i))
		entries := make([]chainFile, files)
		for j := range entries {
			entries[j] = chainFile{
				name: fmt.Sprintf("Data\\File_%c.txt", 'a'+j),
				data: fmt.Sprintf("test content %d%c", i, 'a'+j),
			}
		}
		buildChainArchive(b, archivePath, entries)
		archivePaths = append(archivePaths, archivePath)
	}
	return archivePaths
}

// BenchmarkPatchChainLookup benchmarks file lookup performance with cache
func BenchmarkPatchChainLookup(b *testing.B) {
	chain, err := OpenPatchChain(buildBenchChain(b, 5, 20))
	if err != nil {
		b.Fatal(err)
	}
	defer chain.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		chain.HasFile("Data\\File_a.txt")
		chain.HasFile("Data\\File_j.txt")
		chain.HasFile("Data\\File_t.txt")
		chain.HasFile("Data\\NonExistent.txt")
	}
}

// BenchmarkPatchChainRebuild benchmarks building the lookup cache
func BenchmarkPatchChainRebuild(b *testing.B) {
	chain, err := OpenPatchChain(buildBenchChain(b, 5, 20))
	if err != nil {
		b.Fatal(err)
	}
	defer chain.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := chain.rebuildFileMap(); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkPatchChainExtract benchmarks file extraction with cache
func BenchmarkPatchChainExtract(b *testing.B) {
	chain, err := OpenPatchChain(buildBenchChain(b, 3, 10))
	if err != nil {
		b.Fatal(err)
	}
	defer chain.Close()

	outputDir := b.TempDir()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		destPath := filepath.Join(outputDir, "extracted.txt")
		if err := chain.ExtractFile("Data\\File_a.txt", destPath); err != nil {
			b.Fatal(err)
		}
		os.Remove(destPath)
	}
}
