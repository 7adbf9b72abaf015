// Copyright (C) 2025 AffectLab (oss@affectlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/affectlab/vadscope/pkg/logging"
	"github.com/affectlab/vadscope/services/dataset/chunker"
)

var (
	chunkInputPath string
	chunkOutputDir string
	chunkSize      int
)

// chunkCmd preprocesses a merged lexicon file into servable chunks.
//
// # Examples
//
//	vadscope chunk --input merged.json --output ./data
//	vadscope chunk -i merged.json -o ./data --chunk-size 500
var chunkCmd = &cobra.Command{
	Use:   "chunk",
	Short: "Split a merged lexicon JSON file into servable chunks",
	Long: `Reads a merged dataset file (a JSON array of lexicon records),
validates and normalizes each record, and writes chunk files plus
metadata.json and statistics.json to the output directory.

Records failing validation (missing term, valence, or arousal) are
dropped; the dropped count is reported.`,
	RunE: runChunkCommand,
}

func init() {
	chunkCmd.Flags().StringVarP(&chunkInputPath, "input", "i", "",
		"Path to the merged dataset JSON file (required)")
	chunkCmd.Flags().StringVarP(&chunkOutputDir, "output", "o", "./data",
		"Output directory for chunk files")
	chunkCmd.Flags().IntVar(&chunkSize, "chunk-size", chunker.DefaultChunkSize,
		"Records per chunk")
	chunkCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(chunkCmd)
}

func runChunkCommand(cmd *cobra.Command, args []string) error {
	logger := logging.New(logging.Config{Service: "chunker"})

	records, dropped, err := chunker.ReadMerged(chunkInputPath, logger.Slog())
	if err != nil {
		return err
	}

	meta, err := chunker.WriteDataset(chunkOutputDir, records, chunkSize)
	if err != nil {
		return err
	}

	fmt.Printf("wrote %d chunks (%d records, %d dropped) to %s\n",
		meta.TotalChunks, meta.TotalCount, dropped, chunkOutputDir)
	return nil
}
