// Copyright (C) 2025 AffectLab (oss@affectlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vadscope",
	Short: "Chunked serving and preprocessing for the VAD lexicon dataset",
	Long: `vadscope manages the merged valence-arousal-dominance lexicon:
it splits the dataset into servable chunks and runs the HTTP server the
visualization loads them from.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
