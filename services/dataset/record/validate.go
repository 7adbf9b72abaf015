// Copyright (C) 2025 AffectLab (oss@affectlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package record

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrRecordRejected is returned by Normalize when a raw record fails a
// required-field check and cannot be used at all.
var ErrRecordRejected = errors.New("record rejected")

// ValidationResult classifies one raw record.
//
// Errors make the record unusable; Warnings mean an optional field was
// out of its expected range and will be clamped or defaulted, but the
// record itself is kept.
type ValidationResult struct {
	IsValid  bool
	Errors   []string
	Warnings []string
}

// Validate classifies a raw record without modifying it.
//
// Required-field violations (missing or non-finite term/valence/arousal)
// produce errors. Out-of-range numeric fields and unrecognized merge
// strategies produce warnings only.
func Validate(raw RawRecord) ValidationResult {
	var res ValidationResult

	if strings.TrimSpace(raw.Term) == "" {
		res.Errors = append(res.Errors, "term: missing or empty")
	}

	checkRequired := func(name string, v *float64) {
		switch {
		case v == nil:
			res.Errors = append(res.Errors, name+": missing")
		case math.IsNaN(*v) || math.IsInf(*v, 0):
			res.Errors = append(res.Errors, name+": not a finite number")
		case *v < -1 || *v > 1:
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %g outside [-1,1], will be clamped", name, *v))
		}
	}
	checkRequired("valence", raw.Valence)
	checkRequired("arousal", raw.Arousal)

	if raw.Dominance != nil {
		if math.IsNaN(*raw.Dominance) || math.IsInf(*raw.Dominance, 0) {
			res.Warnings = append(res.Warnings, "dominance: not a finite number, will be dropped")
		} else if *raw.Dominance < -1 || *raw.Dominance > 1 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("dominance: %g outside [-1,1], will be clamped", *raw.Dominance))
		}
	}

	if raw.Confidence != nil {
		if math.IsNaN(*raw.Confidence) || math.IsInf(*raw.Confidence, 0) {
			res.Warnings = append(res.Warnings, "confidence: not a finite number, will use default")
		} else if *raw.Confidence < 0 || *raw.Confidence > 1 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("confidence: %g outside [0,1], will be clamped", *raw.Confidence))
		}
	}

	if raw.MergeStrategy != "" && !MergeStrategy(raw.MergeStrategy).IsKnown() {
		res.Warnings = append(res.Warnings, fmt.Sprintf("merge_strategy: unrecognized value %q, will use %q", raw.MergeStrategy, StrategyUnknown))
	}

	res.IsValid = len(res.Errors) == 0
	return res
}

// Normalize converts a raw record into a NormalizedRecord, clamping
// numeric fields into their valid ranges, defaulting absent optional
// fields, and case-folding the term.
//
// Returns ErrRecordRejected (wrapping the field error list) when the
// record fails a required-field check.
func Normalize(raw RawRecord) (NormalizedRecord, error) {
	res := Validate(raw)
	if !res.IsValid {
		return NormalizedRecord{}, fmt.Errorf("%w: %s", ErrRecordRejected, strings.Join(res.Errors, "; "))
	}

	term := strings.ToLower(strings.TrimSpace(raw.Term))

	rec := NormalizedRecord{
		Term:          term,
		Valence:       clamp(*raw.Valence, -1, 1),
		Arousal:       clamp(*raw.Arousal, -1, 1),
		Confidence:    DefaultConfidence,
		MergeStrategy: StrategyUnknown,
	}

	if raw.Dominance != nil && !math.IsNaN(*raw.Dominance) && !math.IsInf(*raw.Dominance, 0) {
		rec.Dominance = clamp(*raw.Dominance, -1, 1)
	}
	if raw.Confidence != nil && !math.IsNaN(*raw.Confidence) && !math.IsInf(*raw.Confidence, 0) {
		rec.Confidence = clamp(*raw.Confidence, 0, 1)
	}
	if MergeStrategy(raw.MergeStrategy).IsKnown() {
		rec.MergeStrategy = MergeStrategy(raw.MergeStrategy)
	}

	if raw.IsMultiword != nil {
		rec.IsMultiword = *raw.IsMultiword
	} else {
		rec.IsMultiword = strings.Contains(term, " ")
	}

	return rec, nil
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// maxBatchSamples bounds how many records ValidateBatch inspects.
const maxBatchSamples = 100

// BatchResult summarizes a sampled validation pass over a record array.
type BatchResult struct {
	// Sampled is how many records were actually inspected.
	Sampled int

	// Valid counts sampled records with no errors.
	Valid int

	// WithWarnings counts sampled records that were valid but degraded.
	WithWarnings int

	// Rejected counts sampled records with required-field errors.
	Rejected int
}

// ValidateBatch samples up to 100 evenly-spaced records from a larger
// array rather than validating every record. This trades completeness for
// throughput on very large inputs; it is a screening pass, not a
// guarantee that unsampled records are well-formed.
func ValidateBatch(records []RawRecord) BatchResult {
	var out BatchResult
	if len(records) == 0 {
		return out
	}

	step := 1
	if len(records) > maxBatchSamples {
		step = len(records) / maxBatchSamples
	}

	for i := 0; i < len(records) && out.Sampled < maxBatchSamples; i += step {
		out.Sampled++
		res := Validate(records[i])
		switch {
		case !res.IsValid:
			out.Rejected++
		case len(res.Warnings) > 0:
			out.Valid++
			out.WithWarnings++
		default:
			out.Valid++
		}
	}
	return out
}
