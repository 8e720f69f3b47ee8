package model

import "strings"

// Severity labels
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// severityWeights maps alert severity to its numeric weight for incident scoring
var severityWeights = map[string]float64{
	SeverityCritical: 10,
	SeverityHigh:     7,
	SeverityMedium:   4,
	SeverityLow:      2,
}

// unknownSeverityWeight is used for labels outside the table
const unknownSeverityWeight = 1

// SeverityWeight returns the weight of a severity label
func SeverityWeight(severity string) float64 {
	if w, ok := severityWeights[strings.ToLower(severity)]; ok {
		return w
	}
	return unknownSeverityWeight
}

// SeverityFromScore converts a weighted severity score back to a label
func SeverityFromScore(score float64) string {
	switch {
	case score >= 8:
		return SeverityCritical
	case score >= 6:
		return SeverityHigh
	case score >= 3:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// SeverityRank orders severities for sorting, most severe first
func SeverityRank(severity string) int {
	switch strings.ToLower(severity) {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

// IsValidSeverity checks if a severity label is one of the known levels
func IsValidSeverity(severity string) bool {
	_, ok := severityWeights[strings.ToLower(severity)]
	return ok
}

// AtLeast reports whether severity is at or above min
func AtLeast(severity, min string) bool {
	return SeverityRank(severity) <= SeverityRank(min)
}
