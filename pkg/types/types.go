// Package types defines the core data structures for the vigil context and
// alert pipeline: context entities observed from sources, the alerts derived
// from them, and the feedback recorded against delivered alerts.
package types

import "math"

// ContextType classifies a context entity.
type ContextType string

// Context entity type constants
const (
	ContextMeeting       ContextType = "meeting"
	ContextProject       ContextType = "project"
	ContextTask          ContextType = "task"
	ContextCommunication ContextType = "communication"
	ContextHealth        ContextType = "health"
)

// ContextTypes lists every valid ContextType in declaration order.
var ContextTypes = []ContextType{
	ContextMeeting,
	ContextProject,
	ContextTask,
	ContextCommunication,
	ContextHealth,
}

// IsValid reports whether t is one of the known context types.
func (t ContextType) IsValid() bool {
	for _, known := range ContextTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ClampUnit clamps v to [0.0, 1.0]. NaN maps to 0.
func ClampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
