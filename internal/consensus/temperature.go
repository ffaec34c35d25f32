package consensus

import (
	"math"
	"strings"

	"github.com/quorumcore/consensus-core/internal/core"
)

// Temperature family constants (§4.2). There is a single entry point and a
// single default round budget (core.DefaultMaxRounds); the legacy source's
// divergent 5-round default on a secondary entry point is not reproduced
// (§9 open question 2).
const (
	highTempMax   = 2.0
	highTempFloor = 0.4
	lowTempMax    = 1.0
	lowTempFloor  = 0.2
)

// modelName strips a provider prefix ("provider:model") before
// classifying, matching §4.2's model_name rule.
func modelName(modelID string) string {
	if idx := strings.IndexByte(modelID, ':'); idx >= 0 {
		return modelID[idx+1:]
	}
	return modelID
}

func isHighTempFamily(modelID string) bool {
	name := strings.ToLower(modelName(modelID))
	if strings.HasPrefix(name, "gpt") || strings.HasPrefix(name, "gemini") {
		return true
	}
	if strings.HasPrefix(name, "o") && len(name) > 1 && name[1] >= '0' && name[1] <= '9' {
		return true
	}
	return false
}

// Temperature returns the sampling temperature for modelID at round r,
// given a round budget maxRounds (§4.2). maxRounds <= 0 falls back to
// core.DefaultMaxRounds.
func Temperature(modelID string, r int, maxRounds int) float64 {
	if maxRounds <= 0 {
		maxRounds = core.DefaultMaxRounds
	}
	n := maxRounds
	if n < 2 {
		n = 2
	}

	maxT, floorT := lowTempMax, lowTempFloor
	if isHighTempFamily(modelID) {
		maxT, floorT = highTempMax, highTempFloor
	}

	if r <= 1 {
		return maxT
	}
	if r >= n {
		return floorT
	}

	t := maxT - float64(r-1)*(maxT-floorT)/float64(n-1)
	return math.Round(t*10) / 10
}

// TemperaturesForModels returns the per-model temperature map for a round,
// as consumed by core.QueryOptions.Temperatures.
func TemperaturesForModels(modelIDs []string, r int, maxRounds int) map[string]float64 {
	out := make(map[string]float64, len(modelIDs))
	for _, id := range modelIDs {
		out[id] = Temperature(id, r, maxRounds)
	}
	return out
}
