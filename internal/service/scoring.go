package service

import (
	"math"
	"sort"

	"dispatch/internal/domain"
)

// Scoring weights. The model is a plain weighted sum so every dispatch decision
// can be recomputed by hand from the stored inputs.
const (
	distanceBase      = 100.0
	distancePerKm     = 10.0
	ratingWeight      = 20.0
	experiencePerRide = 0.5
	experienceCap     = 50.0
	verifiedBonus     = 20.0
)

// Score computes a candidate's dispatch score for the given priority.
func Score(c domain.Candidate, priority domain.Priority) float64 {
	score := math.Max(0, distanceBase-distancePerKm*c.DistanceKm)
	score += ratingWeight * math.Max(0, c.RatingAverage)
	score += math.Min(experienceCap, experiencePerRide*float64(max(0, c.TotalRides)))
	if c.Verified {
		score += verifiedBonus
	}
	return score * priority.ScoreMultiplier()
}

// RankCandidates scores candidates and orders them best first. Equal scores
// fall back to the shorter distance, then the lower driver ID.
func RankCandidates(candidates []domain.Candidate, priority domain.Priority) []domain.Candidate {
	ranked := make([]domain.Candidate, len(candidates))
	copy(ranked, candidates)
	for i := range ranked {
		ranked[i].Score = Score(ranked[i], priority)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		return a.DriverID < b.DriverID
	})
	return ranked
}
