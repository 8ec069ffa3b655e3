package service

import "github.com/summit-bot/internal/domain"

// ComputeStats aggregates a player's reported matches. Records with an
// unparsable duration are left out of the average; records without a deck
// snapshot are left out of the avatar grouping. Both still count in totals.
func ComputeStats(playerID string, records []domain.MatchRecord) domain.PlayerStats {
	stats := domain.PlayerStats{
		PlayerID: playerID,
		ByAvatar: make(map[string]domain.WinLoss),
	}

	var minutes float64
	var timed int
	for _, r := range records {
		stats.TotalMatches++
		if r.ReporterWon {
			stats.Wins++
		}

		if r.Details.WentFirst() {
			stats.FirstPlayerMatches++
			if r.ReporterWon {
				stats.FirstPlayerWins++
			}
		}

		if m, ok := r.Details.Minutes(); ok {
			minutes += m
			timed++
		}

		if avatar, ok := r.Avatar(); ok {
			wl := stats.ByAvatar[avatar]
			if r.ReporterWon {
				wl.Wins++
			} else {
				wl.Losses++
			}
			stats.ByAvatar[avatar] = wl
		}
	}

	stats.WinRate = percent(stats.Wins, stats.TotalMatches)
	stats.FirstPlayerWinRate = percent(stats.FirstPlayerWins, stats.FirstPlayerMatches)
	if timed > 0 {
		stats.AverageMatchMinutes = minutes / float64(timed)
	}
	return stats
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}
