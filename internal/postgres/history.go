package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/summit-bot/internal/domain"
)

// Both record tables projected onto one column list.
const pairedColumns = `
	SELECT id, 'paired' AS kind, reporter_id, reporter_name, winner_id, winner_name,
		   loser_id, loser_name, '' AS opponent_name, did_win AS reporter_won, reported_at,
		   first_player, match_time, deck_url, match_comment, deck_data
	FROM match_records`

const soloColumns = `
	SELECT id, 'solo' AS kind, reporter_id, reporter_name, '' AS winner_id, '' AS winner_name,
		   '' AS loser_id, '' AS loser_name, opponent_name, is_winner AS reporter_won, reported_at,
		   first_player, match_time, deck_url, match_comment, deck_data
	FROM solo_match_reports`

// GetMatchesFor returns paired matches the player played on either side plus
// the solo matches they reported.
func (r *Repository) GetMatchesFor(ctx context.Context, playerID string, limit int, order domain.RecordOrder) ([]domain.MatchRecord, error) {
	direction := "DESC"
	if order == domain.OrderOldestFirst {
		direction = "ASC"
	}

	query := fmt.Sprintf(`
		SELECT * FROM (
			%s WHERE winner_id = $1 OR loser_id = $1
			UNION ALL
			%s WHERE reporter_id = $1
		) history
		ORDER BY reported_at %s, id %s
		LIMIT $2
	`, pairedColumns, soloColumns, direction, direction)

	return r.queryRecords(ctx, query, playerID, limit)
}

// GetReportedMatches returns every record the player reported, oldest first.
func (r *Repository) GetReportedMatches(ctx context.Context, playerID string) ([]domain.MatchRecord, error) {
	query := fmt.Sprintf(`
		SELECT * FROM (
			%s WHERE reporter_id = $1
			UNION ALL
			%s WHERE reporter_id = $1
		) reported
		ORDER BY reported_at ASC, id ASC
	`, pairedColumns, soloColumns)

	return r.queryRecords(ctx, query, playerID)
}

// GetLastPairedMatch returns the player's most recent paired match
func (r *Repository) GetLastPairedMatch(ctx context.Context, playerID string) (*domain.MatchRecord, error) {
	query := pairedColumns + `
		WHERE winner_id = $1 OR loser_id = $1
		ORDER BY reported_at DESC, id DESC
		LIMIT 1
	`
	records, err := r.queryRecords(ctx, query, playerID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, domain.ErrNoMatches
	}
	return &records[0], nil
}

func (r *Repository) queryRecords(ctx context.Context, query string, args ...interface{}) ([]domain.MatchRecord, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying match records: %w", err)
	}
	defer rows.Close()

	var records []domain.MatchRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reading match records: %w", err)
	}
	return records, nil
}

func scanRecord(rows pgx.Rows) (domain.MatchRecord, error) {
	var rec domain.MatchRecord
	var kind string
	var deck []byte
	err := rows.Scan(
		&rec.ID,
		&kind,
		&rec.ReporterID,
		&rec.ReporterName,
		&rec.WinnerID,
		&rec.WinnerName,
		&rec.LoserID,
		&rec.LoserName,
		&rec.OpponentName,
		&rec.ReporterWon,
		&rec.ReportedAt,
		&rec.Details.FirstPlayer,
		&rec.Details.Duration,
		&rec.Details.DeckURL,
		&rec.Details.Comment,
		&deck,
	)
	if err != nil {
		return rec, fmt.Errorf("scanning match record: %w", err)
	}
	rec.Kind = domain.MatchKind(kind)
	if len(deck) > 0 {
		rec.Details.DeckData = deck
	}
	return rec, nil
}
