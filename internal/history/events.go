package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stagehand/internal/notifications"
	"stagehand/internal/services"
)

// ErrNoRunID is returned by Signal when the context carries no run ID.
var ErrNoRunID = errors.New("history: context has no run id")

// Signal records a lifecycle event for the run on ctx.
func (s *Store) Signal(ctx context.Context, event notifications.Event, description string, details notifications.Details) error {
	runID, ok := services.RunIDFromContext(ctx)
	if !ok {
		return ErrNoRunID
	}
	branch, _ := services.BranchFromContext(ctx)

	var errorMessage any
	if err, ok := details[notifications.DetailError].(error); ok && err != nil {
		errorMessage = err.Error()
	}
	outs, _ := details[notifications.DetailOutput].([]string)
	outputsJSON, err := json.Marshal(nonNil(outs))
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}

	if err := s.exec(ctx,
		`INSERT INTO stage_events (
            run_id, stage, branch, event, description, error_message, outputs_json, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID,
		notifications.StageName(details),
		branch,
		string(event),
		description,
		errorMessage,
		string(outputsJSON),
		formatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("insert stage event: %w", err)
	}
	return nil
}

// ListEvents returns the events of runID in insertion order.
func (s *Store) ListEvents(ctx context.Context, runID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT id, run_id, stage, branch, event, description, error_message, outputs_json, created_at
        FROM stage_events WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev          Event
			errorMsg    sql.NullString
			outputsJSON string
			createdRaw  string
		)
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Stage, &ev.Branch, &ev.Event, &ev.Description, &errorMsg, &outputsJSON, &createdRaw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(outputsJSON), &ev.Outputs); err != nil {
			return nil, fmt.Errorf("decode event outputs: %w", err)
		}
		ev.ErrorMessage = errorMsg.String
		ev.CreatedAt = parseTime(createdRaw)
		events = append(events, ev)
	}
	return events, rows.Err()
}
