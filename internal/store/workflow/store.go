// Package workflow persists paused workflow tool state between steps
// (spec.md §4.7, §3 Workflow state) so a client may resume after an
// arbitrary delay. Grounded on the same pgx repository shape as
// internal/store/conversation; findings are stored as a raw JSONB
// column and manipulated by the tool frame with gjson/sjson rather than
// unmarshalled into a Go struct here.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"dispatchd/internal/domain"
	"dispatchd/internal/domain/models"
	"dispatchd/internal/pg"
)

// Store persists WorkflowState.
type Store interface {
	// Create inserts the first persisted row for a freshly minted
	// workflow id. Unlike Save it is a plain INSERT with no ON CONFLICT
	// clause, so a colliding workflow_id (two starts racing on the same
	// 128-bit id, astronomically unlikely but checked anyway) surfaces
	// as ErrIDCollision rather than silently clobbering another
	// workflow's row.
	Create(ctx context.Context, state *models.WorkflowState) error
	Save(ctx context.Context, state *models.WorkflowState) error
	Load(ctx context.Context, workflowID string) (*models.WorkflowState, error)
	Delete(ctx context.Context, workflowID string) error
	// SweepTombstoned deletes PAUSED/CANCELLED workflows past ttl since
	// PausedAt (§4.7: "durable PAUSED state is tombstoned after TTL").
	SweepTombstoned(ctx context.Context, ttl time.Duration) (int, error)
}

// ErrIDCollision is returned by Create when the generated workflow id
// already exists (pg.IsDuplicate on the underlying unique-key violation).
var ErrIDCollision = errors.New("workflow id collision")

type pgStore struct {
	pool   *pgxpool.Pool
	tables *pg.TableNames
	logger *slog.Logger
}

// New creates a pgx-backed workflow state store.
func New(pool *pgxpool.Pool, tables *pg.TableNames, logger *slog.Logger) Store {
	return &pgStore{pool: pool, tables: tables, logger: logger}
}

func (s *pgStore) Create(ctx context.Context, state *models.WorkflowState) error {
	relevantFiles, err := json.Marshal(state.RelevantFiles)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "marshal relevant_files", err)
	}
	findings := state.FindingsJSON
	if findings == "" {
		findings = "{}"
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (workflow_id, tool_name, step_number, total_steps, next_step_required,
			findings_json, hypothesis, confidence, relevant_files, status, paused_at,
			continuation_id, last_error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, s.tables.Workflows)

	_, err = s.pool.Exec(ctx, query,
		state.WorkflowID, state.ToolName, state.StepNumber, state.TotalSteps, state.NextStepRequired,
		findings, state.Hypothesis, state.Confidence, relevantFiles, state.Status, state.PausedAt,
		state.ContinuationID, state.LastError)
	if err != nil {
		if pg.IsDuplicate(err) {
			return ErrIDCollision
		}
		return domain.Wrap(domain.KindInternal, "create workflow state", err)
	}
	return nil
}

func (s *pgStore) Save(ctx context.Context, state *models.WorkflowState) error {
	relevantFiles, err := json.Marshal(state.RelevantFiles)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "marshal relevant_files", err)
	}
	findings := state.FindingsJSON
	if findings == "" {
		findings = "{}"
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (workflow_id, tool_name, step_number, total_steps, next_step_required,
			findings_json, hypothesis, confidence, relevant_files, status, paused_at,
			continuation_id, last_error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (workflow_id) DO UPDATE SET
			step_number = EXCLUDED.step_number,
			total_steps = EXCLUDED.total_steps,
			next_step_required = EXCLUDED.next_step_required,
			findings_json = EXCLUDED.findings_json,
			hypothesis = EXCLUDED.hypothesis,
			confidence = EXCLUDED.confidence,
			relevant_files = EXCLUDED.relevant_files,
			status = EXCLUDED.status,
			paused_at = EXCLUDED.paused_at,
			last_error = EXCLUDED.last_error
	`, s.tables.Workflows)

	_, err = s.pool.Exec(ctx, query,
		state.WorkflowID, state.ToolName, state.StepNumber, state.TotalSteps, state.NextStepRequired,
		findings, state.Hypothesis, state.Confidence, relevantFiles, state.Status, state.PausedAt,
		state.ContinuationID, state.LastError)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "save workflow state", err)
	}
	return nil
}

func (s *pgStore) Load(ctx context.Context, workflowID string) (*models.WorkflowState, error) {
	query := fmt.Sprintf(`
		SELECT workflow_id, tool_name, step_number, total_steps, next_step_required, findings_json,
			hypothesis, confidence, relevant_files, status, paused_at, continuation_id, last_error
		FROM %s WHERE workflow_id = $1
	`, s.tables.Workflows)

	var st models.WorkflowState
	var relevantFiles []byte
	err := s.pool.QueryRow(ctx, query, workflowID).Scan(
		&st.WorkflowID, &st.ToolName, &st.StepNumber, &st.TotalSteps, &st.NextStepRequired, &st.FindingsJSON,
		&st.Hypothesis, &st.Confidence, &relevantFiles, &st.Status, &st.PausedAt, &st.ContinuationID, &st.LastError)
	if err != nil {
		if pg.IsNoRows(err) {
			return nil, domain.New(domain.KindWorkflowOrderError, "no paused workflow with this id")
		}
		return nil, domain.Wrap(domain.KindInternal, "load workflow state", err)
	}
	if len(relevantFiles) > 0 {
		_ = json.Unmarshal(relevantFiles, &st.RelevantFiles)
	}
	return &st, nil
}

func (s *pgStore) Delete(ctx context.Context, workflowID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE workflow_id = $1`, s.tables.Workflows)
	if _, err := s.pool.Exec(ctx, query, workflowID); err != nil {
		return domain.Wrap(domain.KindInternal, "delete workflow state", err)
	}
	return nil
}

func (s *pgStore) SweepTombstoned(ctx context.Context, ttl time.Duration) (int, error) {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE status IN ('paused', 'cancelled') AND paused_at < $1
	`, s.tables.Workflows)
	tag, err := s.pool.Exec(ctx, query, time.Now().Add(-ttl))
	if err != nil {
		return 0, domain.Wrap(domain.KindInternal, "sweep tombstoned workflows", err)
	}
	n := int(tag.RowsAffected())
	if n > 0 {
		s.logger.Info("tombstoned workflows swept", "count", n)
	}
	return n, nil
}

// RunSweeper periodically sweeps tombstoned workflow state until ctx is
// cancelled.
func RunSweeper(ctx context.Context, store Store, interval, ttl time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := store.SweepTombstoned(ctx, ttl); err != nil {
					logger.Error("workflow sweep failed", "error", err)
				}
			}
		}
	}()
}
