package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"rulewatch/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IncidentsRepository 事故仓库
// 状态变更使用版本号乐观并发控制：并发竞争的失败方拿到 ErrConflict，由调用方决定是否重试
type IncidentsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewIncidentsRepository 创建事故仓库
func NewIncidentsRepository(db *sql.DB, logger *zap.Logger) *IncidentsRepository {
	return &IncidentsRepository{db: db, logger: logger}
}

const incidentColumns = `
	incident_id,
	rule_id,
	status,
	priority,
	details,
	opened_at,
	last_occurrence_at,
	resolution_comment,
	origin_execution_id,
	version,
	updated_at
`

func scanIncident(scan func(dest ...any) error) (*domain.Incident, error) {
	var inc domain.Incident
	var status string
	var resolutionComment, originExecutionID sql.NullString

	err := scan(
		&inc.IncidentID,
		&inc.RuleID,
		&status,
		&inc.Priority,
		&inc.Details,
		&inc.OpenedAt,
		&inc.LastOccurrenceAt,
		&resolutionComment,
		&originExecutionID,
		&inc.Version,
		&inc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	inc.Status = domain.IncidentStatus(status)
	if resolutionComment.Valid {
		inc.ResolutionComment = &resolutionComment.String
	}
	if originExecutionID.Valid {
		inc.OriginExecutionID = &originExecutionID.String
	}
	return &inc, nil
}

// GetIncident 根据 incident_id 查询事故
func (r *IncidentsRepository) GetIncident(ctx context.Context, incidentID string) (*domain.Incident, error) {
	if incidentID == "" {
		return nil, fmt.Errorf("incident_id is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM incidents WHERE incident_id = $1`, incidentColumns)

	inc, err := scanIncident(func(dest ...any) error {
		return r.db.QueryRowContext(ctx, query, incidentID).Scan(dest...)
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("incident %s: %w", incidentID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query incident: %w", err)
	}
	return inc, nil
}

// FindOpenByRule 查询规则当前的非 CLOSED 事故（去重检查用）
// 不存在返回 (nil, nil)
func (r *IncidentsRepository) FindOpenByRule(ctx context.Context, ruleID string) (*domain.Incident, error) {
	if ruleID == "" {
		return nil, fmt.Errorf("rule_id is required")
	}

	query := fmt.Sprintf(`
		SELECT %s FROM incidents
		WHERE rule_id = $1 AND status != $2
		ORDER BY opened_at DESC
		LIMIT 1
	`, incidentColumns)

	inc, err := scanIncident(func(dest ...any) error {
		return r.db.QueryRowContext(ctx, query, ruleID, string(domain.IncidentClosed)).Scan(dest...)
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query open incident: %w", err)
	}
	return inc, nil
}

// CreateIncident 创建新事故（状态 OPEN，版本 1），返回 incident_id
func (r *IncidentsRepository) CreateIncident(ctx context.Context, inc *domain.Incident) (string, error) {
	if inc == nil {
		return "", fmt.Errorf("incident is required")
	}
	if inc.RuleID == "" {
		return "", fmt.Errorf("rule_id is required")
	}

	incidentID := uuid.New().String()
	query := `
		INSERT INTO incidents (
			incident_id, rule_id, status, priority, details,
			opened_at, last_occurrence_at, origin_execution_id, version, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, CURRENT_TIMESTAMP)
	`

	_, err := r.db.ExecContext(ctx, query,
		incidentID,
		inc.RuleID,
		string(domain.IncidentOpen),
		inc.Priority,
		inc.Details,
		inc.OpenedAt,
		inc.LastOccurrenceAt,
		inc.OriginExecutionID,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create incident: %w", err)
	}
	return incidentID, nil
}

// UpdateStatus 版本守护的状态变更
// expectedVersion 不匹配（并发方先行提交）时返回 ErrConflict
func (r *IncidentsRepository) UpdateStatus(ctx context.Context, incidentID string, expectedVersion int, status domain.IncidentStatus, resolutionComment *string) error {
	if incidentID == "" {
		return fmt.Errorf("incident_id is required")
	}

	query := `
		UPDATE incidents
		SET status = $2,
		    resolution_comment = COALESCE($3, resolution_comment),
		    version = version + 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE incident_id = $1 AND version = $4
	`

	result, err := r.db.ExecContext(ctx, query, incidentID, string(status), resolutionComment, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update incident status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("incident %s version %d: %w", incidentID, expectedVersion, domain.ErrConflict)
	}
	return nil
}

// TouchLastOccurrence 规则再次违例时更新最近发生时间（不改状态，不参与版本竞争）
func (r *IncidentsRepository) TouchLastOccurrence(ctx context.Context, incidentID string, occurredAt time.Time) error {
	if incidentID == "" {
		return fmt.Errorf("incident_id is required")
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE incidents SET last_occurrence_at = $2, updated_at = CURRENT_TIMESTAMP WHERE incident_id = $1`,
		incidentID, occurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to touch last occurrence: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("incident %s: %w", incidentID, domain.ErrNotFound)
	}
	return nil
}
