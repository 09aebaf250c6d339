package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/biomed-maint/internal/model"
)

// activeStatusList is the SQL literal list of non-terminal work statuses.
const activeStatusList = "('scheduled', 'in_progress', 'overdue')"

const schema = `
	CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		department TEXT,
		serial_number TEXT,
		install_date DATETIME NOT NULL,
		last_service_date DATETIME,
		replacement_cost REAL NOT NULL DEFAULT 0,
		service_cost REAL NOT NULL DEFAULT 0,
		downtime_hours REAL NOT NULL DEFAULT 0,
		utilization_pct REAL NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_assets_department ON assets(department);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT
	);
	CREATE TABLE IF NOT EXISTS user_roles (
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		PRIMARY KEY (user_id, role)
	);
	CREATE INDEX IF NOT EXISTS idx_user_roles_role ON user_roles(role);

	CREATE TABLE IF NOT EXISTS maintenance_policies (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		frequency_count INTEGER NOT NULL,
		frequency_unit TEXT NOT NULL,
		vendor_id TEXT,
		assigned_to TEXT,
		last_performed_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (asset_id, kind)
	);

	CREATE TABLE IF NOT EXISTS escalation_rules (
		id TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		threshold REAL NOT NULL,
		unit TEXT NOT NULL,
		targets TEXT NOT NULL,
		notify_email INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_escalation_rules_entity ON escalation_rules(entity_type);

	CREATE TABLE IF NOT EXISTS scheduled_work (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL,
		policy_id TEXT,
		kind TEXT NOT NULL,
		scheduled_date DATETIME NOT NULL,
		status TEXT NOT NULL,
		escalation_level INTEGER NOT NULL DEFAULT 0,
		vendor_id TEXT,
		assigned_to TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		completed_at DATETIME
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_scheduled_work_active
		ON scheduled_work(asset_id, kind) WHERE status IN ` + activeStatusList + `;
	CREATE INDEX IF NOT EXISTS idx_scheduled_work_status ON scheduled_work(status);
	CREATE INDEX IF NOT EXISTS idx_scheduled_work_date ON scheduled_work(scheduled_date);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		entity_type TEXT,
		entity_id TEXT,
		is_read INTEGER NOT NULL DEFAULT 0,
		email_recipients TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, is_read);
	CREATE INDEX IF NOT EXISTS idx_notifications_entity ON notifications(entity_type, entity_id);

	CREATE TABLE IF NOT EXISTS job_runs (
		id TEXT PRIMARY KEY,
		job TEXT NOT NULL,
		outcome TEXT NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		duration INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_job_runs_job ON job_runs(job);
	CREATE INDEX IF NOT EXISTS idx_job_runs_started_at ON job_runs(started_at);
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// SQLiteOptions tunes the SQLite connection
type SQLiteOptions struct {
	BusyTimeout time.Duration
}

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	logger  *zap.Logger
	db      *sql.DB
	jobRuns *SQLiteJobRunHistory
}

// NewSQLiteStore opens (creating if needed) the database at dbPath
func NewSQLiteStore(logger *zap.Logger, dbPath string, opts SQLiteOptions) (*SQLiteStore, error) {
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on",
		dbPath, opts.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; conditional writes stay atomic without lock errors.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		logger:  logger.Named("sqlite"),
		db:      db,
		jobRuns: &SQLiteJobRunHistory{logger: logger.Named("job-runs"), db: db},
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	store.logger.Info("Opened SQLite store", zap.String("path", dbPath))
	return store, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteStore) initialize() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// JobRuns implements Store.JobRuns
func (s *SQLiteStore) JobRuns() JobRunHistory {
	return s.jobRuns
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// ---- assets ----

const assetColumns = `id, name, department, serial_number, install_date, last_service_date,
	replacement_cost, service_cost, downtime_hours, utilization_pct, created_at, updated_at`

func scanAsset(row rowScanner) (*model.Asset, error) {
	var a model.Asset
	var department, serial sql.NullString
	var lastService sql.NullTime
	if err := row.Scan(
		&a.ID, &a.Name, &department, &serial, &a.InstallDate, &lastService,
		&a.ReplacementCost, &a.ServiceCost, &a.DowntimeHours, &a.UtilizationPct,
		&a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Department = department.String
	a.SerialNumber = serial.String
	a.LastServiceDate = timePtr(lastService)
	return &a, nil
}

// GetAsset implements AssetDirectory.GetAsset
func (s *SQLiteStore) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+assetColumns+" FROM assets WHERE id = ?", id)
	asset, err := scanAsset(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", model.ErrAssetNotFound, id)
	}
	if err != nil {
		return nil, storeErr("get asset", err)
	}
	return asset, nil
}

// ListAssets implements AssetDirectory.ListAssets
func (s *SQLiteStore) ListAssets(ctx context.Context, filter model.AssetFilter) ([]*model.Asset, error) {
	query := "SELECT " + assetColumns + " FROM assets WHERE 1 = 1"
	args := make([]interface{}, 0)

	if len(filter.IDs) > 0 {
		query += " AND id IN (" + placeholders(len(filter.IDs)) + ")"
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}
	if filter.Department != "" {
		query += " AND department = ?"
		args = append(args, filter.Department)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " ORDER BY id LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list assets", err)
	}
	defer rows.Close()

	var assets []*model.Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, storeErr("scan asset", err)
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate assets", err)
	}
	return assets, nil
}

// SaveAsset implements AssetDirectory.SaveAsset
func (s *SQLiteStore) SaveAsset(ctx context.Context, a *model.Asset) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO assets (`+assetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, nullString(a.Department), nullString(a.SerialNumber),
		a.InstallDate.UTC(), nullTime(a.LastServiceDate),
		a.ReplacementCost, a.ServiceCost, a.DowntimeHours, a.UtilizationPct,
		a.CreatedAt.UTC(), a.UpdatedAt,
	)
	if err != nil {
		return storeErr("save asset", err)
	}
	return nil
}

// ---- users ----

func (s *SQLiteStore) userRoles(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT role FROM user_roles WHERE user_id = ? ORDER BY role", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetUser implements UserDirectory.GetUser
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	var email sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT id, name, email FROM users WHERE id = ?", id).
		Scan(&u.ID, &u.Name, &email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get user", err)
	}
	u.Email = email.String

	if u.Roles, err = s.userRoles(ctx, id); err != nil {
		return nil, storeErr("get user roles", err)
	}
	return &u, nil
}

// UsersWithRole implements UserDirectory.UsersWithRole
func (s *SQLiteStore) UsersWithRole(ctx context.Context, role string) ([]*model.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.name, u.email
		FROM users u JOIN user_roles r ON r.user_id = u.id
		WHERE r.role = ?
		ORDER BY u.id`, role)
	if err != nil {
		return nil, storeErr("list users by role", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		var u model.User
		var email sql.NullString
		if err := rows.Scan(&u.ID, &u.Name, &email); err != nil {
			return nil, storeErr("scan user", err)
		}
		u.Email = email.String
		users = append(users, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate users", err)
	}
	return users, nil
}

// SaveUser implements UserDirectory.SaveUser
func (s *SQLiteStore) SaveUser(ctx context.Context, u *model.User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin save user", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO users (id, name, email) VALUES (?, ?, ?)",
		u.ID, u.Name, nullString(u.Email)); err != nil {
		return storeErr("save user", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM user_roles WHERE user_id = ?", u.ID); err != nil {
		return storeErr("reset user roles", err)
	}
	for _, role := range u.Roles {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO user_roles (user_id, role) VALUES (?, ?)", u.ID, role); err != nil {
			return storeErr("save user role", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit save user", err)
	}
	return nil
}

// ---- policies and rules ----

const policyColumns = `id, asset_id, kind, frequency_count, frequency_unit, vendor_id, assigned_to,
	last_performed_at, created_at, updated_at`

func scanPolicy(row rowScanner) (*model.MaintenancePolicy, error) {
	var p model.MaintenancePolicy
	var vendor, assigned sql.NullString
	var lastPerformed sql.NullTime
	if err := row.Scan(
		&p.ID, &p.AssetID, &p.Kind, &p.Frequency.Count, &p.Frequency.Unit,
		&vendor, &assigned, &lastPerformed, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.VendorID = vendor.String
	p.AssignedTo = assigned.String
	p.LastPerformedAt = timePtr(lastPerformed)
	return &p, nil
}

// ListPolicies implements PolicyStore.ListPolicies
func (s *SQLiteStore) ListPolicies(ctx context.Context, assetID string) ([]*model.MaintenancePolicy, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+policyColumns+" FROM maintenance_policies WHERE asset_id = ? ORDER BY kind", assetID)
	if err != nil {
		return nil, storeErr("list policies", err)
	}
	defer rows.Close()

	var policies []*model.MaintenancePolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, storeErr("scan policy", err)
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate policies", err)
	}
	return policies, nil
}

// GetPolicy implements PolicyStore.GetPolicy
func (s *SQLiteStore) GetPolicy(ctx context.Context, id string) (*model.MaintenancePolicy, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+policyColumns+" FROM maintenance_policies WHERE id = ?", id)
	p, err := scanPolicy(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get policy", err)
	}
	return p, nil
}

// SavePolicy implements PolicyStore.SavePolicy
func (s *SQLiteStore) SavePolicy(ctx context.Context, p *model.MaintenancePolicy) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO maintenance_policies (`+policyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.AssetID, p.Kind, p.Frequency.Count, p.Frequency.Unit,
		nullString(p.VendorID), nullString(p.AssignedTo), nullTime(p.LastPerformedAt),
		p.CreatedAt.UTC(), p.UpdatedAt,
	)
	if err != nil {
		return storeErr("save policy", err)
	}
	return nil
}

// MarkPolicyPerformed implements PolicyStore.MarkPolicyPerformed
func (s *SQLiteStore) MarkPolicyPerformed(ctx context.Context, policyID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE maintenance_policies SET last_performed_at = ?, updated_at = ? WHERE id = ?",
		at.UTC(), time.Now().UTC(), policyID)
	if err != nil {
		return storeErr("mark policy performed", err)
	}
	return nil
}

// ListEscalationRules implements PolicyStore.ListEscalationRules
func (s *SQLiteStore) ListEscalationRules(ctx context.Context, entityType string) ([]*model.EscalationRule, error) {
	query := "SELECT id, entity_type, threshold, unit, targets, notify_email, created_at, updated_at FROM escalation_rules"
	args := make([]interface{}, 0)
	if entityType != "" {
		query += " WHERE entity_type = ?"
		args = append(args, entityType)
	}
	query += " ORDER BY entity_type, threshold, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list escalation rules", err)
	}
	defer rows.Close()

	var rules []*model.EscalationRule
	for rows.Next() {
		var r model.EscalationRule
		var targets string
		if err := rows.Scan(&r.ID, &r.EntityType, &r.Threshold, &r.Unit, &targets,
			&r.NotifyEmail, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, storeErr("scan escalation rule", err)
		}
		if err := json.Unmarshal([]byte(targets), &r.Targets); err != nil {
			return nil, storeErr("decode escalation targets", err)
		}
		rules = append(rules, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate escalation rules", err)
	}
	return rules, nil
}

// SaveEscalationRule implements PolicyStore.SaveEscalationRule
func (s *SQLiteStore) SaveEscalationRule(ctx context.Context, r *model.EscalationRule) error {
	targets, err := json.Marshal(r.Targets)
	if err != nil {
		return fmt.Errorf("failed to encode escalation targets: %w", err)
	}

	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO escalation_rules
			(id, entity_type, threshold, unit, targets, notify_email, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.EntityType, r.Threshold, r.Unit, string(targets), r.NotifyEmail,
		r.CreatedAt.UTC(), r.UpdatedAt,
	)
	if err != nil {
		return storeErr("save escalation rule", err)
	}
	return nil
}

// ---- scheduled work ----

const workColumns = `id, asset_id, policy_id, kind, scheduled_date, status, escalation_level,
	vendor_id, assigned_to, created_at, updated_at, completed_at`

func scanWork(row rowScanner) (*model.ScheduledWork, error) {
	var w model.ScheduledWork
	var policyID, vendor, assigned sql.NullString
	var completedAt sql.NullTime
	if err := row.Scan(
		&w.ID, &w.AssetID, &policyID, &w.Kind, &w.ScheduledDate, &w.Status, &w.EscalationLevel,
		&vendor, &assigned, &w.CreatedAt, &w.UpdatedAt, &completedAt,
	); err != nil {
		return nil, err
	}
	w.PolicyID = policyID.String
	w.VendorID = vendor.String
	w.AssignedTo = assigned.String
	w.CompletedAt = timePtr(completedAt)
	return &w, nil
}

// CreateWorkIfNoneActive implements WorkStore.CreateWorkIfNoneActive. The
// existence check and the insert are one statement; the partial unique index
// on active rows backs it up.
func (s *SQLiteStore) CreateWorkIfNoneActive(ctx context.Context, w *model.ScheduledWork) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_work (`+workColumns+`)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL
		WHERE NOT EXISTS (
			SELECT 1 FROM scheduled_work
			WHERE asset_id = ? AND kind = ? AND status IN `+activeStatusList+`
		)`,
		w.ID, w.AssetID, nullString(w.PolicyID), w.Kind, w.ScheduledDate.UTC(), w.Status, w.EscalationLevel,
		nullString(w.VendorID), nullString(w.AssignedTo), w.CreatedAt.UTC(), w.UpdatedAt.UTC(),
		w.AssetID, w.Kind,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		// Only the active-work unique index means "already active"; other
		// constraint failures are real errors.
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return false, nil
		}
		return false, storeErr("create scheduled work", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, storeErr("get affected rows", err)
	}
	return affected == 1, nil
}

// GetWork implements WorkStore.GetWork
func (s *SQLiteStore) GetWork(ctx context.Context, id string) (*model.ScheduledWork, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+workColumns+" FROM scheduled_work WHERE id = ?", id)
	w, err := scanWork(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", model.ErrWorkNotFound, id)
	}
	if err != nil {
		return nil, storeErr("get scheduled work", err)
	}
	return w, nil
}

// FindActiveWork implements WorkStore.FindActiveWork
func (s *SQLiteStore) FindActiveWork(ctx context.Context, assetID string, kind model.PolicyKind) (*model.ScheduledWork, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+workColumns+` FROM scheduled_work
		WHERE asset_id = ? AND kind = ? AND status IN `+activeStatusList+` LIMIT 1`, assetID, kind)
	w, err := scanWork(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("find active work", err)
	}
	return w, nil
}

// ListWork implements WorkStore.ListWork
func (s *SQLiteStore) ListWork(ctx context.Context, filter model.WorkFilter) ([]*model.ScheduledWork, error) {
	query := "SELECT " + workColumns + " FROM scheduled_work WHERE 1 = 1"
	args := make([]interface{}, 0)

	if filter.AssetID != "" {
		query += " AND asset_id = ?"
		args = append(args, filter.AssetID)
	}
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, filter.Kind)
	}
	if len(filter.Statuses) > 0 {
		query += " AND status IN (" + placeholders(len(filter.Statuses)) + ")"
		for _, st := range filter.Statuses {
			args = append(args, st)
		}
	}
	if filter.DueFrom != nil {
		query += " AND scheduled_date >= ?"
		args = append(args, filter.DueFrom.UTC())
	}
	if filter.DueTo != nil {
		query += " AND scheduled_date <= ?"
		args = append(args, filter.DueTo.UTC())
	}
	query += " ORDER BY scheduled_date, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list scheduled work", err)
	}
	defer rows.Close()

	var works []*model.ScheduledWork
	for rows.Next() {
		w, err := scanWork(rows)
		if err != nil {
			return nil, storeErr("scan scheduled work", err)
		}
		works = append(works, w)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate scheduled work", err)
	}
	return works, nil
}

// TransitionWork implements WorkStore.TransitionWork
func (s *SQLiteStore) TransitionWork(ctx context.Context, id string, from, to model.WorkState, at time.Time) (bool, error) {
	var completedAt sql.NullTime
	if to.Status == model.WorkStatusCompleted {
		completedAt = sql.NullTime{Time: at.UTC(), Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_work SET
			status = ?,
			escalation_level = ?,
			updated_at = ?,
			completed_at = COALESCE(?, completed_at)
		WHERE id = ? AND status = ? AND escalation_level = ?`,
		to.Status, to.EscalationLevel, at.UTC(), completedAt,
		id, from.Status, from.EscalationLevel,
	)
	if err != nil {
		return false, storeErr("transition scheduled work", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, storeErr("get affected rows", err)
	}
	return affected == 1, nil
}

// ---- notifications ----

const notificationColumns = `id, user_id, type, title, message, entity_type, entity_id, is_read,
	email_recipients, created_at`

func scanNotification(row rowScanner) (*model.Notification, error) {
	var n model.Notification
	var entityType, entityID, recipients sql.NullString
	if err := row.Scan(
		&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &entityType, &entityID, &n.Read,
		&recipients, &n.CreatedAt,
	); err != nil {
		return nil, err
	}
	n.EntityType = entityType.String
	n.EntityID = entityID.String
	if recipients.Valid && recipients.String != "" {
		if err := json.Unmarshal([]byte(recipients.String), &n.EmailRecipients); err != nil {
			return nil, err
		}
	}
	return &n, nil
}

// InsertNotification implements NotificationStore.InsertNotification
func (s *SQLiteStore) InsertNotification(ctx context.Context, n *model.Notification) error {
	var recipients sql.NullString
	if len(n.EmailRecipients) > 0 {
		data, err := json.Marshal(n.EmailRecipients)
		if err != nil {
			return fmt.Errorf("failed to encode email recipients: %w", err)
		}
		recipients = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Type, n.Title, n.Message,
		nullString(n.EntityType), nullString(n.EntityID), n.Read,
		recipients, n.CreatedAt.UTC(),
	)
	if err != nil {
		return storeErr("insert notification", err)
	}
	return nil
}

// GetNotification implements NotificationStore.GetNotification
func (s *SQLiteStore) GetNotification(ctx context.Context, id string) (*model.Notification, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+notificationColumns+" FROM notifications WHERE id = ?", id)
	n, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", model.ErrNotificationNotFound, id)
	}
	if err != nil {
		return nil, storeErr("get notification", err)
	}
	return n, nil
}

// MarkNotificationRead implements NotificationStore.MarkNotificationRead
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "UPDATE notifications SET is_read = 1 WHERE id = ?", id)
	if err != nil {
		return storeErr("mark notification read", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storeErr("get affected rows", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", model.ErrNotificationNotFound, id)
	}
	return nil
}

// MarkAllNotificationsRead implements NotificationStore.MarkAllNotificationsRead
func (s *SQLiteStore) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1 WHERE user_id = ? AND is_read = 0", userID)
	if err != nil {
		return 0, storeErr("mark all notifications read", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, storeErr("get affected rows", err)
	}
	return affected, nil
}

// CountUnread implements NotificationStore.CountUnread
func (s *SQLiteStore) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0", userID).Scan(&count)
	if err != nil {
		return 0, storeErr("count unread notifications", err)
	}
	return count, nil
}

// ListNotifications implements NotificationStore.ListNotifications
func (s *SQLiteStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool, offset, limit int) ([]*model.Notification, int, error) {
	where := " WHERE user_id = ?"
	args := []interface{}{userID}
	if unreadOnly {
		where += " AND is_read = 0"
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notifications"+where, args...).Scan(&total); err != nil {
		return nil, 0, storeErr("count notifications", err)
	}

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+notificationColumns+" FROM notifications"+where+" ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?",
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, storeErr("list notifications", err)
	}
	defer rows.Close()

	var items []*model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, storeErr("scan notification", err)
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeErr("iterate notifications", err)
	}
	return items, total, nil
}

// NotificationExists implements NotificationStore.NotificationExists
func (s *SQLiteStore) NotificationExists(ctx context.Context, q model.NotificationQuery) (bool, error) {
	query := "SELECT EXISTS (SELECT 1 FROM notifications WHERE 1 = 1"
	args := make([]interface{}, 0)
	if q.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, q.UserID)
	}
	if q.Type != "" {
		query += " AND type = ?"
		args = append(args, q.Type)
	}
	if q.EntityType != "" {
		query += " AND entity_type = ?"
		args = append(args, q.EntityType)
	}
	if q.EntityID != "" {
		query += " AND entity_id = ?"
		args = append(args, q.EntityID)
	}
	query += ")"

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return false, storeErr("check notification exists", err)
	}
	return exists, nil
}
