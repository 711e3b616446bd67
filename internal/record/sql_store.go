package record

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"

	xerrors "ElizaDID/internal/errors"
)

// 支持的数据库驱动。
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

const outcomeColumns = `task_id, task_type, priority, sequence_no, status, error_code, error_message, result, started_at, finished_at`

var schemas = map[string][]string{
	DriverMySQL: {`CREATE TABLE IF NOT EXISTS dispatch_outcomes (
        task_id VARCHAR(64) PRIMARY KEY,
        task_type VARCHAR(64) NOT NULL,
        priority INT NOT NULL,
        sequence_no BIGINT NOT NULL,
        status VARCHAR(16) NOT NULL,
        error_code VARCHAR(64) NOT NULL DEFAULT '',
        error_message TEXT,
        result MEDIUMTEXT,
        started_at BIGINT NOT NULL,
        finished_at BIGINT NOT NULL,
        INDEX idx_outcome_status (status),
        INDEX idx_outcome_type (task_type),
        INDEX idx_outcome_finished (finished_at)
)`},
	DriverSQLite: {
		`CREATE TABLE IF NOT EXISTS dispatch_outcomes (
        task_id TEXT PRIMARY KEY,
        task_type TEXT NOT NULL,
        priority INTEGER NOT NULL,
        sequence_no INTEGER NOT NULL,
        status TEXT NOT NULL,
        error_code TEXT NOT NULL DEFAULT '',
        error_message TEXT,
        result TEXT,
        started_at INTEGER NOT NULL,
        finished_at INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_outcome_status ON dispatch_outcomes(status)`,
		`CREATE INDEX IF NOT EXISTS idx_outcome_type ON dispatch_outcomes(task_type)`,
		`CREATE INDEX IF NOT EXISTS idx_outcome_finished ON dispatch_outcomes(finished_at)`,
	},
}

// SQLStore 使用 MySQL 或 SQLite 记录调度结果。
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore 打开数据库并初始化表结构。
func NewSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if _, ok := schemas[driver]; !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "不支持的数据库驱动: "+driver)
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "数据库 DSN 不能为空")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接数据库失败", xerrors.WithMetadata("driver", driver))
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(10 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到数据库", xerrors.WithMetadata("driver", driver))
	}

	store := &SQLStore{db: db, driver: driver}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	for _, stmt := range schemas[s.driver] {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 dispatch_outcomes 表失败")
		}
	}
	return nil
}

// Driver 返回当前使用的驱动名。
func (s *SQLStore) Driver() string {
	return s.driver
}

// Record 插入一条调度结果。
func (s *SQLStore) Record(ctx context.Context, outcome Outcome) error {
	if err := outcome.Validate(); err != nil {
		return err
	}
	stmt := `INSERT INTO dispatch_outcomes (` + outcomeColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt,
		outcome.TaskID,
		outcome.Type,
		outcome.Priority,
		int64(outcome.Sequence),
		string(outcome.Status),
		outcome.ErrorCode,
		nullString(outcome.Error),
		nullString(string(outcome.Result)),
		outcome.StartedAt.UnixMilli(),
		outcome.FinishedAt.UnixMilli(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrOutcomeConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入调度结果失败", xerrors.WithMetadata("task_id", outcome.TaskID))
	}
	return nil
}

// Get 查询指定任务的结果。
func (s *SQLStore) Get(ctx context.Context, taskID string) (Outcome, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+outcomeColumns+` FROM dispatch_outcomes WHERE task_id = ?`, taskID)
	outcome, err := scanOutcome(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return Outcome{}, ErrOutcomeNotFound
		}
		return Outcome{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询调度结果失败")
	}
	return outcome, nil
}

// List 返回符合条件的结果。
func (s *SQLStore) List(ctx context.Context, opts ListOptions) ([]Outcome, error) {
	opts.applyDefaults()

	query := `SELECT ` + outcomeColumns + ` FROM dispatch_outcomes`
	clause, args := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	order := " ORDER BY finished_at DESC, sequence_no DESC"
	if opts.Order == SortByFinishedAsc {
		order = " ORDER BY finished_at ASC, sequence_no ASC"
	}
	query += order + " LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询调度结果列表失败")
	}
	defer rows.Close()

	outcomes := make([]Outcome, 0, opts.Limit)
	for rows.Next() {
		outcome, err := scanOutcome(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析调度结果失败")
		}
		outcomes = append(outcomes, outcome)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历调度结果失败")
	}
	return outcomes, nil
}

// Stats 返回符合过滤条件的聚合信息。
func (s *SQLStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(MIN(finished_at), 0),
        COALESCE(MAX(finished_at), 0)
        FROM dispatch_outcomes`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := []any{string(StatusSucceeded), string(StatusFailed), string(StatusUnsupported)}
	args = append(args, filterArgs...)

	var stats Stats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Succeeded,
		&stats.Failed,
		&stats.Unsupported,
		&stats.OldestFinishedAt,
		&stats.NewestFinishedAt,
	); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询调度统计失败")
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutcome(row rowScanner) (Outcome, error) {
	var (
		outcome    Outcome
		sequence   int64
		status     string
		errMessage sql.NullString
		result     sql.NullString
		startedAt  int64
		finishedAt int64
	)
	if err := row.Scan(
		&outcome.TaskID,
		&outcome.Type,
		&outcome.Priority,
		&sequence,
		&status,
		&outcome.ErrorCode,
		&errMessage,
		&result,
		&startedAt,
		&finishedAt,
	); err != nil {
		return Outcome{}, err
	}
	outcome.Sequence = uint64(sequence)
	outcome.Status = Status(status)
	outcome.Error = errMessage.String
	if result.Valid && result.String != "" {
		outcome.Result = []byte(result.String)
	}
	outcome.StartedAt = time.UnixMilli(startedAt).UTC()
	outcome.FinishedAt = time.UnixMilli(finishedAt).UTC()
	return outcome, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 4)
	args := make([]any, 0, 8)

	if len(opts.Statuses) > 0 {
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", placeholders(len(opts.Statuses))))
		for _, status := range opts.Statuses {
			args = append(args, string(status))
		}
	}
	if len(opts.Types) > 0 {
		conditions = append(conditions, fmt.Sprintf("task_type IN (%s)", placeholders(len(opts.Types))))
		for _, t := range opts.Types {
			args = append(args, t)
		}
	}
	if opts.FinishedGTE > 0 {
		conditions = append(conditions, "finished_at >= ?")
		args = append(args, opts.FinishedGTE)
	}
	if opts.FinishedLTE > 0 {
		conditions = append(conditions, "finished_at <= ?")
		args = append(args, opts.FinishedLTE)
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

// sqliteConstraint 是 SQLite 约束冲突的主错误码，扩展码的低 8 位与之相同。
const sqliteConstraint = 19

func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	if stdErrors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	var sqliteErr *sqlite.Error
	if stdErrors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqliteConstraint
	}
	return false
}

var _ Store = (*SQLStore)(nil)
