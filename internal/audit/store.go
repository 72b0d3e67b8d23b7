// 本文件用于结束进程操作的审计存储，SQLite 不可用时回退到内存模式

package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	timeLayout      = "2006-01-02T15:04:05.000000000Z07:00" // 定宽格式保证按字符串比较即按时间比较
	defaultLimit    = 200
	maxLimit        = 2000
	defaultCapacity = 500
)

// Record 表示一次结束进程请求的审计记录
type Record struct {
	ID        int64     `json:"id"`
	Actor     string    `json:"actor"`
	PID       int32     `json:"pid"`
	Name      string    `json:"name"`
	Signal    string    `json:"signal"`
	Forced    bool      `json:"forced"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Filter 表示审计记录查询条件
type Filter struct {
	PID     int32
	Outcome string
	From    time.Time
	Limit   int
}

// Store 是审计存储的统一接口
type Store interface {
	Append(record Record) error
	List(filter Filter) ([]Record, error)
	Close() error
}

// Open 按路径打开审计存储，路径为空时使用内存模式
func Open(path string) (Store, error) {
	if strings.TrimSpace(path) == "" {
		return NewMemoryStore(defaultCapacity), nil
	}
	return NewSQLiteStore(path)
}

// SQLiteStore 基于 SQLite 的审计存储
type SQLiteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore 初始化审计库
// 初始化失败由上层决定是否回退到内存模式
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dbPath := strings.TrimSpace(path)
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit data dir failed: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit sqlite failed: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set audit sqlite wal failed: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

// DBPath 返回审计库文件路径
func (s *SQLiteStore) DBPath() string {
	if s == nil {
		return ""
	}
	return s.dbPath
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Append(record Record) error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := validate(record); err != nil {
		return err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	forced := 0
	if record.Forced {
		forced = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO terminate_audit (actor, pid, name, signal, forced, outcome, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		strings.TrimSpace(record.Actor),
		record.PID,
		record.Name,
		record.Signal,
		forced,
		record.Outcome,
		record.Error,
		formatTime(record.CreatedAt),
	)
	return err
}

// List 按 pid、结果与起始时间组合过滤，最新的记录排在前面
func (s *SQLiteStore) List(filter Filter) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	limit := clampLimit(filter.Limit)

	s.mu.Lock()
	defer s.mu.Unlock()

	builder := strings.Builder{}
	builder.WriteString(`
		SELECT id, actor, pid, name, signal, forced, outcome, error, created_at
		FROM terminate_audit
		WHERE 1 = 1
	`)
	args := make([]any, 0, 4)
	if filter.PID > 0 {
		builder.WriteString(` AND pid = ?`)
		args = append(args, filter.PID)
	}
	if val := strings.TrimSpace(filter.Outcome); val != "" {
		builder.WriteString(` AND outcome = ?`)
		args = append(args, val)
	}
	if !filter.From.IsZero() {
		builder.WriteString(` AND created_at >= ?`)
		args = append(args, formatTime(filter.From))
	}
	builder.WriteString(` ORDER BY id DESC LIMIT ?`)
	args = append(args, limit)

	rows, err := s.db.Query(builder.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var (
			item      Record
			forced    int
			createdAt string
		)
		if err := rows.Scan(
			&item.ID,
			&item.Actor,
			&item.PID,
			&item.Name,
			&item.Signal,
			&forced,
			&item.Outcome,
			&item.Error,
			&createdAt,
		); err != nil {
			return nil, err
		}
		item.Forced = forced != 0
		item.CreatedAt = parseTime(createdAt)
		out = append(out, item)
	}
	return out, rows.Err()
}

// migrate 负责审计表结构的幂等迁移
func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS terminate_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			actor TEXT NOT NULL DEFAULT '',
			pid INTEGER NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			signal TEXT NOT NULL DEFAULT '',
			forced INTEGER NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_terminate_audit_created_at
			ON terminate_audit(created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_terminate_audit_pid
			ON terminate_audit(pid, created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate audit sqlite failed: %w", err)
		}
	}
	return nil
}

// MemoryStore 是容量受限的内存审计存储，超出容量时丢弃最旧的记录
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	nextID   int64
	records  []Record
}

// NewMemoryStore 创建内存审计存储
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &MemoryStore{capacity: capacity}
}

func (s *MemoryStore) Append(record Record) error {
	if err := validate(record); err != nil {
		return err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	record.ID = s.nextID
	record.CreatedAt = record.CreatedAt.UTC()
	s.records = append(s.records, record)
	if over := len(s.records) - s.capacity; over > 0 {
		s.records = append([]Record(nil), s.records[over:]...)
	}
	return nil
}

func (s *MemoryStore) List(filter Filter) ([]Record, error) {
	limit := clampLimit(filter.Limit)
	outcome := strings.TrimSpace(filter.Outcome)

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0)
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		item := s.records[i]
		if filter.PID > 0 && item.PID != filter.PID {
			continue
		}
		if outcome != "" && item.Outcome != outcome {
			continue
		}
		if !filter.From.IsZero() && item.CreatedAt.Before(filter.From) {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func validate(record Record) error {
	if strings.TrimSpace(record.Outcome) == "" {
		return fmt.Errorf("invalid audit record: outcome is empty")
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}
	}
	if t, err := time.Parse(timeLayout, trimmed); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
