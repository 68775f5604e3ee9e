package nonce

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore 把计数器落盘，进程重启后不回退，避免 nonce 复用。
// 依赖 sqlite 的单写者串行化保证 Next 的原子性。
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite 打开（必要时创建）计数器数据库。
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open nonce db: %w", err)
	}
	// 单连接即可，计数器写入本身必须串行
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS nonces (
		venue TEXT PRIMARY KEY,
		seq   INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init nonce schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close 关闭底层数据库。
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Init(venue string, start int64) (bool, error) {
	res, err := s.db.Exec(`INSERT OR IGNORE INTO nonces (venue, seq) VALUES (?, ?)`, venue, start)
	if err != nil {
		return false, fmt.Errorf("init nonce for %s: %w", venue, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("init nonce for %s: %w", venue, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Next(venue string) (int64, error) {
	var seq int64
	err := s.db.QueryRow(`UPDATE nonces SET seq = seq + 1 WHERE venue = ? RETURNING seq`, venue).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("nonce for %s not initialized", venue)
	}
	if err != nil {
		return 0, fmt.Errorf("next nonce for %s: %w", venue, err)
	}
	return seq, nil
}
