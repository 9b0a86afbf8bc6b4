// Package sqlstore 提供基于 database/sql 的台账存储实现
//
// 原子单元是数据库事务：条件更新聚合数量与移动记录插入在同一事务内
// 全部成功或全部失败。出库守卫直接落在 UPDATE 的 WHERE 条件上，
// 提交时刻的检查针对的是事务内的权威值，而不是调用方先前读到的值
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"stockledger/idgen/snowflake"
	"stockledger/ledger"
)

// Store SQL 台账存储
type Store struct {
	db             *sql.DB
	itemsTable     string
	movementsTable string
}

// Config 存储配置
type Config struct {
	DB             *sql.DB
	ItemsTable     string // 默认 "items"
	MovementsTable string // 默认 "movements"
}

// NewStore 创建 SQL 存储
func NewStore(cfg Config) (*Store, error) {
	if cfg.DB == nil {
		return nil, errors.New("sqlstore: db is required")
	}
	if cfg.ItemsTable == "" {
		cfg.ItemsTable = "items"
	}
	if cfg.MovementsTable == "" {
		cfg.MovementsTable = "movements"
	}
	return &Store{
		db:             cfg.DB,
		itemsTable:     cfg.ItemsTable,
		movementsTable: cfg.MovementsTable,
	}, nil
}

// Init 建表与索引（幂等）
//
// movements.idempotency_key 上的唯一索引是超时重放去重的最后防线；
// 空键存为 NULL 以豁免唯一约束
func (s *Store) Init(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			unit_price INTEGER NOT NULL DEFAULT 0,
			quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
			min_quantity INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`, s.itemsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			item_id INTEGER NOT NULL,
			direction TEXT NOT NULL,
			quantity INTEGER NOT NULL CHECK (quantity > 0),
			note TEXT NOT NULL DEFAULT '',
			supplier_ref TEXT NOT NULL DEFAULT '',
			actor_ref TEXT NOT NULL DEFAULT '',
			idempotency_key TEXT,
			ts TIMESTAMP NOT NULL
		)`, s.movementsTable),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_idem_key ON %s (idempotency_key)`,
			s.movementsTable, s.movementsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_item ON %s (item_id, seq)`,
			s.movementsTable, s.movementsTable),
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return ledger.NewStorageError("init schema", err)
		}
	}
	return nil
}

// CreateItem 创建条目；ID 为零时分配雪花ID
func (s *Store) CreateItem(ctx context.Context, item *ledger.Item) (*ledger.Item, error) {
	if item.Quantity < 0 {
		return nil, &ledger.InvalidInputError{Field: "quantity", Message: "initial quantity must be >= 0"}
	}

	created := *item
	if created.ID == 0 {
		id, err := snowflake.NextID()
		if err != nil {
			return nil, ledger.NewStorageError("generate item id", err)
		}
		created.ID = id
	}
	now := time.Now()
	created.CreatedAt = now
	created.UpdatedAt = now

	insertSQL := fmt.Sprintf(`INSERT INTO %s (id, name, unit_price, quantity, min_quantity, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, s.itemsTable)
	_, err := s.db.ExecContext(ctx, insertSQL,
		created.ID, created.Name, created.UnitPrice, created.Quantity, created.MinQuantity,
		created.CreatedAt, created.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, &ledger.LedgerError{Code: ledger.CodeInvalidInput, Message: "item already exists"}
		}
		return nil, wrapStorageError("insert item", err)
	}

	result := created
	return &result, nil
}

// GetItem 读取条目
func (s *Store) GetItem(ctx context.Context, itemID int64) (*ledger.Item, error) {
	querySQL := fmt.Sprintf(`SELECT id, name, unit_price, quantity, min_quantity, created_at, updated_at
		FROM %s WHERE id = ?`, s.itemsTable)
	row := s.db.QueryRowContext(ctx, querySQL, itemID)

	var item ledger.Item
	err := row.Scan(&item.ID, &item.Name, &item.UnitPrice, &item.Quantity, &item.MinQuantity,
		&item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.ItemNotFoundError{ItemID: itemID}
	}
	if err != nil {
		return nil, wrapStorageError("query item", err)
	}
	return &item, nil
}

// ReadQuantity 读取当前聚合数量
func (s *Store) ReadQuantity(ctx context.Context, itemID int64) (int64, error) {
	querySQL := fmt.Sprintf("SELECT quantity FROM %s WHERE id = ?", s.itemsTable)
	var quantity int64
	err := s.db.QueryRowContext(ctx, querySQL, itemID).Scan(&quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &ledger.ItemNotFoundError{ItemID: itemID}
	}
	if err != nil {
		return 0, wrapStorageError("query quantity", err)
	}
	return quantity, nil
}

// ApplyMovement 在单个事务内完成守卫检查、聚合更新与移动插入
func (s *Store) ApplyMovement(ctx context.Context, movement *ledger.Movement) (*ledger.Movement, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, wrapStorageError("begin transaction", err)
	}
	defer tx.Rollback()

	// 幂等键去重：事务内先查先前的提交，插入时的唯一索引兜底并发重放
	if movement.IdempotencyKey != "" {
		prior, quantity, found, lookupErr := s.findByIdempotencyKey(ctx, tx, movement.IdempotencyKey)
		if lookupErr != nil {
			return nil, 0, lookupErr
		}
		if found {
			return prior, quantity, nil
		}
	}

	newQuantity, err := s.updateQuantity(ctx, tx, movement)
	if err != nil {
		return nil, 0, err
	}

	committed := *movement
	if committed.Timestamp.IsZero() {
		committed.Timestamp = time.Now()
	}

	insertSQL := fmt.Sprintf(`INSERT INTO %s (id, item_id, direction, quantity, note, supplier_ref, actor_ref, idempotency_key, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.movementsTable)
	_, err = tx.ExecContext(ctx, insertSQL,
		committed.ID, committed.ItemID, string(committed.Direction), committed.Quantity,
		committed.Note, committed.SupplierRef, committed.ActorRef,
		nullableKey(committed.IdempotencyKey), committed.Timestamp)
	if err != nil {
		if isDuplicateKeyError(err) && committed.IdempotencyKey != "" {
			// 并发重放撞上唯一索引：放弃本次变更，返回已提交的那一次
			_ = tx.Rollback()
			return s.resolveDuplicate(ctx, committed.IdempotencyKey)
		}
		return nil, 0, wrapStorageError("insert movement", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, wrapStorageError("commit transaction", err)
	}

	result := committed
	return &result, newQuantity, nil
}

// updateQuantity 条件更新聚合数量，返回更新后的值
//
// 出库守卫 AND quantity >= ? 使不足与不存在都表现为零行更新，
// 随后一次补查区分这两种情形
func (s *Store) updateQuantity(ctx context.Context, tx *sql.Tx, movement *ledger.Movement) (int64, error) {
	var updateSQL string
	var args []any
	now := time.Now()

	if movement.Direction == ledger.DirectionOut {
		updateSQL = fmt.Sprintf(`UPDATE %s SET quantity = quantity - ?, updated_at = ?
			WHERE id = ? AND quantity >= ?`, s.itemsTable)
		args = []any{movement.Quantity, now, movement.ItemID, movement.Quantity}
	} else {
		updateSQL = fmt.Sprintf(`UPDATE %s SET quantity = quantity + ?, updated_at = ?
			WHERE id = ?`, s.itemsTable)
		args = []any{movement.Quantity, now, movement.ItemID}
	}

	res, err := tx.ExecContext(ctx, updateSQL, args...)
	if err != nil {
		return 0, wrapStorageError("update quantity", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, wrapStorageError("rows affected", err)
	}

	if rows == 0 {
		var available int64
		querySQL := fmt.Sprintf("SELECT quantity FROM %s WHERE id = ?", s.itemsTable)
		scanErr := tx.QueryRowContext(ctx, querySQL, movement.ItemID).Scan(&available)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return 0, &ledger.ItemNotFoundError{ItemID: movement.ItemID}
		}
		if scanErr != nil {
			return 0, wrapStorageError("query quantity", scanErr)
		}
		return 0, &ledger.InsufficientStockError{
			ItemID:    movement.ItemID,
			Available: available,
			Requested: movement.Quantity,
		}
	}

	var newQuantity int64
	querySQL := fmt.Sprintf("SELECT quantity FROM %s WHERE id = ?", s.itemsTable)
	if err := tx.QueryRowContext(ctx, querySQL, movement.ItemID).Scan(&newQuantity); err != nil {
		return 0, wrapStorageError("query updated quantity", err)
	}
	return newQuantity, nil
}

// findByIdempotencyKey 事务内按幂等键查找先前的提交
func (s *Store) findByIdempotencyKey(ctx context.Context, tx *sql.Tx, key string) (*ledger.Movement, int64, bool, error) {
	querySQL := fmt.Sprintf(`SELECT id, item_id, direction, quantity, note, supplier_ref, actor_ref, ts
		FROM %s WHERE idempotency_key = ?`, s.movementsTable)
	row := tx.QueryRowContext(ctx, querySQL, key)

	movement, err := scanMovement(row, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, wrapStorageError("query by idempotency key", err)
	}

	var quantity int64
	quantitySQL := fmt.Sprintf("SELECT quantity FROM %s WHERE id = ?", s.itemsTable)
	if err := tx.QueryRowContext(ctx, quantitySQL, movement.ItemID).Scan(&quantity); err != nil {
		return nil, 0, false, wrapStorageError("query quantity", err)
	}
	return movement, quantity, true, nil
}

// resolveDuplicate 唯一索引冲突后，在新事务外读取已提交的移动
func (s *Store) resolveDuplicate(ctx context.Context, key string) (*ledger.Movement, int64, error) {
	querySQL := fmt.Sprintf(`SELECT id, item_id, direction, quantity, note, supplier_ref, actor_ref, ts
		FROM %s WHERE idempotency_key = ?`, s.movementsTable)
	row := s.db.QueryRowContext(ctx, querySQL, key)

	movement, err := scanMovement(row, key)
	if err != nil {
		return nil, 0, wrapStorageError("resolve duplicate movement", err)
	}

	quantity, err := s.ReadQuantity(ctx, movement.ItemID)
	if err != nil {
		return nil, 0, err
	}
	return movement, quantity, nil
}

// ListMovements 按提交顺序（seq 升序）返回移动记录
func (s *Store) ListMovements(ctx context.Context, itemID int64) ([]*ledger.Movement, error) {
	querySQL := fmt.Sprintf(`SELECT id, item_id, direction, quantity, note, supplier_ref, actor_ref, idempotency_key, ts
		FROM %s WHERE item_id = ? ORDER BY seq ASC`, s.movementsTable)
	rows, err := s.db.QueryContext(ctx, querySQL, itemID)
	if err != nil {
		return nil, wrapStorageError("query movements", err)
	}
	defer rows.Close()

	var result []*ledger.Movement
	for rows.Next() {
		var m ledger.Movement
		var direction string
		var key sql.NullString
		if err := rows.Scan(&m.ID, &m.ItemID, &direction, &m.Quantity,
			&m.Note, &m.SupplierRef, &m.ActorRef, &key, &m.Timestamp); err != nil {
			return nil, wrapStorageError("scan movement", err)
		}
		m.Direction = ledger.Direction(direction)
		m.IdempotencyKey = key.String
		result = append(result, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStorageError("iterate movements", err)
	}
	return result, nil
}

// ListItems 返回全部条目（按ID排序），供派生聚合重算使用
func (s *Store) ListItems(ctx context.Context) ([]*ledger.Item, error) {
	querySQL := fmt.Sprintf(`SELECT id, name, unit_price, quantity, min_quantity, created_at, updated_at
		FROM %s ORDER BY id ASC`, s.itemsTable)
	rows, err := s.db.QueryContext(ctx, querySQL)
	if err != nil {
		return nil, wrapStorageError("query items", err)
	}
	defer rows.Close()

	var result []*ledger.Item
	for rows.Next() {
		var item ledger.Item
		if err := rows.Scan(&item.ID, &item.Name, &item.UnitPrice, &item.Quantity,
			&item.MinQuantity, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, wrapStorageError("scan item", err)
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStorageError("iterate items", err)
	}
	return result, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error { return s.db.Close() }

// rowScanner QueryRow 与 Query 行的最小公共接口
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMovement(row rowScanner, idempotencyKey string) (*ledger.Movement, error) {
	var m ledger.Movement
	var direction string
	if err := row.Scan(&m.ID, &m.ItemID, &direction, &m.Quantity,
		&m.Note, &m.SupplierRef, &m.ActorRef, &m.Timestamp); err != nil {
		return nil, err
	}
	m.Direction = ledger.Direction(direction)
	m.IdempotencyKey = idempotencyKey
	return &m, nil
}

func nullableKey(key string) any {
	if key == "" {
		return nil
	}
	return key
}

// wrapStorageError 将底层错误映射为可重试的台账错误
//
// 锁忙/死锁类错误标记为争用，其余归为存储失败；两类都可重试
func wrapStorageError(op string, err error) *ledger.LedgerError {
	if isBusyError(err) {
		return &ledger.LedgerError{Code: ledger.CodeContended, Message: op, Cause: err}
	}
	return ledger.NewStorageError(op, err)
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "busy") ||
		strings.Contains(msg, "deadlock")
}

func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

// 接口断言
var _ ledger.ILedgerStore = (*Store)(nil)
