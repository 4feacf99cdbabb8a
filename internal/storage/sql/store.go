package sql

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bcnelson/storefront-gateway/internal/domain"
	"github.com/bcnelson/storefront-gateway/internal/storage"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// isUniqueViolation checks if an error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	// SQLite
	if strings.Contains(errStr, "UNIQUE constraint failed") {
		return true
	}
	// PostgreSQL
	if strings.Contains(errStr, "duplicate key value violates unique constraint") {
		return true
	}
	return false
}

// isForeignKeyViolation checks if an error is a FOREIGN KEY constraint violation.
func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "FOREIGN KEY constraint failed") ||
		strings.Contains(errStr, "violates foreign key constraint")
}

// wrapWriteError converts constraint violations to domain errors.
func wrapWriteError(err error) error {
	switch {
	case isUniqueViolation(err):
		return domain.ErrAlreadyExists
	case isForeignKeyViolation(err):
		return domain.ErrNotFound
	}
	return err
}

// Store implements the storage.Storage interface using SQL.
type Store struct {
	db     *sqlx.DB
	driver string
}

// New creates a new SQL store.
func New(driver, dsn string) (*Store, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	// Run migrations
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect(driver); err != nil {
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db.DB, "migrations"); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, driver: driver}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction.
func (s *Store) BeginTx(ctx context.Context) (storage.Transaction, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, driver: s.driver}, nil
}

// Tx wraps a database transaction.
type Tx struct {
	tx     *sqlx.Tx
	driver string
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback rolls back the transaction.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// Close is a no-op for transactions (they should be committed or rolled back).
func (t *Tx) Close() error {
	return nil
}

// BeginTx is not supported within a transaction.
func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}

// helper to get the correct database interface
type dbInterface interface {
	sqlx.ExtContext
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func requireAffected(result sql.Result) error {
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ============================================
// Guest Cart Tokens
// ============================================

const guestTokenColumns = `id, cart_id, token, created_at, updated_at`

// createGuestToken skips duplicates with ON CONFLICT DO NOTHING so that a
// lost race leaves an enclosing postgres transaction usable.
func createGuestToken(ctx context.Context, db dbInterface, token *domain.GuestCartToken) error {
	result, err := db.ExecContext(ctx,
		`INSERT INTO guest_cart_tokens (id, cart_id, token, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT DO NOTHING`,
		token.ID, token.CartID, token.Token, token.CreatedAt, token.UpdatedAt)
	if err != nil {
		return wrapWriteError(err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

func (s *Store) CreateGuestToken(ctx context.Context, token *domain.GuestCartToken) error {
	return createGuestToken(ctx, s.db, token)
}

func (t *Tx) CreateGuestToken(ctx context.Context, token *domain.GuestCartToken) error {
	return createGuestToken(ctx, t.tx, token)
}

func getGuestTokenBy(ctx context.Context, db dbInterface, column, value string) (*domain.GuestCartToken, error) {
	var record domain.GuestCartToken
	err := db.GetContext(ctx, &record,
		`SELECT `+guestTokenColumns+` FROM guest_cart_tokens WHERE `+column+` = $1`, value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Store) GetGuestToken(ctx context.Context, token string) (*domain.GuestCartToken, error) {
	return getGuestTokenBy(ctx, s.db, "token", token)
}

func (t *Tx) GetGuestToken(ctx context.Context, token string) (*domain.GuestCartToken, error) {
	return getGuestTokenBy(ctx, t.tx, "token", token)
}

func (s *Store) GetGuestTokenByCart(ctx context.Context, cartID string) (*domain.GuestCartToken, error) {
	return getGuestTokenBy(ctx, s.db, "cart_id", cartID)
}

func (t *Tx) GetGuestTokenByCart(ctx context.Context, cartID string) (*domain.GuestCartToken, error) {
	return getGuestTokenBy(ctx, t.tx, "cart_id", cartID)
}

func deleteGuestToken(ctx context.Context, db dbInterface, token string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM guest_cart_tokens WHERE token = $1`, token)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func (s *Store) DeleteGuestToken(ctx context.Context, token string) error {
	return deleteGuestToken(ctx, s.db, token)
}

func (t *Tx) DeleteGuestToken(ctx context.Context, token string) error {
	return deleteGuestToken(ctx, t.tx, token)
}

// ============================================
// Storefront Keys
// ============================================

const storefrontKeyColumns = `id, name, key_type, key_hash, key_prefix, is_active, rate_limit,
	allowed_ips_json, expires_at, last_used_at, deprecation_date, rotated_from_id,
	created_at, updated_at, deleted_at`

type storefrontKeyRow struct {
	ID              string     `db:"id"`
	Name            string     `db:"name"`
	KeyType         string     `db:"key_type"`
	KeyHash         string     `db:"key_hash"`
	KeyPrefix       string     `db:"key_prefix"`
	IsActive        bool       `db:"is_active"`
	RateLimit       *int       `db:"rate_limit"`
	AllowedIPsJSON  *string    `db:"allowed_ips_json"`
	ExpiresAt       *time.Time `db:"expires_at"`
	LastUsedAt      *time.Time `db:"last_used_at"`
	DeprecationDate *time.Time `db:"deprecation_date"`
	RotatedFromID   *string    `db:"rotated_from_id"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
	DeletedAt       *time.Time `db:"deleted_at"`
}

func rowToStorefrontKey(row *storefrontKeyRow) (*domain.StorefrontKey, error) {
	key := &domain.StorefrontKey{
		ID:              row.ID,
		Name:            row.Name,
		KeyType:         domain.KeyType(row.KeyType),
		KeyHash:         row.KeyHash,
		KeyPrefix:       row.KeyPrefix,
		IsActive:        row.IsActive,
		RateLimit:       row.RateLimit,
		ExpiresAt:       row.ExpiresAt,
		LastUsedAt:      row.LastUsedAt,
		DeprecationDate: row.DeprecationDate,
		RotatedFromID:   row.RotatedFromID,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
		DeletedAt:       row.DeletedAt,
	}
	if row.AllowedIPsJSON != nil && *row.AllowedIPsJSON != "" {
		if err := json.Unmarshal([]byte(*row.AllowedIPsJSON), &key.AllowedIPs); err != nil {
			return nil, fmt.Errorf("decoding allowed ips for key %s: %w", row.ID, err)
		}
	}
	return key, nil
}

func allowedIPsJSON(ips []string) (*string, error) {
	if len(ips) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(ips)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

func createStorefrontKey(ctx context.Context, db dbInterface, key *domain.StorefrontKey) error {
	if key.RotatedFromID != nil && *key.RotatedFromID == key.ID {
		return domain.ErrRotationCycle
	}
	ips, err := allowedIPsJSON(key.AllowedIPs)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO storefront_keys (id, name, key_type, key_hash, key_prefix, is_active, rate_limit,
			allowed_ips_json, expires_at, last_used_at, deprecation_date, rotated_from_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		key.ID, key.Name, string(key.KeyType), key.KeyHash, key.KeyPrefix, key.IsActive, key.RateLimit,
		ips, key.ExpiresAt, key.LastUsedAt, key.DeprecationDate, key.RotatedFromID, key.CreatedAt, key.UpdatedAt)
	return wrapWriteError(err)
}

func (s *Store) CreateStorefrontKey(ctx context.Context, key *domain.StorefrontKey) error {
	return createStorefrontKey(ctx, s.db, key)
}

func (t *Tx) CreateStorefrontKey(ctx context.Context, key *domain.StorefrontKey) error {
	return createStorefrontKey(ctx, t.tx, key)
}

func getStorefrontKeyBy(ctx context.Context, db dbInterface, column, value string) (*domain.StorefrontKey, error) {
	var row storefrontKeyRow
	err := db.GetContext(ctx, &row,
		`SELECT `+storefrontKeyColumns+` FROM storefront_keys WHERE `+column+` = $1 AND deleted_at IS NULL`, value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rowToStorefrontKey(&row)
}

func (s *Store) GetStorefrontKey(ctx context.Context, id string) (*domain.StorefrontKey, error) {
	return getStorefrontKeyBy(ctx, s.db, "id", id)
}

func (t *Tx) GetStorefrontKey(ctx context.Context, id string) (*domain.StorefrontKey, error) {
	return getStorefrontKeyBy(ctx, t.tx, "id", id)
}

func (s *Store) GetStorefrontKeyByHash(ctx context.Context, keyHash string) (*domain.StorefrontKey, error) {
	return getStorefrontKeyBy(ctx, s.db, "key_hash", keyHash)
}

func (t *Tx) GetStorefrontKeyByHash(ctx context.Context, keyHash string) (*domain.StorefrontKey, error) {
	return getStorefrontKeyBy(ctx, t.tx, "key_hash", keyHash)
}

func listStorefrontKeys(ctx context.Context, db dbInterface, keyType domain.KeyType) ([]*domain.StorefrontKey, error) {
	var rows []*storefrontKeyRow
	var err error
	if keyType == "" {
		err = db.SelectContext(ctx, &rows,
			`SELECT `+storefrontKeyColumns+` FROM storefront_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	} else {
		err = db.SelectContext(ctx, &rows,
			`SELECT `+storefrontKeyColumns+` FROM storefront_keys WHERE key_type = $1 AND deleted_at IS NULL ORDER BY created_at DESC`,
			string(keyType))
	}
	if err != nil {
		return nil, err
	}
	keys := make([]*domain.StorefrontKey, 0, len(rows))
	for _, row := range rows {
		key, err := rowToStorefrontKey(row)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *Store) ListStorefrontKeys(ctx context.Context, keyType domain.KeyType) ([]*domain.StorefrontKey, error) {
	return listStorefrontKeys(ctx, s.db, keyType)
}

func (t *Tx) ListStorefrontKeys(ctx context.Context, keyType domain.KeyType) ([]*domain.StorefrontKey, error) {
	return listStorefrontKeys(ctx, t.tx, keyType)
}

func updateStorefrontKey(ctx context.Context, db dbInterface, key *domain.StorefrontKey) error {
	if key.RotatedFromID != nil && *key.RotatedFromID == key.ID {
		return domain.ErrRotationCycle
	}
	ips, err := allowedIPsJSON(key.AllowedIPs)
	if err != nil {
		return err
	}
	result, err := db.ExecContext(ctx,
		`UPDATE storefront_keys SET name = $1, is_active = $2, rate_limit = $3, allowed_ips_json = $4,
			expires_at = $5, deprecation_date = $6, rotated_from_id = $7, updated_at = $8
		 WHERE id = $9 AND deleted_at IS NULL`,
		key.Name, key.IsActive, key.RateLimit, ips, key.ExpiresAt, key.DeprecationDate,
		key.RotatedFromID, time.Now(), key.ID)
	if err != nil {
		return wrapWriteError(err)
	}
	return requireAffected(result)
}

func (s *Store) UpdateStorefrontKey(ctx context.Context, key *domain.StorefrontKey) error {
	return updateStorefrontKey(ctx, s.db, key)
}

func (t *Tx) UpdateStorefrontKey(ctx context.Context, key *domain.StorefrontKey) error {
	return updateStorefrontKey(ctx, t.tx, key)
}

func updateStorefrontKeyLastUsed(ctx context.Context, db dbInterface, id string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE storefront_keys SET last_used_at = $1 WHERE id = $2 AND deleted_at IS NULL`, time.Now(), id)
	return err
}

func (s *Store) UpdateStorefrontKeyLastUsed(ctx context.Context, id string) error {
	return updateStorefrontKeyLastUsed(ctx, s.db, id)
}

func (t *Tx) UpdateStorefrontKeyLastUsed(ctx context.Context, id string) error {
	return updateStorefrontKeyLastUsed(ctx, t.tx, id)
}

func softDeleteStorefrontKey(ctx context.Context, db dbInterface, id string) error {
	now := time.Now()
	result, err := db.ExecContext(ctx,
		`UPDATE storefront_keys SET deleted_at = $1, is_active = $2, updated_at = $3 WHERE id = $4 AND deleted_at IS NULL`,
		now, false, now, id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func (s *Store) SoftDeleteStorefrontKey(ctx context.Context, id string) error {
	return softDeleteStorefrontKey(ctx, s.db, id)
}

func (t *Tx) SoftDeleteStorefrontKey(ctx context.Context, id string) error {
	return softDeleteStorefrontKey(ctx, t.tx, id)
}

func countStorefrontKeys(ctx context.Context, db dbInterface, keyType domain.KeyType) (int, error) {
	var count int
	var err error
	if keyType == "" {
		err = db.GetContext(ctx, &count, `SELECT COUNT(*) FROM storefront_keys WHERE deleted_at IS NULL`)
	} else {
		err = db.GetContext(ctx, &count,
			`SELECT COUNT(*) FROM storefront_keys WHERE key_type = $1 AND deleted_at IS NULL`, string(keyType))
	}
	return count, err
}

func (s *Store) CountStorefrontKeys(ctx context.Context, keyType domain.KeyType) (int, error) {
	return countStorefrontKeys(ctx, s.db, keyType)
}

func (t *Tx) CountStorefrontKeys(ctx context.Context, keyType domain.KeyType) (int, error) {
	return countStorefrontKeys(ctx, t.tx, keyType)
}

// ============================================
// Carts
// ============================================

const cartColumns = `id, customer_id, is_guest, is_active, created_at, updated_at`

func createCart(ctx context.Context, db dbInterface, cart *domain.Cart) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO carts (id, customer_id, is_guest, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		cart.ID, cart.CustomerID, cart.IsGuest, cart.IsActive, cart.CreatedAt, cart.UpdatedAt)
	return wrapWriteError(err)
}

func (s *Store) CreateCart(ctx context.Context, cart *domain.Cart) error {
	return createCart(ctx, s.db, cart)
}

func (t *Tx) CreateCart(ctx context.Context, cart *domain.Cart) error {
	return createCart(ctx, t.tx, cart)
}

func getCart(ctx context.Context, db dbInterface, id string) (*domain.Cart, error) {
	var cart domain.Cart
	err := db.GetContext(ctx, &cart, `SELECT `+cartColumns+` FROM carts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	cart.Items, err = listCartItems(ctx, db, cart.ID)
	return &cart, err
}

func (s *Store) GetCart(ctx context.Context, id string) (*domain.Cart, error) {
	return getCart(ctx, s.db, id)
}

func (t *Tx) GetCart(ctx context.Context, id string) (*domain.Cart, error) {
	return getCart(ctx, t.tx, id)
}

func getActiveCartByCustomer(ctx context.Context, db dbInterface, customerID string) (*domain.Cart, error) {
	var cart domain.Cart
	err := db.GetContext(ctx, &cart,
		`SELECT `+cartColumns+` FROM carts WHERE customer_id = $1 AND is_active = $2 ORDER BY created_at DESC LIMIT 1`,
		customerID, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	cart.Items, err = listCartItems(ctx, db, cart.ID)
	return &cart, err
}

func (s *Store) GetActiveCartByCustomer(ctx context.Context, customerID string) (*domain.Cart, error) {
	return getActiveCartByCustomer(ctx, s.db, customerID)
}

func (t *Tx) GetActiveCartByCustomer(ctx context.Context, customerID string) (*domain.Cart, error) {
	return getActiveCartByCustomer(ctx, t.tx, customerID)
}

func updateCart(ctx context.Context, db dbInterface, cart *domain.Cart) error {
	result, err := db.ExecContext(ctx,
		`UPDATE carts SET customer_id = $1, is_guest = $2, is_active = $3, updated_at = $4 WHERE id = $5`,
		cart.CustomerID, cart.IsGuest, cart.IsActive, cart.UpdatedAt, cart.ID)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func (s *Store) UpdateCart(ctx context.Context, cart *domain.Cart) error {
	return updateCart(ctx, s.db, cart)
}

func (t *Tx) UpdateCart(ctx context.Context, cart *domain.Cart) error {
	return updateCart(ctx, t.tx, cart)
}

// deleteCart removes children explicitly so the cascade holds even where the
// driver does not enforce foreign keys.
func deleteCart(ctx context.Context, db dbInterface, id string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM guest_cart_tokens WHERE cart_id = $1`, id); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, id); err != nil {
		return err
	}
	result, err := db.ExecContext(ctx, `DELETE FROM carts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func (s *Store) DeleteCart(ctx context.Context, id string) error {
	return deleteCart(ctx, s.db, id)
}

func (t *Tx) DeleteCart(ctx context.Context, id string) error {
	return deleteCart(ctx, t.tx, id)
}

// ============================================
// Cart Items
// ============================================

const cartItemColumns = `id, cart_id, product_id, quantity, created_at, updated_at`

func createCartItem(ctx context.Context, db dbInterface, item *domain.CartItem) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO cart_items (id, cart_id, product_id, quantity, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		item.ID, item.CartID, item.ProductID, item.Quantity, item.CreatedAt, item.UpdatedAt)
	return wrapWriteError(err)
}

func (s *Store) CreateCartItem(ctx context.Context, item *domain.CartItem) error {
	return createCartItem(ctx, s.db, item)
}

func (t *Tx) CreateCartItem(ctx context.Context, item *domain.CartItem) error {
	return createCartItem(ctx, t.tx, item)
}

func listCartItems(ctx context.Context, db dbInterface, cartID string) ([]domain.CartItem, error) {
	items := []domain.CartItem{}
	err := db.SelectContext(ctx, &items,
		`SELECT `+cartItemColumns+` FROM cart_items WHERE cart_id = $1 ORDER BY created_at, id`, cartID)
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListCartItems(ctx context.Context, cartID string) ([]domain.CartItem, error) {
	return listCartItems(ctx, s.db, cartID)
}

func (t *Tx) ListCartItems(ctx context.Context, cartID string) ([]domain.CartItem, error) {
	return listCartItems(ctx, t.tx, cartID)
}

func updateCartItem(ctx context.Context, db dbInterface, item *domain.CartItem) error {
	result, err := db.ExecContext(ctx,
		`UPDATE cart_items SET quantity = $1, updated_at = $2 WHERE id = $3 AND cart_id = $4`,
		item.Quantity, item.UpdatedAt, item.ID, item.CartID)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func (s *Store) UpdateCartItem(ctx context.Context, item *domain.CartItem) error {
	return updateCartItem(ctx, s.db, item)
}

func (t *Tx) UpdateCartItem(ctx context.Context, item *domain.CartItem) error {
	return updateCartItem(ctx, t.tx, item)
}

func deleteCartItem(ctx context.Context, db dbInterface, cartID, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM cart_items WHERE id = $1 AND cart_id = $2`, id, cartID)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func (s *Store) DeleteCartItem(ctx context.Context, cartID, id string) error {
	return deleteCartItem(ctx, s.db, cartID, id)
}

func (t *Tx) DeleteCartItem(ctx context.Context, cartID, id string) error {
	return deleteCartItem(ctx, t.tx, cartID, id)
}
