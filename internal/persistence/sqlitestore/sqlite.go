// Package sqlitestore persists accounts, territories, rewards and session
// objects in a single SQLite file.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/itsthedevman/esm-arma/internal/audit"
	"github.com/itsthedevman/esm-arma/internal/store"
)

type Store struct {
	db *sql.DB

	applies       atomic.Uint64
	applyFailures atomic.Uint64
	audits        atomic.Uint64
	execs         atomic.Uint64
}

var (
	_ store.Store    = (*Store)(nil)
	_ store.Session  = (*Store)(nil)
	_ store.Executor = (*Store)(nil)
	_ audit.Sink     = (*Store)(nil)
)

func OpenSQLite(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: writes serialize and :memory: stays a single database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS accounts (
			uid TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			money INTEGER NOT NULL DEFAULT 0,
			locker INTEGER NOT NULL DEFAULT 0,
			respect INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS territories (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			flag_net_id TEXT NOT NULL DEFAULT '',
			owner_uid TEXT NOT NULL,
			level INTEGER NOT NULL,
			object_count INTEGER NOT NULL,
			balance INTEGER NOT NULL,
			payment_counter INTEGER NOT NULL,
			last_paid_at TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS territory_members (
			territory_id TEXT NOT NULL REFERENCES territories(id) ON DELETE CASCADE,
			uid TEXT NOT NULL,
			role TEXT NOT NULL,
			PRIMARY KEY (territory_id, uid)
		);`,
		`CREATE TABLE IF NOT EXISTS rewards (
			code TEXT PRIMARY KEY,
			owner_uid TEXT NOT NULL,
			type TEXT NOT NULL,
			classname TEXT NOT NULL DEFAULT '',
			quantity INTEGER NOT NULL,
			pin TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			container_type TEXT NOT NULL DEFAULT '',
			vehicle_net_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT '',
			expires_at TEXT NOT NULL DEFAULT '',
			redeemed_at TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_rewards_owner ON rewards(owner_uid, code);`,
		`CREATE TABLE IF NOT EXISTS objects (
			net_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			owner_uid TEXT NOT NULL DEFAULT '',
			territory_id TEXT NOT NULL DEFAULT '',
			classname TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS container_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			container_net_id TEXT NOT NULL,
			classname TEXT NOT NULL,
			quantity INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_container_items_container ON container_items(container_net_id);`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uid TEXT NOT NULL,
			kind TEXT NOT NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_uid ON notifications(uid, id);`,
		`CREATE TABLE IF NOT EXISTS exec_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			code TEXT NOT NULL,
			execute_on TEXT NOT NULL,
			queued_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS audits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			kind TEXT NOT NULL,
			actor TEXT NOT NULL,
			server_id TEXT NOT NULL DEFAULT '',
			channel_id TEXT NOT NULL DEFAULT '',
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_actor ON audits(actor, id);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_kind ON audits(kind, id);`,
		`INSERT OR IGNORE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the handle for read-only tooling.
func (s *Store) DB() *sql.DB { return s.db }

type Stats struct {
	Applies       uint64
	ApplyFailures uint64
	Audits        uint64
	Execs         uint64
}

func (s *Store) Stats() Stats {
	return Stats{
		Applies:       s.applies.Load(),
		ApplyFailures: s.applyFailures.Load(),
		Audits:        s.audits.Load(),
		Execs:         s.execs.Load(),
	}
}

// classify maps driver errors onto the store sentinels. Busy or locked
// databases and expired contexts are transient.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %v", op, store.ErrUnavailable, err)
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%s: %w: %v", op, store.ErrUnavailable, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *Store) Account(ctx context.Context, uid string) (store.Account, error) {
	var a store.Account
	err := s.db.QueryRowContext(ctx,
		`SELECT uid,name,money,locker,respect FROM accounts WHERE uid=?`, uid,
	).Scan(&a.UID, &a.Name, &a.Money, &a.Locker, &a.Respect)
	if err != nil {
		return store.Account{}, classify("account "+uid, err)
	}
	return a, nil
}

func (s *Store) Territory(ctx context.Context, id string) (store.Territory, error) {
	var (
		t        store.Territory
		lastPaid string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id,name,flag_net_id,owner_uid,level,object_count,balance,payment_counter,last_paid_at
		 FROM territories WHERE id=?`, id,
	).Scan(&t.ID, &t.Name, &t.FlagNetID, &t.OwnerUID, &t.Level, &t.ObjectCount, &t.Balance, &t.PaymentCounter, &lastPaid)
	if err != nil {
		return store.Territory{}, classify("territory "+id, err)
	}
	t.LastPaidAt = parseTime(lastPaid)
	t.Members = map[string]store.Role{}

	rows, err := s.db.QueryContext(ctx, `SELECT uid,role FROM territory_members WHERE territory_id=?`, id)
	if err != nil {
		return store.Territory{}, classify("territory members "+id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var uid, role string
		if err := rows.Scan(&uid, &role); err != nil {
			return store.Territory{}, classify("territory members "+id, err)
		}
		t.Members[uid] = store.Role(role)
	}
	if err := rows.Err(); err != nil {
		return store.Territory{}, classify("territory members "+id, err)
	}
	return t, nil
}

const rewardCols = `code,owner_uid,type,classname,quantity,pin,source,container_type,vehicle_net_id,created_at,expires_at,redeemed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanReward(sc scanner) (store.Reward, error) {
	var (
		r                           store.Reward
		rtype                       string
		created, expires, redeemed string
	)
	if err := sc.Scan(&r.Code, &r.OwnerUID, &rtype, &r.Classname, &r.Quantity, &r.Pin, &r.Source,
		&r.ContainerType, &r.VehicleNetID, &created, &expires, &redeemed); err != nil {
		return store.Reward{}, err
	}
	r.Type = store.RewardType(rtype)
	r.CreatedAt = parseTime(created)
	r.ExpiresAt = parseTime(expires)
	r.RedeemedAt = parseTime(redeemed)
	return r, nil
}

func (s *Store) Reward(ctx context.Context, code string) (store.Reward, error) {
	r, err := scanReward(s.db.QueryRowContext(ctx, `SELECT `+rewardCols+` FROM rewards WHERE code=?`, code))
	if err != nil {
		return store.Reward{}, classify("reward "+code, err)
	}
	return r, nil
}

func (s *Store) Rewards(ctx context.Context, uid string) ([]store.Reward, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+rewardCols+` FROM rewards WHERE owner_uid=? ORDER BY code`, uid)
	if err != nil {
		return nil, classify("rewards "+uid, err)
	}
	defer rows.Close()
	var out []store.Reward
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, classify("rewards "+uid, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("rewards "+uid, err)
	}
	return out, nil
}

func (s *Store) Object(ctx context.Context, netID string) (store.Object, error) {
	var (
		o    store.Object
		kind string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT net_id,kind,owner_uid,territory_id,classname FROM objects WHERE net_id=?`, netID,
	).Scan(&o.NetID, &kind, &o.OwnerUID, &o.TerritoryID, &o.Classname)
	if err != nil {
		return store.Object{}, classify("object "+netID, err)
	}
	o.Kind = store.ObjectKind(kind)
	return o, nil
}

// Apply writes m in one transaction.
func (s *Store) Apply(ctx context.Context, m store.Mutation) error {
	if err := s.apply(ctx, m); err != nil {
		s.applyFailures.Add(1)
		return classify("apply", err)
	}
	s.applies.Add(1)
	return nil
}

func (s *Store) apply(ctx context.Context, m store.Mutation) error {
	if m.Empty() {
		return ctx.Err()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, a := range m.Accounts {
		if strings.TrimSpace(a.UID) == "" {
			return fmt.Errorf("account with empty uid")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO accounts(uid,name,money,locker,respect) VALUES(?,?,?,?,?)`,
			a.UID, a.Name, a.Money, a.Locker, a.Respect); err != nil {
			return err
		}
	}
	for _, t := range m.Territories {
		if strings.TrimSpace(t.ID) == "" {
			return fmt.Errorf("territory with empty id")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO territories(id,name,flag_net_id,owner_uid,level,object_count,balance,payment_counter,last_paid_at)
			 VALUES(?,?,?,?,?,?,?,?,?)
			 ON CONFLICT(id) DO UPDATE SET name=excluded.name, flag_net_id=excluded.flag_net_id,
			   owner_uid=excluded.owner_uid, level=excluded.level, object_count=excluded.object_count,
			   balance=excluded.balance, payment_counter=excluded.payment_counter, last_paid_at=excluded.last_paid_at`,
			t.ID, t.Name, t.FlagNetID, t.OwnerUID, t.Level, t.ObjectCount, t.Balance, t.PaymentCounter, fmtTime(t.LastPaidAt)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM territory_members WHERE territory_id=?`, t.ID); err != nil {
			return err
		}
		for uid, role := range t.Members {
			if uid == t.OwnerUID {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO territory_members(territory_id,uid,role) VALUES(?,?,?)`, t.ID, uid, string(role)); err != nil {
				return err
			}
		}
	}
	for _, r := range m.Rewards {
		if strings.TrimSpace(r.Code) == "" {
			return fmt.Errorf("reward with empty code")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO rewards(`+rewardCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
			r.Code, r.OwnerUID, string(r.Type), r.Classname, r.Quantity, r.Pin, r.Source,
			r.ContainerType, r.VehicleNetID, fmtTime(r.CreatedAt), fmtTime(r.ExpiresAt), fmtTime(r.RedeemedAt)); err != nil {
			return err
		}
	}
	for _, o := range m.Objects {
		if strings.TrimSpace(o.NetID) == "" {
			return fmt.Errorf("object with empty net id")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO objects(net_id,kind,owner_uid,territory_id,classname) VALUES(?,?,?,?,?)`,
			o.NetID, string(o.Kind), o.OwnerUID, o.TerritoryID, o.Classname); err != nil {
			return err
		}
	}
	for _, it := range m.Items {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO container_items(container_net_id,classname,quantity) VALUES(?,?,?)`,
			it.ContainerNetID, it.Classname, it.Quantity); err != nil {
			return err
		}
	}
	for _, n := range m.Notifications {
		created := n.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO notifications(uid,kind,title,body,created_at) VALUES(?,?,?,?,?)`,
			n.UID, n.Kind, n.Title, n.Body, fmtTime(created)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SpawnVehicle allocates a vehicle object with a fresh net id. The row is
// written when the caller applies it.
func (s *Store) SpawnVehicle(ctx context.Context, ownerUID, classname, pin string) (store.Object, error) {
	if err := ctx.Err(); err != nil {
		return store.Object{}, classify("spawn vehicle", err)
	}
	return store.Object{
		NetID:     "vehicle:" + uuid.NewString(),
		Kind:      store.ObjectVehicle,
		OwnerUID:  ownerUID,
		Classname: classname,
	}, nil
}

// Execute enqueues code for the game side and returns the queue id.
func (s *Store) Execute(ctx context.Context, code, executeOn string) (string, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO exec_queue(code,execute_on,queued_at) VALUES(?,?,?)`,
		code, executeOn, fmtTime(time.Now()))
	if err != nil {
		return "", classify("exec enqueue", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", classify("exec enqueue", err)
	}
	s.execs.Add(1)
	return fmt.Sprintf("queued:%d", id), nil
}

func (s *Store) WriteAudit(ctx context.Context, e audit.Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO audits(at,kind,actor,server_id,channel_id,raw_json) VALUES(?,?,?,?,?,?)`,
		fmtTime(e.Time), string(e.Kind), e.Actor, e.ServerID, e.ChannelID, string(raw)); err != nil {
		return classify("audit", err)
	}
	s.audits.Add(1)
	return nil
}
