// Package roomdb stores room snapshots in sqlite so rooms survive a
// server restart. One row per room; the queue state rides in a single
// zstd-compressed blob, the columns an operator might query stay flat.
package roomdb

import (
	"bytes"
	"database/sql"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"itemlink.gg/internal/protocol"
	"itemlink.gg/internal/room"
)

type DB struct {
	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// blobV1 is the compressed part of a room row. Fields only grow; a
// future blobV2 gets its own decode path keyed on the version column.
type blobV1 struct {
	BaseQueue    []protocol.Item
	PlayerQueues map[protocol.World][]protocol.Item
	Delivered    map[protocol.World]int
	FileHash     *protocol.HashIcons
	Progressive  map[protocol.World]uint32
}

func Open(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
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

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db: db, enc: enc, dec: dec}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
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
		`CREATE TABLE IF NOT EXISTS rooms (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			open INTEGER NOT NULL,
			password_hash BLOB NOT NULL,
			password_salt BLOB NOT NULL,
			blob_version INTEGER NOT NULL,
			state BLOB NOT NULL,
			last_saved TEXT NOT NULL,
			autodelete_delta INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) Close() error {
	d.enc.Close()
	d.dec.Close()
	return d.db.Close()
}

// SaveRoom upserts one room snapshot. Implements room.Store.
func (d *DB) SaveRoom(s room.State) error {
	blob, err := d.encodeBlob(blobV1{
		BaseQueue:    s.BaseQueue,
		PlayerQueues: s.PlayerQueues,
		Delivered:    s.Delivered,
		FileHash:     s.FileHash,
		Progressive:  s.Progressive,
	})
	if err != nil {
		return fmt.Errorf("encode room %d: %w", s.ID, err)
	}
	_, err = d.db.Exec(`
		INSERT INTO rooms (id, name, open, password_hash, password_salt, blob_version, state, last_saved, autodelete_delta)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			open = excluded.open,
			password_hash = excluded.password_hash,
			password_salt = excluded.password_salt,
			blob_version = excluded.blob_version,
			state = excluded.state,
			last_saved = excluded.last_saved,
			autodelete_delta = excluded.autodelete_delta;`,
		int64(s.ID), s.Name, boolInt(s.Open), s.PasswordHash[:], s.PasswordSalt[:],
		blob, s.LastSaved.UTC().Format(time.RFC3339Nano), int64(s.AutoDeleteDelta),
	)
	return err
}

// DeleteRoom removes one room row. Implements room.Store.
func (d *DB) DeleteRoom(id uint64) error {
	_, err := d.db.Exec(`DELETE FROM rooms WHERE id = ?;`, int64(id))
	return err
}

// LoadAll reads every stored room, for startup restore.
func (d *DB) LoadAll() ([]room.State, error) {
	rows, err := d.db.Query(`
		SELECT id, name, open, password_hash, password_salt, blob_version, state, last_saved, autodelete_delta
		FROM rooms ORDER BY id;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []room.State
	for rows.Next() {
		var (
			id          int64
			name        string
			open        int
			hash, salt  []byte
			blobVersion int
			blob        []byte
			lastSaved   string
			delta       int64
		)
		if err := rows.Scan(&id, &name, &open, &hash, &salt, &blobVersion, &blob, &lastSaved, &delta); err != nil {
			return nil, err
		}
		if blobVersion != 1 {
			return nil, fmt.Errorf("room %d: unknown blob version %d", id, blobVersion)
		}
		var b blobV1
		if err := d.decodeBlob(blob, &b); err != nil {
			return nil, fmt.Errorf("decode room %d: %w", id, err)
		}
		s := room.State{
			ID:              uint64(id),
			Name:            name,
			Open:            open != 0,
			BaseQueue:       b.BaseQueue,
			PlayerQueues:    b.PlayerQueues,
			Delivered:       b.Delivered,
			FileHash:        b.FileHash,
			Progressive:     b.Progressive,
			AutoDeleteDelta: time.Duration(delta),
		}
		copy(s.PasswordHash[:], hash)
		copy(s.PasswordSalt[:], salt)
		if s.LastSaved, err = time.Parse(time.RFC3339Nano, lastSaved); err != nil {
			return nil, fmt.Errorf("room %d: bad last_saved %q: %w", id, lastSaved, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (d *DB) encodeBlob(b blobV1) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&b); err != nil {
		return nil, err
	}
	return d.enc.EncodeAll(buf.Bytes(), nil), nil
}

func (d *DB) decodeBlob(blob []byte, b *blobV1) error {
	raw, err := d.dec.DecodeAll(blob, nil)
	if err != nil {
		return err
	}
	return gob.NewDecoder(bytes.NewReader(raw)).Decode(b)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
