package database

import (
	"fmt"
	"net"
	"time"
)

// AffinityRecord is one resolved SRV target's address, as harvested during
// RFC 3263 resolution and persisted so a restarted dispatcher can rebuild
// the same sort_key-ordered candidate list without a fresh DNS round trip.
type AffinityRecord struct {
	Host      string // original resolution target (maddr or URI host)
	Transport string // dispatch.Transport.String()
	Target    string // SRV target, or Host itself when no SRV was used
	Port      uint16
	IP        net.IP
	SortKey   uint64
	UpdatedAt time.Time
}

// SaveAffinity upserts one resolved address for (host, transport, target, ip).
func (db *DB) SaveAffinity(rec AffinityRecord) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		INSERT INTO affinity (host, transport, target, port, ip, sort_key, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (host, transport, target, ip) DO UPDATE SET
			port = excluded.port,
			sort_key = excluded.sort_key,
			updated_at = excluded.updated_at
	`, rec.Host, rec.Transport, rec.Target, rec.Port, rec.IP.String(), rec.SortKey, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("database: save affinity: %w", err)
	}
	return nil
}

// LoadAffinity returns every persisted address for (host, transport),
// ordered by sort_key so the caller can seed a Request's AddrQueue in the
// order the dispatcher last preferred.
func (db *DB) LoadAffinity(host, transport string) ([]AffinityRecord, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT host, transport, target, port, ip, sort_key, updated_at
		FROM affinity
		WHERE host = ? AND transport = ?
		ORDER BY sort_key ASC
	`, host, transport)
	if err != nil {
		return nil, fmt.Errorf("database: load affinity: %w", err)
	}
	defer rows.Close()

	var out []AffinityRecord
	for rows.Next() {
		var rec AffinityRecord
		var ipStr string
		if err := rows.Scan(&rec.Host, &rec.Transport, &rec.Target, &rec.Port, &ipStr, &rec.SortKey, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("database: scan affinity: %w", err)
		}
		rec.IP = net.ParseIP(ipStr)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: iterate affinity: %w", err)
	}
	return out, nil
}

// PruneAffinity deletes every record last updated before cutoff, so the
// store doesn't grow unbounded with addresses the dispatcher hasn't seen
// in a long time.
func (db *DB) PruneAffinity(cutoff time.Time) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.Exec(`DELETE FROM affinity WHERE updated_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("database: prune affinity: %w", err)
	}
	return res.RowsAffected()
}
