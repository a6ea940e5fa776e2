package database

import (
	"log/slog"

	"github.com/jroosing/sipdispatch/internal/dispatch"
)

// Store adapts *DB to dispatch.AffinityStore, translating between the
// dispatcher's in-memory AddrRecord and the persisted AffinityRecord row
// shape. SaveAffinity logs persistence errors; LoadAffinity returns them.
type Store struct {
	db     *DB
	logger *slog.Logger
}

// NewStore wraps db for use as a dispatch.AffinityStore. A nil logger is
// replaced by slog.Default().
func NewStore(db *DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// LoadAffinity implements dispatch.AffinityStore.
func (s *Store) LoadAffinity(host, transport string) ([]dispatch.AddrRecord, error) {
	recs, err := s.db.LoadAffinity(host, transport)
	if err != nil {
		return nil, err
	}
	out := make([]dispatch.AddrRecord, 0, len(recs))
	for _, rec := range recs {
		kind := dispatch.KindA
		if rec.IP != nil && rec.IP.To4() == nil {
			kind = dispatch.KindAAAA
		}
		out = append(out, dispatch.AddrRecord{Kind: kind, IP: rec.IP, Owner: rec.Target})
	}
	return out, nil
}

// SaveAffinity implements dispatch.AffinityStore. Persistence failures are
// logged, not returned: affinity is a best-effort optimization and must
// never interfere with an in-flight request's resolution.
func (s *Store) SaveAffinity(host, transport string, port uint16, addrs []dispatch.AddrRecord) {
	for i, rec := range addrs {
		if rec.IP == nil {
			continue
		}
		err := s.db.SaveAffinity(AffinityRecord{
			Host:      host,
			Transport: transport,
			Target:    rec.Owner,
			Port:      port,
			IP:        rec.IP,
			SortKey:   uint64(i),
		})
		if err != nil {
			s.logger.Warn("affinity: save failed", "host", host, "transport", transport, "err", err)
		}
	}
}
