package database_test

import (
	"net"
	"testing"
	"time"

	"github.com/jroosing/sipdispatch/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveAndLoadAffinity(t *testing.T) {
	db := openTestDB(t)

	rec := database.AffinityRecord{
		Host:      "sip.example.com",
		Transport: "udp",
		Target:    "sip1.example.com",
		Port:      5060,
		IP:        net.ParseIP("203.0.113.10"),
		SortKey:   1,
	}
	require.NoError(t, db.SaveAffinity(rec))

	got, err := db.LoadAffinity("sip.example.com", "udp")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.Target, got[0].Target)
	assert.Equal(t, rec.Port, got[0].Port)
	assert.True(t, rec.IP.Equal(got[0].IP))
}

func TestSaveAffinityUpsertsOnConflict(t *testing.T) {
	db := openTestDB(t)

	rec := database.AffinityRecord{
		Host: "sip.example.com", Transport: "udp", Target: "sip1.example.com",
		Port: 5060, IP: net.ParseIP("203.0.113.10"), SortKey: 1,
	}
	require.NoError(t, db.SaveAffinity(rec))

	rec.SortKey = 99
	rec.Port = 5061
	require.NoError(t, db.SaveAffinity(rec))

	got, err := db.LoadAffinity("sip.example.com", "udp")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(99), got[0].SortKey)
	assert.Equal(t, uint16(5061), got[0].Port)
}

func TestLoadAffinityOrdersBySortKey(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.SaveAffinity(database.AffinityRecord{
		Host: "sip.example.com", Transport: "tcp", Target: "b.example.com",
		Port: 5060, IP: net.ParseIP("198.51.100.2"), SortKey: 2,
	}))
	require.NoError(t, db.SaveAffinity(database.AffinityRecord{
		Host: "sip.example.com", Transport: "tcp", Target: "a.example.com",
		Port: 5060, IP: net.ParseIP("198.51.100.1"), SortKey: 1,
	}))

	got, err := db.LoadAffinity("sip.example.com", "tcp")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a.example.com", got[0].Target)
	assert.Equal(t, "b.example.com", got[1].Target)
}

func TestLoadAffinityEmptyForUnknownHost(t *testing.T) {
	db := openTestDB(t)

	got, err := db.LoadAffinity("nowhere.example.com", "udp")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPruneAffinityDeletesStaleRecords(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.SaveAffinity(database.AffinityRecord{
		Host: "sip.example.com", Transport: "udp", Target: "sip1.example.com",
		Port: 5060, IP: net.ParseIP("203.0.113.10"), SortKey: 1,
	}))

	n, err := db.PruneAffinity(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := db.LoadAffinity("sip.example.com", "udp")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHealth(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, db.Health())
}
