package logstore

import (
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"ninjacore/buildlog"
	"ninjacore/hash"
)

// Mirror is a queryable sqlite table of buildlog.Entry rows kept alongside
// the authoritative append-only .ninja_log, so an InspectServer can answer
// "what last produced this output" without parsing the log file. Rows are
// added only through Record; nothing copies the build log in. Grounded
// on the teacher's sqlitedb_init.go (gorm.Open over glebarez/sqlite,
// AutoMigrate) and log_entry_service.go (SaveLogEntry/FindPotentialCacheRecords),
// trimmed to the single-entry shape buildlog.Entry actually has — there is
// no separate Deps table here, since implicit-dependency bookkeeping is
// depslog's job (spec.md §4.7), not the build log's.
type Mirror struct {
	db *gorm.DB
}

// OpenMirror opens (creating if necessary) the sqlite database at path and
// ensures its schema is current.
func OpenMirror(path string) (*Mirror, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, err
	}
	return &Mirror{db: db}, nil
}

func (this *Mirror) Close() error {
	sqlDB, err := this.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record upserts a row for e, keyed by its output. The Builder does not
// call it, so the mirror holds only the entries passed to Record.
func (this *Mirror) Record(e *buildlog.Entry) error {
	row := Entry{
		Output:      e.Output,
		CommandHash: formatHash(e.CommandHash),
		RapidKey:    hash.RapidHash([]byte(e.Output)),
		StartTimeMs: int64(e.StartTimeMs),
		EndTimeMs:   int64(e.EndTimeMs),
		RestatMtime: e.RestatMtime,
		LastAccess:  time.Now().Unix(),
	}
	return this.db.Where(Entry{Output: e.Output}).
		Assign(row).
		FirstOrCreate(&Entry{}).Error
}

// Lookup returns the mirrored row for output, if any.
func (this *Mirror) Lookup(output string) (*Entry, error) {
	var row Entry
	err := this.db.Where("output = ?", output).Take(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ExpireDead soft-deletes every mirrored row whose output the caller no
// longer considers part of the build graph, mirroring clean_expired_service.go's
// single responsibility (dropping dead records) minus the filesystem
// artifact cleanup that version does — the mirror is an index, not the
// artifact store.
func (this *Mirror) ExpireDead(isPathDead func(path string) bool) (int64, error) {
	var rows []Entry
	if err := this.db.Find(&rows).Error; err != nil {
		return 0, err
	}
	var dead []int64
	for _, r := range rows {
		if isPathDead(r.Output) {
			dead = append(dead, r.ID)
		}
	}
	if len(dead) == 0 {
		return 0, nil
	}
	res := this.db.Delete(&Entry{}, dead)
	return res.RowsAffected, res.Error
}

func formatHash(h uint64) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[h&0xf]
		h >>= 4
	}
	return string(buf)
}
