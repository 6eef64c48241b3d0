// Package logstore mirrors BuildLog history into a queryable sqlite table
// and serves it read-only over HTTP, the way the teacher's ninja-rbe
// subsystem mirrors and serves build-log-like records — trimmed here to
// inspection only, since dispatching commands to a remote worker is out
// of scope (spec.md's Non-goals exclude remote execution as a
// correctness mechanism, not ever serving already-recorded history over a
// socket). Grounded on ninja-rbe/sqlitedb_init.go, model/log_entry.go, and
// ninja-rbe/log_entry_service.go.
package logstore

import (
	"gorm.io/plugin/soft_delete"
)

// Entry is the mirrored form of one buildlog.Entry: a row gorm can query,
// soft-deletable so expiry doesn't lose the audit trail, keyed by output
// path the same way buildlog.Log itself is keyed.
type Entry struct {
	ID          int64  `gorm:"primarykey"`
	Output      string `gorm:"uniqueIndex:idx_output_live"`
	CommandHash string `gorm:"index:idx_command_hash"`
	// RapidKey is hash.RapidHash of Output, used as a cheap secondary
	// lookup index distinct from CommandHash — mirrors the teacher's
	// ParamsHash idea (model/log_entry.go) without the RBE upload/cache
	// semantics that field existed for.
	RapidKey    uint64 `gorm:"index:idx_rapid_key"`
	StartTimeMs int64
	EndTimeMs   int64
	RestatMtime int64

	LastAccess int64
	Deleted    soft_delete.DeletedAt `gorm:"softDelete:flag;uniqueIndex:idx_output_live"`
}

func (Entry) TableName() string { return "buildlog_entry" }
