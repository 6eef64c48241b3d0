package graph

// TimeStamp mirrors the original tri-state mtime encoding: -1 means
// "not yet stat()ed", 0 means "looked, and it's missing", and any positive
// value is a real modification time (or, for a phony node, the latest
// mtime among its dependencies).
type TimeStamp int64

const (
	UnknownTimeStamp TimeStamp = -1
	MissingTimeStamp TimeStamp = 0
)
