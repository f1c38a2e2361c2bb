package models

// FileInfo is the dedup ledger row of one distinct content hash.
// Location is owned by the content store and never leaves the server.
type FileInfo struct {
	Hash     string `json:"hash" db:"hash"`
	Location string `json:"-" db:"location"`
	Size     int64  `json:"size" db:"size"`
}
