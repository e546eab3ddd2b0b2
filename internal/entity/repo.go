package entity

import "time"

// RepoMeta describes the archive currently extracted into the cache.
type RepoMeta struct {
	Signature string `json:"signature"`
	UpdatedAt int64  `json:"updatedAt"` // Unix milliseconds
}

func (m *RepoMeta) UpdatedTime() time.Time {
	return time.UnixMilli(m.UpdatedAt)
}
