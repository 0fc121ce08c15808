package domain

// Capacity is a live total/used reading of a share in bytes.
type Capacity struct {
	Total int64 `json:"total"`
	Used  int64 `json:"used"`
}

func (c Capacity) Free() int64 {
	if c.Used >= c.Total {
		return 0
	}
	return c.Total - c.Used
}

// BackupShare is a configured vault endpoint together with its last capacity reading.
// It is never persisted.
type BackupShare struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Endpoint string   `json:"endpoint"`
	Priority int      `json:"priority"`
	Online   bool     `json:"online"`
	Capacity Capacity `json:"capacity"`
	Error    string   `json:"error,omitempty"`
}
