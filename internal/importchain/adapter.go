package importchain

import (
	"fmt"
	"sort"
)

// Record is one JSON object read from the vault before it is decoded.
type Record map[string]interface{}

type RecordKind string

const (
	KindWorkload     RecordKind = "workload"
	KindWorkloadVM   RecordKind = "workload_vm"
	KindSnapshot     RecordKind = "snapshot"
	KindSnapshotVM   RecordKind = "snapshot_vm"
	KindResource     RecordKind = "snapshot_resource"
	KindDiskSnapshot RecordKind = "disk_resource_snapshot"
	KindResourceSnap RecordKind = "resource_snap"
	KindSetting      RecordKind = "setting"
)

// Adapter lifts a record written by schema version from into the schema of
// Version. It first hands the record to its predecessor and then applies its
// own fix-up; the oldest adapter ends the chain.
type Adapter interface {
	Version() string
	Normalize(kind RecordKind, rec Record, from string) Record
}

type fixup func(kind RecordKind, rec Record) Record

type adapter struct {
	version string
	parsed  version
	prev    Adapter
	fix     fixup
	// always applies fix, even to records already at or past this version
	always bool
}

func (a *adapter) Version() string { return a.version }

func (a *adapter) Normalize(kind RecordKind, rec Record, from string) Record {
	if a.prev != nil {
		rec = a.prev.Normalize(kind, rec, from)
	}
	if a.fix == nil {
		return rec
	}
	if a.always || olderThan(from, a.parsed) {
		rec = a.fix(kind, rec)
	}
	return rec
}

// olderThan reports whether from predates v. Unknown versions predate everything.
func olderThan(from string, v version) bool {
	f, ok := parseVersion(from)
	if !ok {
		return true
	}
	return f.compare(v) < 0
}

// ChainOptions feed the fix-ups that depend on the importing node.
type ChainOptions struct {
	// Host replaces the host recorded on workloads and snapshots when set.
	Host string
}

const (
	BaseVersion    = "1.0.177"
	CurrentVersion = "2.7.2"
)

// Registry maps schema versions to adapters. It is built once and read only afterwards.
type Registry struct {
	adapters map[string]Adapter
	ordered  []version
	names    []string
}

// NewRegistry builds the adapter chain from the base version up to CurrentVersion.
func NewRegistry(opts ChainOptions) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}

	var prev Adapter
	register := func(v string, fix fixup, always bool) {
		parsed, ok := parseVersion(v)
		if !ok {
			panic(fmt.Sprintf("importchain: invalid adapter version %q", v))
		}
		a := &adapter{version: v, parsed: parsed, prev: prev, fix: fix, always: always}
		r.add(a)
		prev = a
	}

	register(BaseVersion, nil, false)
	register("2.0.205", nil, false)
	register("2.2.5", renameSettingKey, false)
	register("2.3.45", flattenMetadata, false)
	register("2.4.42", rewriteHost(opts.Host), true)
	register("2.6.31", nil, false)
	register(CurrentVersion, stampVersion(CurrentVersion), true)

	return r
}

func (r *Registry) add(a *adapter) {
	r.adapters[a.version] = a
	r.ordered = append(r.ordered, a.parsed)
	r.names = append(r.names, a.Version())
	sort.Sort(byVersion{r})
}

// Current is the adapter that lifts records into the newest schema.
func (r *Registry) Current() Adapter {
	return r.adapters[r.names[len(r.names)-1]]
}

func (r *Registry) Versions() []string {
	return append([]string(nil), r.names...)
}

type byVersion struct{ r *Registry }

func (b byVersion) Len() int           { return len(b.r.ordered) }
func (b byVersion) Less(i, j int) bool { return b.r.ordered[i].compare(b.r.ordered[j]) < 0 }
func (b byVersion) Swap(i, j int) {
	b.r.ordered[i], b.r.ordered[j] = b.r.ordered[j], b.r.ordered[i]
	b.r.names[i], b.r.names[j] = b.r.names[j], b.r.names[i]
}

// Settings used to be keyed by "key".
func renameSettingKey(kind RecordKind, rec Record) Record {
	if kind != KindSetting {
		return rec
	}
	if key, ok := rec["key"]; ok {
		if _, has := rec["name"]; !has {
			rec["name"] = key
		}
		delete(rec, "key")
	}
	return rec
}

// Metadata used to be stored as a list of {key, value} pairs.
func flattenMetadata(kind RecordKind, rec Record) Record {
	list, ok := rec["metadata"].([]interface{})
	if !ok {
		return rec
	}
	flat := make(map[string]interface{}, len(list))
	for _, item := range list {
		pair, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		key, ok := pair["key"].(string)
		if !ok {
			continue
		}
		flat[key] = pair["value"]
	}
	rec["metadata"] = flat
	return rec
}

func rewriteHost(host string) fixup {
	return func(kind RecordKind, rec Record) Record {
		if host == "" {
			return rec
		}
		switch kind {
		case KindWorkload, KindSnapshot:
			rec["host"] = host
		}
		return rec
	}
}

func stampVersion(v string) fixup {
	return func(kind RecordKind, rec Record) Record {
		switch kind {
		case KindWorkload, KindSnapshot, KindSetting:
			rec["version"] = v
		}
		return rec
	}
}
