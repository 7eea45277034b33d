package sync

// Bucket is the classification of a discovered file
type Bucket string

const (
	// BucketNew means the destination does not exist yet
	BucketNew Bucket = "new"
	// BucketUnchanged means the destination already matches the source
	BucketUnchanged Bucket = "unchanged"
	// BucketUpdatable means the destination holds a version we wrote earlier
	BucketUpdatable Bucket = "updatable"
	// BucketModified means the destination was edited locally
	BucketModified Bucket = "modified"
)

// FileOp represents a classified file
type FileOp struct {
	Dest      string // project-relative, forward slashes
	Source    string // absolute path in the source package
	SourceSum string // checksum of the source content
	LocalSum  string // checksum of the destination content, empty when missing
}

// Plan represents the sync operations to perform. Every discovered
// destination is in exactly one of the four buckets.
type Plan struct {
	New       []FileOp
	Unchanged []FileOp
	Updatable []FileOp
	Modified  []FileOp
	Orphans   []string
}

// Bucket returns the bucket holding dest
func (p *Plan) Bucket(dest string) (Bucket, bool) {
	for bucket, ops := range map[Bucket][]FileOp{
		BucketNew:       p.New,
		BucketUnchanged: p.Unchanged,
		BucketUpdatable: p.Updatable,
		BucketModified:  p.Modified,
	} {
		for _, op := range ops {
			if op.Dest == dest {
				return bucket, true
			}
		}
	}
	return "", false
}

// Stats are the per-run file counts
type Stats struct {
	New       int `json:"new"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	Removed   int `json:"removed"`
}

// Report describes what a run did (or would do, in dry-run mode)
type Report struct {
	Stats Stats `json:"stats"`
	// Changed lists every copied or deleted destination in apply order:
	// new, updatable, approved modified, orphans.
	Changed   []string `json:"changed"`
	Created   []string `json:"created"`
	Updated   []string `json:"updated"`
	Modified  []string `json:"modified"`
	Approved  []string `json:"approved"`
	Skipped   []string `json:"skipped"`
	Removed   []string `json:"removed"`
	Unchanged []string `json:"unchanged"`
}

func newReport() *Report {
	return &Report{
		Changed:   []string{},
		Created:   []string{},
		Updated:   []string{},
		Modified:  []string{},
		Approved:  []string{},
		Skipped:   []string{},
		Removed:   []string{},
		Unchanged: []string{},
	}
}
