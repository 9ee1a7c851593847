package models

// Dataset is a full copy of the entity store, used for the memory store's
// on-disk file and for moving data between backends.
type Dataset struct {
	Version        int                  `json:"version"`
	CurrentCycleID string               `json:"current_cycle_id,omitempty"`
	Cycles         []*Cycle             `json:"cycles"`
	Submissions    []*DatasetSubmission `json:"submissions"`
	Snapshots      []*Snapshot          `json:"snapshots"`
	Audit          []AuditEntry         `json:"audit"`
}

// DatasetVersion is the current layout of Dataset.
const DatasetVersion = 1

// DatasetSubmission carries the device hash, which the public JSON form of
// Submission never exposes.
type DatasetSubmission struct {
	Submission
	DeviceHash string `json:"device_hash,omitempty"`
}

// NewDatasetSubmission wraps s for export.
func NewDatasetSubmission(s *Submission) *DatasetSubmission {
	return &DatasetSubmission{Submission: *s.Clone(), DeviceHash: s.DeviceHash}
}

// Unwrap returns the submission with its device hash restored.
func (d *DatasetSubmission) Unwrap() *Submission {
	s := d.Submission.Clone()
	s.DeviceHash = d.DeviceHash
	return s
}
