package services

import "time"

// Design types supported by the allocation engine.
const (
	DesignWithin  = "within"
	DesignBetween = "between"
)

// FormatAll marks a within-subjects condition that spans every enabled format.
const FormatAll = "all"

// StudyConfig keys understood by the core. The store never validates these;
// the typed accessors on ConfigService parse them and fall back to the
// documented defaults.
const (
	ConfigDesignType           = "design_type"
	ConfigAnnotationsPerFormat = "annotations_per_format"
	ConfigFormatsEnabled       = "formats_enabled"
	ConfigStudyActive          = "study_active"
	ConfigDuplicatePolicy      = "duplicate_policy"
)

// DefaultAnnotationsPerFormat applies when annotations_per_format is unset.
const DefaultAnnotationsPerFormat = 15

// Duplicate-submission policies for already-completed within-subjects tasks.
const (
	DuplicateAllow  = "allow"
	DuplicateReject = "reject"
)

type AuditEntry struct {
	Time   time.Time
	Actor  string
	Action string
	Target string
	Note   string
}
