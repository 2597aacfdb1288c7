package domain

import (
	"time"
)

// Category identifies the award category a nominee competes in. Fixed at creation.
type Category string

const (
	CategoryIndustry   Category = "industry"
	CategoryIndividual Category = "individual"
	CategoryMicro      Category = "micro"
	CategoryGovernment Category = "government"
)

// Stage is one of the three sequential submission rounds.
type Stage int

const (
	Stage1 Stage = 1
	Stage2 Stage = 2
	Stage3 Stage = 3
)

// Stages lists every stage in submission order.
var Stages = []Stage{Stage1, Stage2, Stage3}

// Valid reports whether the stage is one of the known rounds.
func (s Stage) Valid() bool {
	return s >= Stage1 && s <= Stage3
}

// Verdict is the evaluator judgement attached to a single document.
type Verdict string

const (
	VerdictNone Verdict = ""
	VerdictPass Verdict = "pass"
	VerdictFail Verdict = "fail"
)

// StageVerdict is the overall judgement for a stage, recorded independently of document verdicts.
type StageVerdict string

const (
	StageVerdictPass StageVerdict = "Pass"
	StageVerdictFail StageVerdict = "Fail"
)

// NomineeStatus tracks the coarse lifecycle of a nomination. It only moves forward.
type NomineeStatus string

const (
	NomineeStatusPending     NomineeStatus = "pending"
	NomineeStatusInProgress  NomineeStatus = "in_progress"
	NomineeStatusSubmitted   NomineeStatus = "submitted"
	NomineeStatusUnderReview NomineeStatus = "under_review"
	NomineeStatusCompleted   NomineeStatus = "completed"
)

// Nominee is the aggregate root of the portal: one per nominated organisation or individual.
type Nominee struct {
	ID               string
	RegistrationCode string
	DisplayName      string
	Category         Category
	Region           string
	OwnerUID         string
	Round2Unlocked   bool
	Round3Unlocked   bool
	Status           NomineeStatus
	Documents        []DocumentRecord
	StageVerdicts    map[Stage]StageVerdict
	StageSubmissions map[Stage]StageSubmission
	RegionalPass     *RegionalPass
	ActivatedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// StageUnlocked reports whether the nominee may work on the given stage.
func (n Nominee) StageUnlocked(stage Stage) bool {
	switch stage {
	case Stage1:
		return true
	case Stage2:
		return n.Round2Unlocked
	case Stage3:
		return n.Round3Unlocked
	default:
		return false
	}
}

// DocumentRecord is a persisted upload bound to one slot. At most one record exists per SlotID.
type DocumentRecord struct {
	Name    string
	Type    string
	URL     string
	Date    time.Time
	SlotID  string
	Remarks string
	Verdict Verdict
}

// StageSubmission records that a nominee finalised a stage after accepting the consents.
type StageSubmission struct {
	SubmittedAt time.Time
	SubmittedBy string
	Progress    int
}

// RegionalPass marks stage 1 as cleared by a regional evaluation unit.
type RegionalPass struct {
	MarkedBy string
	MarkedAt time.Time
}

// Requirement describes one required document within a stage.
type Requirement struct {
	ID       string
	Category string
	Label    string
}

// RequirementCatalog lists the ordered requirements for each stage of a category.
type RequirementCatalog struct {
	Stage1 []Requirement
	Stage2 []Requirement
	Stage3 []Requirement
}

// ForStage returns the requirement list of the given stage.
func (c RequirementCatalog) ForStage(stage Stage) []Requirement {
	switch stage {
	case Stage1:
		return c.Stage1
	case Stage2:
		return c.Stage2
	case Stage3:
		return c.Stage3
	default:
		return nil
	}
}

// SlotStatus reflects whether a slot holds a document.
type SlotStatus string

const (
	SlotStatusPending  SlotStatus = "pending"
	SlotStatusUploaded SlotStatus = "uploaded"
)

// DocumentSlot is derived from the catalog and the nominee documents on every read; it is never stored.
type DocumentSlot struct {
	ID            string
	RequirementID string
	Label         string
	Category      string
	Round         Stage
	Status        SlotStatus
	FileName      string
	LastUpdated   *time.Time
	PreviewURL    string
	MimeType      string
	Remarks       string
	Verdict       Verdict
}

// NomineeFilter narrows evaluator queue listings.
type NomineeFilter struct {
	Status     []NomineeStatus
	Category   Category
	Pagination Pagination
}

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// AuditLogEntry stores normalized audit information for staff review.
type AuditLogEntry struct {
	ID        string
	Actor     string
	ActorRole string
	Action    string
	TargetRef string
	Metadata  map[string]any
	Severity  string
	RequestID string
	CreatedAt time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
