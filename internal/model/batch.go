package model

import "time"

// Stage is the batch-level pipeline state.
type Stage string

const (
	StageTestScraped     Stage = "test_scraped"
	StageTestValidated   Stage = "test_validated"
	StageHalted          Stage = "halted"
	StageFullScraped     Stage = "full_scraped"
	StageFullValidated   Stage = "full_validated"
	StageFiltered        Stage = "filtered"
	StageNormalized      Stage = "normalized"
	StageVerified        Stage = "verified"
	StageEnriched        Stage = "enriched"
	StageSegmented       Stage = "segmented"
	StageRoleSegmented   Stage = "role_segmented"
	StageCopyGenerated   Stage = "copy_generated"
	StageCampaignsMade   Stage = "campaigns_created"
	StageLeadsUploaded   Stage = "leads_uploaded"
	StageFailed          Stage = "failed"
)

// stageSuccessors encodes the legal forward transitions. Halted and failed
// are terminal without operator intervention.
var stageSuccessors = map[Stage][]Stage{
	StageTestScraped:   {StageTestValidated},
	StageTestValidated: {StageFullScraped, StageHalted},
	StageFullScraped:   {StageFullValidated},
	StageFullValidated: {StageFiltered},
	StageFiltered:      {StageNormalized},
	StageNormalized:    {StageVerified},
	StageVerified:      {StageEnriched},
	StageEnriched:      {StageSegmented},
	StageSegmented:     {StageRoleSegmented, StageCopyGenerated},
	StageRoleSegmented: {StageCopyGenerated},
	StageCopyGenerated: {StageCampaignsMade},
	StageCampaignsMade: {StageLeadsUploaded},
}

// CanAdvance reports whether to is a legal successor of s. Any stage may
// transition to failed.
func (s Stage) CanAdvance(to Stage) bool {
	if to == StageFailed {
		return true
	}
	for _, next := range stageSuccessors[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the stage accepts no further transitions
// besides failure.
func (s Stage) Terminal() bool {
	return s == StageHalted || s == StageFailed || s == StageLeadsUploaded
}

// Stats accumulates per-batch counters across stages.
type Stats struct {
	Scraped      int `json:"scraped"`
	Valid        int `json:"valid"`
	Invalid      int `json:"invalid"`
	Filtered     int `json:"filtered"`
	Normalized   int `json:"normalized"`
	EmailValid   int `json:"email_valid"`
	EmailRisky   int `json:"email_risky"`
	EmailInvalid int `json:"email_invalid"`
	Enriched     int `json:"enriched"`
	Personalized int `json:"personalized"`
	Generic      int `json:"generic"`
	Uploaded     int `json:"uploaded"`
	Duplicates   int `json:"duplicates"`
}

// Batch is one pipeline run's working set of leads. It is created at
// test-scrape time, re-created as a superset at full-scrape time, and
// retired once campaigns are created.
type Batch struct {
	ID      string        `json:"id"`
	Stage   Stage         `json:"stage"`
	Profile TargetProfile `json:"profile"`
	Leads   []Lead        `json:"leads"`
	Stats   Stats         `json:"stats"`

	// FailedStage records which stage failed when Stage == StageFailed;
	// the last checkpoint before it is the resume point.
	FailedStage Stage `json:"failed_stage,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Advance moves the batch to the next stage, enforcing the state machine.
// Returns false and leaves the batch untouched on an illegal transition.
func (b *Batch) Advance(to Stage) bool {
	if !b.Stage.CanAdvance(to) {
		return false
	}
	b.Stage = to
	b.UpdatedAt = time.Now().UTC()
	return true
}

// Fail marks the batch failed at the given stage, keeping the current stage
// as the last successful checkpoint.
func (b *Batch) Fail(at Stage) {
	b.FailedStage = at
	b.Stage = StageFailed
	b.UpdatedAt = time.Now().UTC()
}

// RoleSegment is one functional job-title group with a messaging angle.
type RoleSegment struct {
	ID             string   `json:"segment_id"`
	Name           string   `json:"segment_name"`
	JobTitles      []string `json:"job_titles"`
	MessagingAngle string   `json:"messaging_angle"`
	LeadCount      int      `json:"lead_count"`
}

// EmailStep is one step of a generated outreach sequence.
type EmailStep struct {
	Step    int    `json:"step"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// CampaignPlan ties a segment to its generated copy and, once created on the
// platform, to its campaign ID.
type CampaignPlan struct {
	Name          string      `json:"name"`
	SegmentID     string      `json:"segment_id"`
	Segment       Segment     `json:"segment"`
	Emails        []EmailStep `json:"emails"`
	CampaignID    string      `json:"campaign_id,omitempty"`
	LeadsUploaded int         `json:"leads_uploaded"`
}
