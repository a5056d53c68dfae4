package model

// Verdict is the quality-gate outcome for a single lead.
type Verdict string

const (
	VerdictValid   Verdict = "valid"
	VerdictInvalid Verdict = "invalid"
)

// Validation holds the quality-gate result for a lead. It is written exactly
// once per lead and never mutated afterward.
type Validation struct {
	Verdict Verdict  `json:"verdict"`
	Score   int      `json:"score"` // ICP match percentage, 0-100
	Reasons []string `json:"reasons,omitempty"`
}

// ContactStatus is the email deliverability classification. The only legal
// transition is unverified to one of valid, risky, or invalid.
type ContactStatus string

const (
	ContactUnverified ContactStatus = "unverified"
	ContactValid      ContactStatus = "valid"
	ContactRisky      ContactStatus = "risky"
	ContactInvalid    ContactStatus = "invalid"
)

// ConfidenceTier ranks the quality of an extracted personalization snippet.
// Tier 1 is best (named clients/projects), tier 4 is the generic fallback.
type ConfidenceTier int

const (
	TierClients  ConfidenceTier = 1 // named client or project mentions
	TierAwards   ConfidenceTier = 2 // awards, certifications, milestones
	TierNews     ConfidenceTier = 3 // recent news or expansion
	TierNiche    ConfidenceTier = 4 // generic industry-niche statement
	TierCount                   = 4
)

// Personalization is a short opening-line snippet extracted from a lead's
// website, plus the priority tier that produced it.
type Personalization struct {
	Text      string         `json:"text"`
	Tier      ConfidenceTier `json:"tier"`
	SourceURL string         `json:"source_url,omitempty"`
}

// Segment is the personalization partition a lead lands in. Every lead
// belongs to exactly one segment once the segmenter has run.
type Segment string

const (
	SegmentPersonalized Segment = "personalized"
	SegmentGeneric      Segment = "generic"
)

// Lead is one prospect record flowing through the pipeline.
type Lead struct {
	ID string `json:"id"`

	// Raw scraped attributes.
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	CompanyName string `json:"company_name"`
	Website     string `json:"website,omitempty"`
	Email       string `json:"email,omitempty"`
	JobTitle    string `json:"job_title,omitempty"`
	Industry    string `json:"industry,omitempty"`
	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
	Country     string `json:"country,omitempty"`
	Employees   string `json:"employees,omitempty"` // size band, e.g. "11-50"
	Revenue     string `json:"revenue,omitempty"`   // revenue band, e.g. "$1M-$10M"
	Keywords    string `json:"keywords,omitempty"`
	Description string `json:"description,omitempty"`

	// Stage outputs.
	Validation      *Validation      `json:"validation,omitempty"`
	NormalizedName  string           `json:"normalized_name,omitempty"`
	ContactStatus   ContactStatus    `json:"contact_status"`
	Personalization *Personalization `json:"personalization,omitempty"`
	Segment         Segment          `json:"segment,omitempty"`
	RoleSegmentID   string           `json:"role_segment_id,omitempty"`
}

// DisplayName returns the friendly company name, falling back to the raw
// name when normalization has not run or failed for this lead.
func (l *Lead) DisplayName() string {
	if l.NormalizedName != "" {
		return l.NormalizedName
	}
	return l.CompanyName
}

// Location joins the available location parts for prompts and reports.
func (l *Lead) Location() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{l.City, l.State, l.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

// SetValidation records the quality-gate result. It is a no-op if the lead
// was already validated; validation is write-once.
func (l *Lead) SetValidation(v Validation) bool {
	if l.Validation != nil {
		return false
	}
	l.Validation = &v
	return true
}

// SetContactStatus applies the unverified-only transition rule. Returns
// false (and leaves the status untouched) if the lead was already classified.
func (l *Lead) SetContactStatus(s ContactStatus) bool {
	if l.ContactStatus != "" && l.ContactStatus != ContactUnverified {
		return false
	}
	l.ContactStatus = s
	return true
}
