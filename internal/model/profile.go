package model

// TargetProfile is the qualification criteria a lead must match (the ICP).
// It is immutable for the duration of one batch's processing.
type TargetProfile struct {
	Industry    string   `json:"industry,omitempty"`
	Location    string   `json:"location,omitempty"`
	Employees   string   `json:"employees,omitempty"` // e.g. "10-50"
	Revenue     string   `json:"revenue,omitempty"`   // e.g. "$1M-$10M"
	JobTitles   []string `json:"job_titles,omitempty"`
	Description string   `json:"description,omitempty"`
	Offer       string   `json:"offer,omitempty"` // product/offer being sold
}

// Empty reports whether no criteria are set. Scoring an empty profile is
// not meaningful and the gate refuses it.
func (p TargetProfile) Empty() bool {
	return p.Industry == "" && p.Location == "" && p.Employees == "" &&
		p.Revenue == "" && len(p.JobTitles) == 0 && p.Description == ""
}
