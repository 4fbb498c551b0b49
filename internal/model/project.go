package model

// Criteria is the caller-supplied search filter. Apart from the free-text
// key it is passed to NIH RePORTER untouched.
type Criteria map[string]any

// Investigator mirrors one entry of principal_investigators in a RePORTER
// project.
type Investigator struct {
	FullName string `json:"full_name"`
	OrgName  string `json:"org_name"`
}

// Project holds the RePORTER project fields used when mailing results.
type Project struct {
	ProjectTitle           string         `json:"project_title"`
	PrincipalInvestigators []Investigator `json:"principal_investigators"`
	AwardAmount            float64        `json:"award_amount"`
	FiscalYear             int            `json:"fy"`
	AbstractText           string         `json:"abstract_text"`
}

// LeadInvestigator returns the first listed investigator, or a zero value.
func (p Project) LeadInvestigator() Investigator {
	if len(p.PrincipalInvestigators) == 0 {
		return Investigator{}
	}
	return p.PrincipalInvestigators[0]
}
