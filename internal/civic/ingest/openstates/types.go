package openstates

// API response shapes for the OpenStates v3 /people endpoint.

type peopleResponse struct {
	Results    []Person   `json:"results"`
	Pagination pagination `json:"pagination"`
}

type pagination struct {
	PerPage    int `json:"per_page"`
	Page       int `json:"page"`
	MaxPage    int `json:"max_page"`
	TotalItems int `json:"total_items"`
}

// Person is one legislator as OpenStates reports them.
type Person struct {
	ID          string       `json:"id"` // ocd-person/...
	Name        string       `json:"name"`
	Party       string       `json:"party"`
	Email       string       `json:"email"`
	CurrentRole *CurrentRole `json:"current_role"`
	Links       []link       `json:"links"`
	Offices     []RoleOffice `json:"offices"`
}

type CurrentRole struct {
	Title             string `json:"title"`
	OrgClassification string `json:"org_classification"` // "upper", "lower", "legislature", "executive"
	District          string `json:"district"`
	DivisionID        string `json:"division_id"`
	EndDate           string `json:"end_date"` // "" when open-ended
}

type link struct {
	URL  string `json:"url"`
	Note string `json:"note"`
}

// RoleOffice is a contact block attached to a person (capitol/district).
type RoleOffice struct {
	Name  string `json:"name"`
	Phone string `json:"voice"`
}
