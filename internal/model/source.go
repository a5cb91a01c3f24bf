package model

// SourceDescriptor identifies one bank or institution whose rate table is
// scraped. Immutable for the duration of a run.
type SourceDescriptor struct {
	ID           string   `json:"id"`
	DisplayName  string   `json:"display_name"`
	Slug         string   `json:"slug"`
	FetchURL     string   `json:"fetch_url"`
	AllowedHosts []string `json:"allowed_hosts"`
}

// RunStatus is the terminal state of one scheduled source run.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusError   RunStatus = "error"
)
