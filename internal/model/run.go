package model

// RunRequest asks for a discovery and extraction run against one seed.
type RunRequest struct {
	URL               string `json:"url"`
	Mode              string `json:"mode,omitempty"`
	MaxDepth          int    `json:"max_depth,omitempty"`
	IncludeSubdomains bool   `json:"include_subdomains,omitempty"`
	MaxUnits          int    `json:"max_units,omitempty"`
}
