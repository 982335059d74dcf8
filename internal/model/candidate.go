package model

// VendorCandidate is a karaoke company as seen by a single content unit.
type VendorCandidate struct {
	Name        string  `json:"name"`
	Website     string  `json:"website,omitempty"`
	Description string  `json:"description,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// DJCandidate is a karaoke host as seen by a single content unit.
type DJCandidate struct {
	Name       string  `json:"name"`
	Context    string  `json:"context,omitempty"`
	Confidence float64 `json:"confidence"`
}

// ShowCandidate is one recurring karaoke show extracted from a unit.
type ShowCandidate struct {
	Venue       string   `json:"venue"`
	Address     string   `json:"address,omitempty"`
	City        string   `json:"city,omitempty"`
	State       string   `json:"state,omitempty"`
	Zip         string   `json:"zip,omitempty"`
	Lat         *float64 `json:"lat,omitempty"`
	Lng         *float64 `json:"lng,omitempty"`
	Day         string   `json:"day,omitempty"`
	Time        string   `json:"time,omitempty"`
	StartTime   string   `json:"start_time,omitempty"`
	EndTime     string   `json:"end_time,omitempty"`
	DJName      string   `json:"dj_name,omitempty"`
	VendorName  string   `json:"vendor_name,omitempty"`
	Description string   `json:"description,omitempty"`
	// Source is always the URL of the unit the show was extracted from.
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
}

// CandidateRecord is the extraction output for exactly one content unit.
// A unit that failed still yields a record, with no entities and Error set.
type CandidateRecord struct {
	UnitURL string           `json:"unit_url"`
	Seq     int              `json:"seq"`
	Kind    ContentKind      `json:"kind"`
	Vendor  *VendorCandidate `json:"vendor,omitempty"`
	DJs     []DJCandidate    `json:"djs"`
	Shows   []ShowCandidate  `json:"shows"`
	Archive string           `json:"archive,omitempty"`
	Error   *UnitFailure     `json:"error,omitempty"`
	Usage   TokenUsage       `json:"usage"`
}

// Empty reports whether the record contributes no entities.
func (r CandidateRecord) Empty() bool {
	return r.Vendor == nil && len(r.DJs) == 0 && len(r.Shows) == 0
}

// UnitFailure is the serializable form of a per-unit extraction failure.
type UnitFailure struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// TokenUsage tracks model token consumption and its estimated cost in USD.
type TokenUsage struct {
	InputTokens         int     `json:"input_tokens"`
	OutputTokens        int     `json:"output_tokens"`
	CacheCreationTokens int     `json:"cache_creation_tokens"`
	CacheReadTokens     int     `json:"cache_read_tokens"`
	Cost                float64 `json:"cost"`
}

// Add merges token usage from another instance.
func (t *TokenUsage) Add(other TokenUsage) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.CacheCreationTokens += other.CacheCreationTokens
	t.CacheReadTokens += other.CacheReadTokens
	t.Cost += other.Cost
}
