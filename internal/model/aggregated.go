package model

// Vendor is a deduplicated karaoke company.
type Vendor struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Website     string   `json:"website,omitempty"`
	Description string   `json:"description,omitempty"`
	Confidence  float64  `json:"confidence"`
	Aliases     []string `json:"aliases,omitempty"`
	Sources     []string `json:"sources"`
}

// DJ is a deduplicated karaoke host.
type DJ struct {
	Key        string   `json:"key"`
	Name       string   `json:"name"`
	Context    string   `json:"context,omitempty"`
	Confidence float64  `json:"confidence"`
	Aliases    []string `json:"aliases,omitempty"`
	Sources    []string `json:"sources"`
}

// Show is a deduplicated show with resolved entity references. VendorKey
// and DJKey are nil when the name did not resolve to a known entity.
type Show struct {
	Key           string   `json:"key"`
	Venue         string   `json:"venue"`
	Address       string   `json:"address,omitempty"`
	City          string   `json:"city,omitempty"`
	State         string   `json:"state,omitempty"`
	Zip           string   `json:"zip,omitempty"`
	Lat           *float64 `json:"lat,omitempty"`
	Lng           *float64 `json:"lng,omitempty"`
	Day           string   `json:"day,omitempty"`
	Time          string   `json:"time,omitempty"`
	StartTime     string   `json:"start_time,omitempty"`
	EndTime       string   `json:"end_time,omitempty"`
	DJName        string   `json:"dj_name,omitempty"`
	VendorName    string   `json:"vendor_name,omitempty"`
	Description   string   `json:"description,omitempty"`
	Source        string   `json:"source"`
	SourceArchive string   `json:"source_archive,omitempty"`
	Confidence    float64  `json:"confidence"`
	VendorKey     *string  `json:"vendor_key"`
	DJKey         *string  `json:"dj_key"`
}

// AggregatedResult is the merged, deduplicated output of one run.
type AggregatedResult struct {
	Vendors []Vendor `json:"vendors"`
	DJs     []DJ     `json:"djs"`
	Shows   []Show   `json:"shows"`
}

// Empty reports whether the run found nothing at all.
func (a *AggregatedResult) Empty() bool {
	return a == nil || (len(a.Vendors) == 0 && len(a.DJs) == 0 && len(a.Shows) == 0)
}

// CommitResult lists the persistent ids written when a schedule is approved.
type CommitResult struct {
	ScheduleID string  `json:"schedule_id"`
	VendorIDs  []int64 `json:"vendor_ids"`
	DJIDs      []int64 `json:"dj_ids"`
	VenueIDs   []int64 `json:"venue_ids"`
	ShowIDs    []int64 `json:"show_ids"`
}
