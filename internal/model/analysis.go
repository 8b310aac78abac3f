package model

// FailureKind classifies a network-level reachability failure.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureTimeout
	FailureDNSNotFound
	FailureDNSTimeout
	FailureConnectionRefused
	FailureSSL
	FailureUnknown
)

func (fk FailureKind) String() string {
	return [...]string{"none", "timeout", "dns_not_found", "dns_timeout",
		"connection_refused", "ssl_error", "unknown"}[fk]
}

// NormalizedURL always carries an explicit http(s) scheme and a non-empty hostname.
type NormalizedURL struct {
	AbsoluteURL string `json:"absolute_url"`
	Hostname    string `json:"hostname"`
}

type Reachability struct {
	Reachable   bool        `json:"reachable"`
	FailureKind FailureKind `json:"failure_kind"`
	HTTPStatus  int         `json:"http_status,omitempty"`
}

// Attempt records one navigation try inside the capture retry loop.
type Attempt struct {
	Index     int    `json:"index"`
	Error     string `json:"error"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

type CaptureResult struct {
	ImageBytes           []byte `json:"-"`
	Attempts             int    `json:"attempts"`
	BlockedResourceCount int    `json:"blocked_resource_count"`
	LoadTimeMs           int64  `json:"load_time_ms"`
}

type OptimizedImage struct {
	Bytes    []byte `json:"-"`
	ByteSize int    `json:"byte_size"`
	Quality  int    `json:"quality"`
	Resized  bool   `json:"resized"`
	Degraded bool   `json:"degraded"` // still over budget after the aggressive pass
}

// AdZone is one candidate advertising placement reported by the vision model.
// Duplicates are possible and tolerated.
type AdZone struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	SizeHint  string `json:"size,omitempty"`
	Priority  string `json:"priority"`
	Reason    string `json:"description,omitempty"`
}

const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

type ScrapedContact struct {
	Emails      []string `json:"emails"`
	CompanyName string   `json:"company_name,omitempty"`
	PageTitle   string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
}

type Proposal struct {
	Text     string `json:"text"`
	Language string `json:"language"` // "ru" or "en"
}

// Performance holds the per-stage timing breakdown in milliseconds.
type Performance struct {
	NormalizeMs int64 `json:"normalize_ms"`
	ProbeMs     int64 `json:"probe_ms"`
	CaptureMs   int64 `json:"capture_ms"`
	OptimizeMs  int64 `json:"optimize_ms"`
	AnalyzeMs   int64 `json:"analyze_ms"`
	ScrapeMs    int64 `json:"scrape_ms"`
	ComposeMs   int64 `json:"compose_ms"`
	TotalMs     int64 `json:"total_ms"`
}

// AnalysisResult is assembled once per request and never mutated afterwards.
type AnalysisResult struct {
	Success     bool           `json:"success"`
	AnalysisID  string         `json:"analysis_id,omitempty"`
	URL         string         `json:"url"`
	Screenshot  string         `json:"screenshot,omitempty"` // data URL
	Zones       []AdZone       `json:"zones"`
	Language    string         `json:"language"`
	Emails      []string       `json:"emails"`
	CompanyName string         `json:"company_name,omitempty"`
	PageTitle   string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	OwnerInfo   string         `json:"owner_info,omitempty"`
	Proposal    string         `json:"proposal"`
	Capture     *CaptureResult `json:"capture,omitempty"`
	Performance *Performance   `json:"performance,omitempty"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
