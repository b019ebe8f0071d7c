package crawler

import (
	"strings"
	"time"
)

// PayloadFormat selects how a successful fetch exposes its body.
type PayloadFormat int

// Payload formats understood by Fetcher implementations.
const (
	FormatText PayloadFormat = iota
	FormatBinary
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL        string
	MaxRetries int
	Timeout    time.Duration
	UserAgent  string
	Format     PayloadFormat
}

// FetchResponse is the successful result returned by a Fetcher implementation.
// Exactly one of Text or Body is populated, depending on IsText.
type FetchResponse struct {
	URL        string
	StatusCode int
	Text       string
	Body       []byte
	IsText     bool
	Latency    time.Duration
	Attempts   int
}

// Bytes returns the payload regardless of the requested format.
func (r FetchResponse) Bytes() []byte {
	if r.IsText {
		return []byte(r.Text)
	}
	return r.Body
}

// Category classifies a curriculum item.
type Category string

// Item categories.
const (
	CategoryMandatory Category = "Mandatory"
	CategoryElective  Category = "Elective"
	CategoryCapstone  Category = "Capstone"
)

// ParseCategory maps the canonical category names back to a Category.
func ParseCategory(raw string) (Category, bool) {
	switch Category(raw) {
	case CategoryMandatory, CategoryElective, CategoryCapstone:
		return Category(raw), true
	default:
		return "", false
	}
}

// ItemRecord is one curriculum unit offered by a program.
type ItemRecord struct {
	Name       string   `json:"name"`
	Term       string   `json:"term"`
	CreditLoad string   `json:"credit_load"`
	SourceURL  string   `json:"source_url,omitempty"`
	Category   Category `json:"category"`
	MentionTag string   `json:"mention_tag,omitempty"`
}

// ProgramRecord is the normalized record extracted from one catalog entry.
type ProgramRecord struct {
	Name       string       `json:"name"`
	SourceURL  string       `json:"source_url"`
	CreditLoad string       `json:"credit_load"`
	Items      []ItemRecord `json:"items"`
	Faults     []string     `json:"faults,omitempty"`
}

// Valid reports whether the record carries the mandatory program name.
func (p ProgramRecord) Valid() bool {
	return p.Name != ""
}

// RowHeader is the fixed column header of the tabular output.
var RowHeader = []string{
	"Program Name",
	"Program URL",
	"Program Credits",
	"Item Name",
	"Item URL",
	"Item Credits",
	"Item Category",
	"Item Term",
	"Item Mention",
}

// Row is one line of tabular output.
type Row struct {
	ProgramName    string
	ProgramURL     string
	ProgramCredits string
	ItemName       string
	ItemURL        string
	ItemCredits    string
	ItemCategory   string
	ItemTerm       string
	ItemMention    string
}

// Values returns the row fields in RowHeader order.
func (r Row) Values() []string {
	return []string{
		r.ProgramName,
		r.ProgramURL,
		r.ProgramCredits,
		r.ItemName,
		r.ItemURL,
		r.ItemCredits,
		r.ItemCategory,
		r.ItemTerm,
		r.ItemMention,
	}
}

// Flatten turns a program into output rows: one per item, or a single row with
// empty item columns when the program has no items.
func Flatten(p ProgramRecord) []Row {
	base := Row{
		ProgramName:    p.Name,
		ProgramURL:     p.SourceURL,
		ProgramCredits: p.CreditLoad,
	}
	if len(p.Items) == 0 {
		return []Row{base}
	}
	rows := make([]Row, 0, len(p.Items))
	for _, item := range p.Items {
		row := base
		row.ItemName = item.Name
		row.ItemURL = item.SourceURL
		row.ItemCredits = item.CreditLoad
		row.ItemCategory = string(item.Category)
		row.ItemTerm = item.Term
		row.ItemMention = item.MentionTag
		rows = append(rows, row)
	}
	return rows
}

// RunStatus is the lifecycle state of a crawl run.
type RunStatus string

// Run statuses.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// RunTotals aggregates the outcome of a crawl run.
type RunTotals struct {
	Entries  int `json:"entries"`
	Programs int `json:"programs"`
	Failed   int `json:"failed"`
	Items    int `json:"items"`
	Rows     int `json:"rows"`
}

// RunInfo is a crawl run as recorded in the run ledger.
type RunInfo struct {
	RunID      string     `json:"run_id"`
	CatalogURL string     `json:"catalog_url"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Totals     RunTotals  `json:"totals"`
	Error      string     `json:"error,omitempty"`
}

// ParseRunStatus accepts the run statuses plus the "failed" alias for RunError.
func ParseRunStatus(raw string) (RunStatus, bool) {
	switch RunStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case RunRunning:
		return RunRunning, true
	case RunSuccess:
		return RunSuccess, true
	case RunError, "failed":
		return RunError, true
	default:
		return "", false
	}
}
