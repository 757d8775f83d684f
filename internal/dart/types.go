package dart

import "time"

// FilingRef is the minimal identifier of a disclosure as returned by the
// catalogue search. RceptNo is the primary key everywhere downstream.
type FilingRef struct {
	RceptNo    string `json:"rcept_no"`
	CorpName   string `json:"corp_name"`
	CorpCode   string `json:"corp_code"`
	ReportNm   string `json:"report_nm"`
	RceptDt    string `json:"rcept_dt"` // YYYYMMDD
	FlrNm      string `json:"flr_nm"`
	DetailType string `json:"pblntf_detail_ty,omitempty"`
}

// ViewerURL returns the public DART viewer page for this filing.
func (r FilingRef) ViewerURL() string {
	return "https://dart.fss.or.kr/dsaf001/main.do?rcpNo=" + r.RceptNo
}

// FetchSource identifies which retrieval path produced a Filing's body.
type FetchSource string

const (
	SourceStructuredAPI FetchSource = "structured_api"
	SourceArchive       FetchSource = "document_archive"
	SourceViewer        FetchSource = "web_viewer"
	SourceNone          FetchSource = "none"
)

// FetchError records why a filing body could not be retrieved.
type FetchError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Filing is a FilingRef enriched with body data after the fetch phase.
// Exactly one of (Content/StructuredData non-empty) or (FetchError set)
// holds for every Filing emitted by the pipeline.
type Filing struct {
	FilingRef
	Content        string            `json:"content,omitempty"`
	StructuredData map[string]string `json:"structured_data,omitempty"`
	Source         FetchSource       `json:"source"`
	SourceURL      string            `json:"source_url,omitempty"`
	FetchedAt      time.Time         `json:"fetched_at"`
	FetchError     *FetchError       `json:"fetch_error,omitempty"`
}

// HasBody reports whether the filing carries any usable evidence.
func (f Filing) HasBody() bool {
	return f.Content != "" || len(f.StructuredData) > 0
}

// SearchParams are the catalogue query parameters for one sub-query page.
type SearchParams struct {
	CorpCode   string
	BgnDe      string // YYYYMMDD
	EndDe      string // YYYYMMDD
	DetailType string
	PageNo     int
	PageCount  int
}

// SearchPage is one page of catalogue results.
type SearchPage struct {
	Refs       []FilingRef
	PageNo     int
	TotalPage  int
	TotalCount int
}

// CorpRecord is one row of the company directory (corpCode.xml).
type CorpRecord struct {
	CorpCode  string `xml:"corp_code" json:"corp_code"`
	CorpName  string `xml:"corp_name" json:"corp_name"`
	StockCode string `xml:"stock_code" json:"stock_code"`
}
