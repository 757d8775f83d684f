package dart

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kfin-labs/dartdeep/internal/cache"
	"github.com/kfin-labs/dartdeep/internal/httpx"
)

const (
	// APIHost is the OpenDART REST host; ViewerHost serves the public pages.
	APIHost    = "opendart.fss.or.kr"
	ViewerHost = "dart.fss.or.kr"

	baseURL = "https://opendart.fss.or.kr/api/"

	statusOK     = "000"
	statusNoData = "013"

	searchTTL    = 24 * time.Hour
	documentTTL  = 24 * time.Hour
	directoryTTL = 7 * 24 * time.Hour
)

// APIError is a non-OK status from the filing API itself (quota exhausted,
// bad key, malformed params). Distinct from transport failures.
type APIError struct {
	Status  string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dart api status %s: %s", e.Status, e.Message)
}

// Client is the transport adapter for the OpenDART API. All reads go
// through the cache; list pages covering today are refetched so late
// filings show up.
type Client struct {
	// DownloadDir, when set, keeps a copy of every fetched document
	// archive on disk for offline inspection.
	DownloadDir string

	apiKey string
	base   string
	http   *httpx.Client
	cache  *cache.Cache
	logger *log.Logger
	now    func() time.Time
}

func NewClient(apiKey string, httpClient *httpx.Client, c *cache.Cache, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{apiKey: apiKey, base: baseURL, http: httpClient, cache: c, logger: logger, now: time.Now}
}

type listResponse struct {
	Status     string      `json:"status"`
	Message    string      `json:"message"`
	PageNo     int         `json:"page_no"`
	TotalPage  int         `json:"total_page"`
	TotalCount int         `json:"total_count"`
	List       []FilingRef `json:"list"`
}

// Search fetches one catalogue page. Pages whose date window touches today
// bypass the cache read (still written back) so the freshest filings land.
func (c *Client) Search(ctx context.Context, p SearchParams) (*SearchPage, error) {
	if p.PageCount <= 0 || p.PageCount > 100 {
		p.PageCount = 100
	}
	if p.PageNo <= 0 {
		p.PageNo = 1
	}
	params := map[string]string{
		"bgn_de":     p.BgnDe,
		"end_de":     p.EndDe,
		"page_no":    strconv.Itoa(p.PageNo),
		"page_count": strconv.Itoa(p.PageCount),
	}
	if p.CorpCode != "" {
		params["corp_code"] = p.CorpCode
	}
	if p.DetailType != "" {
		params["pblntf_detail_ty"] = p.DetailType
	}
	key := cache.Fingerprint("search", params)

	fill := func(ctx context.Context) ([]byte, error) {
		return c.searchRaw(ctx, params)
	}

	var raw []byte
	var err error
	if c.windowTouchesToday(p.EndDe) {
		raw, err = fill(ctx)
		if err == nil {
			_ = c.cache.SetJSON(ctx, key, json.RawMessage(raw), searchTTL)
		}
	} else {
		raw, err = c.cache.GetOrFill(ctx, key, searchTTL, fill)
	}
	if err != nil {
		return nil, err
	}

	var resp listResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}
	switch resp.Status {
	case statusOK:
	case statusNoData:
		return &SearchPage{PageNo: p.PageNo}, nil
	default:
		return nil, &APIError{Status: resp.Status, Message: resp.Message}
	}
	return &SearchPage{
		Refs:       resp.List,
		PageNo:     resp.PageNo,
		TotalPage:  resp.TotalPage,
		TotalCount: resp.TotalCount,
	}, nil
}

func (c *Client) searchRaw(ctx context.Context, params map[string]string) ([]byte, error) {
	q := url.Values{"crtfc_key": {c.apiKey}, "sort": {"date"}, "sort_mth": {"desc"}}
	for k, v := range params {
		q.Set(k, v)
	}
	body, _, err := c.http.Get(ctx, c.base+"list.json", q, nil)
	if err != nil {
		return nil, fmt.Errorf("catalogue search: %w", err)
	}
	return body, nil
}

func (c *Client) windowTouchesToday(endDe string) bool {
	return endDe >= c.now().Format("20060102")
}

// Directory downloads and parses the full company directory (corpCode.xml,
// a ZIP wrapping one CORPCODE.xml). Around 100k records; cached for a week.
func (c *Client) Directory(ctx context.Context) ([]CorpRecord, error) {
	key := cache.Fingerprint("corpdir", nil)
	raw, err := c.cache.GetOrFill(ctx, key, directoryTTL, func(ctx context.Context) ([]byte, error) {
		q := url.Values{"crtfc_key": {c.apiKey}}
		body, _, err := c.http.Get(ctx, c.base+"corpCode.xml", q, nil)
		if err != nil {
			return nil, fmt.Errorf("download corp directory: %w", err)
		}
		inner, _, err := unzipLargest(body, ".xml")
		if err != nil {
			return nil, fmt.Errorf("unpack corp directory: %w", err)
		}
		return inner, nil
	})
	if err != nil {
		return nil, err
	}

	var doc struct {
		List []CorpRecord `xml:"list"`
	}
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse corp directory: %w", err)
	}
	for i := range doc.List {
		doc.List[i].CorpCode = strings.TrimSpace(doc.List[i].CorpCode)
		doc.List[i].CorpName = strings.TrimSpace(doc.List[i].CorpName)
		doc.List[i].StockCode = strings.TrimSpace(doc.List[i].StockCode)
	}
	c.logger.Printf("directory loaded: %d companies", len(doc.List))
	return doc.List, nil
}

// Document downloads the original disclosure archive for rcept_no and
// returns the primary document's bytes (largest XML/HTML member).
func (c *Client) Document(ctx context.Context, rceptNo string) ([]byte, error) {
	key := cache.Fingerprint("document", map[string]string{"rcept_no": rceptNo})
	return c.cache.GetOrFill(ctx, key, documentTTL, func(ctx context.Context) ([]byte, error) {
		q := url.Values{"crtfc_key": {c.apiKey}, "rcept_no": {rceptNo}}
		body, _, err := c.http.Get(ctx, c.base+"document.xml", q, nil)
		if err != nil {
			return nil, fmt.Errorf("download document %s: %w", rceptNo, err)
		}
		// the API answers JSON on errors and a ZIP on success
		if looksLikeJSON(body) {
			var resp struct {
				Status  string `json:"status"`
				Message string `json:"message"`
			}
			if err := json.Unmarshal(body, &resp); err == nil && resp.Status != statusOK {
				return nil, &APIError{Status: resp.Status, Message: resp.Message}
			}
		}
		inner, name, err := unzipLargest(body, ".xml", ".html", ".htm")
		if err != nil {
			return nil, fmt.Errorf("unpack document %s: %w", rceptNo, err)
		}
		c.keepArchiveCopy(rceptNo, body)
		c.logger.Printf("document %s: extracted %s (%d bytes)", rceptNo, name, len(inner))
		return inner, nil
	})
}

// StructuredRows calls one of the dedicated JSON detail endpoints
// (e.g. piicDecsn.json) and flattens the result rows to string maps.
func (c *Client) StructuredRows(ctx context.Context, endpoint string, params map[string]string) ([]map[string]string, error) {
	cacheParams := map[string]string{"endpoint": endpoint}
	for k, v := range params {
		cacheParams[k] = v
	}
	key := cache.Fingerprint("structured", cacheParams)

	raw, err := c.cache.GetOrFill(ctx, key, documentTTL, func(ctx context.Context) ([]byte, error) {
		q := url.Values{"crtfc_key": {c.apiKey}}
		for k, v := range params {
			q.Set(k, v)
		}
		body, _, err := c.http.Get(ctx, c.base+endpoint, q, nil)
		if err != nil {
			return nil, fmt.Errorf("structured %s: %w", endpoint, err)
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Status  string                   `json:"status"`
		Message string                   `json:"message"`
		List    []map[string]interface{} `json:"list"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode structured %s: %w", endpoint, err)
	}
	switch resp.Status {
	case statusOK:
	case statusNoData:
		return nil, nil
	default:
		return nil, &APIError{Status: resp.Status, Message: resp.Message}
	}

	rows := make([]map[string]string, 0, len(resp.List))
	for _, item := range resp.List {
		row := make(map[string]string, len(item))
		for k, v := range item {
			switch t := v.(type) {
			case string:
				row[k] = t
			case float64:
				row[k] = strconv.FormatFloat(t, 'f', -1, 64)
			default:
				row[k] = fmt.Sprint(t)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// keepArchiveCopy is best effort; a failed write never fails the fetch.
func (c *Client) keepArchiveCopy(rceptNo string, raw []byte) {
	if c.DownloadDir == "" {
		return
	}
	if err := os.MkdirAll(c.DownloadDir, 0o755); err != nil {
		c.logger.Printf("document %s: keep copy: %v", rceptNo, err)
		return
	}
	dst := filepath.Join(c.DownloadDir, rceptNo+".zip")
	if err := os.WriteFile(dst, raw, 0o644); err != nil {
		c.logger.Printf("document %s: keep copy: %v", rceptNo, err)
	}
}

func looksLikeJSON(b []byte) bool {
	trimmed := bytes.TrimLeft(b, " \t\r\n")
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

// unzipLargest extracts the biggest archive member whose name carries one
// of the given extensions (any member when exts is empty).
func unzipLargest(data []byte, exts ...string) ([]byte, string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, "", fmt.Errorf("open zip: %w", err)
	}
	var candidates []*zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if len(exts) == 0 {
			candidates = append(candidates, f)
			continue
		}
		lower := strings.ToLower(f.Name)
		for _, ext := range exts {
			if strings.HasSuffix(lower, ext) {
				candidates = append(candidates, f)
				break
			}
		}
	}
	if len(candidates) == 0 {
		return nil, "", fmt.Errorf("zip has no matching member")
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].UncompressedSize64 > candidates[j].UncompressedSize64
	})
	rc, err := candidates[0].Open()
	if err != nil {
		return nil, "", fmt.Errorf("open zip member: %w", err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, "", fmt.Errorf("read zip member: %w", err)
	}
	return b, candidates[0].Name, nil
}
