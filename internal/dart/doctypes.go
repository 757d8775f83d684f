package dart

import (
	"regexp"
	"sort"
	"strings"
)

// Doc detail types follow the DART taxonomy: one letter for the report class
// (A periodic .. J fair-trade) plus a three digit detail code.
var detailTypeRe = regexp.MustCompile(`^[A-J]\d{3}$`)

// ValidDetailType reports whether code is a syntactically valid detail type
// that exists in the taxonomy.
func ValidDetailType(code string) bool {
	if !detailTypeRe.MatchString(code) {
		return false
	}
	_, ok := docTypeNames[code]
	return ok
}

// DocTypeName returns the Korean display name for a detail type code.
func DocTypeName(code string) string {
	if name, ok := docTypeNames[code]; ok {
		return name
	}
	return code
}

var docTypeNames = map[string]string{
	// A: 정기보고서
	"A001": "사업보고서", "A002": "반기보고서", "A003": "분기보고서",
	"A004": "등록법인결산서류", "A005": "소액공모법인결산서류",
	// B: 주요사항보고서
	"B001": "주요사항보고서", "B002": "주요경영사항신고", "B003": "최대주주등과의거래신고",
	// C: 증권신고서
	"C001": "증권신고(지분증권)", "C002": "증권신고(채무증권)", "C003": "증권신고(파생결합증권)",
	"C004": "증권신고(합병등)", "C005": "증권신고(기타)", "C006": "소액공모(지분증권)",
	"C007": "소액공모(채무증권)", "C008": "소액공모(파생결합증권)", "C009": "소액공모(합병등)",
	"C010": "소액공모(기타)", "C011": "호가중개시스템을통한소액매출",
	// D: 지분공시
	"D001": "주식등의대량보유상황보고서", "D002": "임원ㆍ주요주주특정증권등소유상황보고서",
	"D003": "의결권대리행사권유", "D004": "공개매수", "D005": "임원ㆍ주요주주특정증권등거래계획보고서",
	// E: 기타주요공시
	"E001": "자기주식취득/처분", "E002": "신탁계약체결/해지", "E003": "합병등종료보고서",
	"E004": "주식매수선택권부여에관한신고", "E005": "사외이사에관한신고", "E006": "주주총회소집보고서",
	"E007": "시장조성/안정조작", "E008": "합병등신고서", "E009": "금융위등록/취소",
	"E010": "이중상환청구권부채권(커버드본드)",
	// F: 감사보고서
	"F001": "감사보고서", "F002": "연결감사보고서", "F003": "결합감사보고서",
	"F004": "회계법인사업보고서", "F005": "감사전재무제표미제출신고서",
	// G: 집합투자
	"G001": "증권신고(집합투자증권-신탁형)", "G002": "증권신고(집합투자증권-회사형)",
	"G003": "증권신고(집합투자증권-합병)",
	// H: 자산유동화
	"H001": "자산유동화계획/양도등록", "H002": "사업/반기/분기보고서",
	"H003": "증권신고(유동화증권등)", "H004": "채권유동화계획/양도등록",
	"H005": "자산유동화관련중요사항발생등보고", "H006": "주요사항보고서",
	// I: 거래소공시
	"I001": "수시공시", "I002": "공정공시", "I003": "시장조치/안내",
	"I004": "지분공시", "I005": "증권투자회사", "I006": "채권공시",
	// J: 공정위공시
	"J001": "대규모내부거래관련", "J002": "대규모내부거래관련(구)",
	"J004": "기업집단현황공시", "J005": "비상장회사중요사항공시",
	"J006": "기타공정위공시", "J008": "대규모내부거래관련(공익법인용)",
	"J009": "하도급대금결제조건공시",
}

// keywordDocTypes is the deterministic keyword mapping used when the LLM
// proposes nothing usable. Order within a value slice is the preference order.
var keywordDocTypes = []struct {
	keywords []string
	codes    []string
}{
	{[]string{"합병비율", "인수합병", "합병", "주식교환"}, []string{"B001", "C004", "E003"}},
	{[]string{"자기주식", "자사주매입", "자사주"}, []string{"B001", "E001"}},
	{[]string{"신탁계약"}, []string{"E002"}},
	{[]string{"스톡옵션", "주식매수선택권"}, []string{"B001", "E004"}},
	{[]string{"유상증자", "무상증자", "증자"}, []string{"B001", "C001"}},
	{[]string{"전환사채", "신주인수권부사채", "교환사채", "회사채", "사채발행"}, []string{"B001", "C002"}},
	{[]string{"사업보고서", "연간보고서", "연차보고서"}, []string{"A001"}},
	{[]string{"반기보고서", "반기"}, []string{"A002"}},
	{[]string{"분기보고서", "분기실적"}, []string{"A003"}},
	{[]string{"대량보유", "5%룰", "지분보고"}, []string{"D001"}},
	{[]string{"공개매수"}, []string{"D004", "B001"}},
	{[]string{"감사보고서", "외부감사", "회계감사"}, []string{"F001"}},
	{[]string{"연결감사보고서"}, []string{"F002"}},
	{[]string{"주주총회"}, []string{"E006"}},
	{[]string{"주요사항", "영업양도", "영업양수", "자산양수도", "소송"}, []string{"B001"}},
	{[]string{"공정공시"}, []string{"I002"}},
	{[]string{"수시공시"}, []string{"I001"}},
}

// DocTypesForKeywords maps free-text keywords to taxonomy codes without an
// LLM. Matching ignores whitespace; result order follows table preference
// with duplicates removed.
func DocTypesForKeywords(texts ...string) []string {
	var b strings.Builder
	for _, t := range texts {
		b.WriteString(strings.ToLower(strings.ReplaceAll(t, " ", "")))
	}
	haystack := b.String()

	var out []string
	seen := map[string]bool{}
	for _, m := range keywordDocTypes {
		for _, kw := range m.keywords {
			if strings.Contains(haystack, strings.ToLower(kw)) {
				for _, code := range m.codes {
					if !seen[code] {
						seen[code] = true
						out = append(out, code)
					}
				}
				break
			}
		}
	}
	return out
}

// AllDetailTypes returns every known detail type code, sorted.
func AllDetailTypes() []string {
	codes := make([]string, 0, len(docTypeNames))
	for c := range docTypeNames {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// structuredEndpoints maps a detail type to the dedicated DART JSON endpoint
// that returns structured fields for it. Doc types without an entry fall
// through to the document archive.
var structuredEndpoints = map[string][]string{
	"A001": {"fnlttSinglAcnt.json"},
	"A002": {"fnlttSinglAcnt.json"},
	"A003": {"fnlttSinglAcnt.json"},
	"B001": {"piicDecsn.json", "fricDecsn.json", "cvbdIsDecsn.json"},
	"C001": {"piicDecsn.json"},
	"E001": {"tsstkAqDecsn.json", "tsstkDpDecsn.json"},
}

// StructuredEndpoints returns the detail endpoints for a doc type, or nil
// when no structured source exists for it.
func StructuredEndpoints(detailType string) []string {
	return structuredEndpoints[detailType]
}
