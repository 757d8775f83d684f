package dart

import "testing"

func TestValidDetailType(t *testing.T) {
	for _, code := range []string{"A001", "B001", "E004", "J009"} {
		if !ValidDetailType(code) {
			t.Fatalf("%s should be valid", code)
		}
	}
	for _, code := range []string{"", "A1", "Z001", "a001", "A0011", "K001", "J003"} {
		if ValidDetailType(code) {
			t.Fatalf("%s should be invalid", code)
		}
	}
}

func TestDocTypeName(t *testing.T) {
	if got := DocTypeName("A001"); got != "사업보고서" {
		t.Fatalf("DocTypeName(A001) = %q", got)
	}
	if got := DocTypeName("X999"); got != "X999" {
		t.Fatalf("unknown code should echo, got %q", got)
	}
}

func TestDocTypesForKeywords(t *testing.T) {
	cases := []struct {
		text string
		want []string
	}{
		{"최근 인수 합병 공시에서 합병 비율", []string{"B001", "C004", "E003"}},
		{"자사주 매입 결정", []string{"B001", "E001"}},
		{"스톡옵션 부여 현황", []string{"B001", "E004"}},
		{"유상증자 결정", []string{"B001", "C001"}},
		{"사업보고서 제출", []string{"A001"}},
		{"감사보고서", []string{"F001"}},
		{"아무 관련 없는 문장", nil},
	}
	for _, tc := range cases {
		got := DocTypesForKeywords(tc.text)
		if len(got) != len(tc.want) {
			t.Fatalf("DocTypesForKeywords(%q) = %v, want %v", tc.text, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("DocTypesForKeywords(%q) = %v, want %v", tc.text, got, tc.want)
			}
		}
	}
}

func TestDocTypesForKeywordsIgnoresSpacing(t *testing.T) {
	a := DocTypesForKeywords("자기 주식 취득")
	b := DocTypesForKeywords("자기주식 취득")
	if len(a) != len(b) || len(a) == 0 {
		t.Fatalf("spacing changed the mapping: %v vs %v", a, b)
	}
}

func TestStructuredEndpoints(t *testing.T) {
	if eps := StructuredEndpoints("E001"); len(eps) != 2 {
		t.Fatalf("E001 endpoints = %v", eps)
	}
	if eps := StructuredEndpoints("D001"); eps != nil {
		t.Fatalf("D001 should have no structured endpoint, got %v", eps)
	}
}

func TestViewerURL(t *testing.T) {
	ref := FilingRef{RceptNo: "20240101000123"}
	want := "https://dart.fss.or.kr/dsaf001/main.do?rcpNo=20240101000123"
	if got := ref.ViewerURL(); got != want {
		t.Fatalf("ViewerURL = %q", got)
	}
}
