package bulk

import "testing"

func TestParseNumberLines(t *testing.T) {
	text := "+551199999999 | chip novo\n\n  +551188888888  \r\n | sem numero\n+551177777777 |"

	got, errs := ParseNumberLines(text)

	if len(got) != 3 {
		t.Fatalf("ParseNumberLines() len = %d, want 3: %+v", len(got), got)
	}
	want := []NumberLine{
		{Line: 1, Number: "+551199999999"},
		{Line: 3, Number: "+551188888888"},
		{Line: 5, Number: "+551177777777"},
	}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("got[%d] = %+v, want %+v", i, got[i], w)
		}
	}
	if len(errs) != 1 || errs[0].Line != 4 {
		t.Errorf("errs = %+v, want one error on line 4", errs)
	}
}

func TestParseGroupLinkLines(t *testing.T) {
	text := "Grupo VIP | https://chat.whatsapp.com/abc\nSem link\n\n| https://chat.whatsapp.com/x\nGrupo 2|https://example.com/a|b"

	got, errs := ParseGroupLinkLines(text)

	if len(got) != 2 {
		t.Fatalf("ParseGroupLinkLines() len = %d, want 2: %+v", len(got), got)
	}
	if got[0].Link.GroupName != "Grupo VIP" || got[0].Link.URL != "https://chat.whatsapp.com/abc" {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].Link.URL != "https://example.com/a|b" || got[1].Line != 5 {
		t.Errorf("got[1] = %+v, want URL kept intact on line 5", got[1])
	}
	if len(errs) != 2 || errs[0].Line != 2 || errs[1].Line != 4 {
		t.Errorf("errs = %+v, want errors on lines 2 and 4", errs)
	}
	if errs[0].Error() == "" {
		t.Error("LineError.Error() is empty")
	}
}

func TestParse_EmptyText(t *testing.T) {
	if got, errs := ParseNumberLines("  \n \n"); len(got) != 0 || len(errs) != 0 {
		t.Errorf("ParseNumberLines(blank) = %v, %v", got, errs)
	}
	if got, errs := ParseGroupLinkLines(""); len(got) != 0 || len(errs) != 0 {
		t.Errorf("ParseGroupLinkLines(\"\") = %v, %v", got, errs)
	}
}
