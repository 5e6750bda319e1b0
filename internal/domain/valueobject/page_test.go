package valueobject

import (
	"encoding/json"
	"testing"
)

func TestPageCursor_RoundTrip(t *testing.T) {
	idx, err := IndexCursor(40).Index()
	if err != nil || idx != 40 {
		t.Fatalf("Index: got %d, %v", idx, err)
	}

	v, id, ok, err := ValueCursor(1700000000123, "conv-9").After()
	if err != nil || !ok {
		t.Fatalf("After: ok=%v err=%v", ok, err)
	}
	if v != 1700000000123 || id != "conv-9" {
		t.Errorf("After: got (%d, %q)", v, id)
	}
}

func TestPageCursor_KindMismatch(t *testing.T) {
	if _, err := ValueCursor(1, "x").Index(); err == nil {
		t.Error("value cursor should not decode as index")
	}
	if _, _, _, err := IndexCursor(1).After(); err == nil {
		t.Error("index cursor should not decode as value cursor")
	}
	if _, err := PageCursor("not base64!").Index(); err == nil {
		t.Error("garbage cursor should fail")
	}
}

func TestPageCursor_Zero(t *testing.T) {
	var c PageCursor
	if !c.IsZero() {
		t.Error("empty cursor should be zero")
	}
	if idx, err := c.Index(); err != nil || idx != 0 {
		t.Errorf("zero cursor index: %d, %v", idx, err)
	}
	if _, _, ok, err := c.After(); ok || err != nil {
		t.Errorf("zero cursor After: ok=%v err=%v", ok, err)
	}
}

func TestPageSlice_Completeness(t *testing.T) {
	tests := []struct {
		n, k int
	}{
		{0, 3}, {1, 3}, {3, 3}, {7, 3}, {10, 1}, {5, 10},
	}

	for _, tt := range tests {
		all := make([]int, tt.n)
		for i := range all {
			all[i] = i
		}

		seen := map[int]bool{}
		var cursor PageCursor
		pages := 0
		for {
			page, err := PageSlice(all, tt.k, cursor)
			if err != nil {
				t.Fatalf("n=%d k=%d: %v", tt.n, tt.k, err)
			}
			for _, v := range page.Items {
				if seen[v] {
					t.Fatalf("n=%d k=%d: duplicate %d", tt.n, tt.k, v)
				}
				seen[v] = true
			}
			pages++
			if !page.HasMore {
				break
			}
			cursor = page.Cursor
			if pages > tt.n+1 {
				t.Fatal("pagination did not terminate")
			}
		}
		if len(seen) != tt.n {
			t.Errorf("n=%d k=%d: saw %d items", tt.n, tt.k, len(seen))
		}
	}
}

func TestPageSlice_RejectsBadSize(t *testing.T) {
	if _, err := PageSlice([]int{1}, 0, ""); err == nil {
		t.Error("page size 0 should fail")
	}
}

func TestPageTail(t *testing.T) {
	all := []int{0, 1, 2, 3, 4}

	page, err := PageTail(all, 2, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 || page.Items[0] != 3 || page.Items[1] != 4 || !page.HasMore {
		t.Fatalf("first page: %+v", page)
	}

	page, _ = PageTail(all, 2, page.Cursor)
	if page.Items[0] != 1 || page.Items[1] != 2 || !page.HasMore {
		t.Fatalf("second page: %+v", page)
	}

	page, _ = PageTail(all, 2, page.Cursor)
	if len(page.Items) != 1 || page.Items[0] != 0 || page.HasMore {
		t.Fatalf("last page: %+v", page)
	}

	page, _ = PageTail([]int{}, 2, "")
	if len(page.Items) != 0 || page.HasMore {
		t.Fatalf("empty: %+v", page)
	}
}

func TestMessageContent_JSON(t *testing.T) {
	plain := NewTextContent("hello")
	data, _ := json.Marshal(plain)
	if string(data) != `"hello"` {
		t.Errorf("plain content encoded as %s", data)
	}

	multi := NewPartsContent(TextPart("look"), ImagePart("https://img/1.png"))
	data, _ = json.Marshal(multi)

	var back MessageContent
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.IsMultipart() || !back.Equals(multi) {
		t.Errorf("multipart content did not survive: %s", data)
	}
	if back.Text() != "look" {
		t.Errorf("Text: got %q", back.Text())
	}
	if urls := back.ImageURLs(); len(urls) != 1 || urls[0] != "https://img/1.png" {
		t.Errorf("ImageURLs: %v", urls)
	}
}

func TestMessageContent_RejectsMalformed(t *testing.T) {
	cases := []string{
		`42`,
		`{"text":"x"}`,
		`[{"type":"video"}]`,
		`[{"type":"image_url"}]`,
	}
	for _, c := range cases {
		var mc MessageContent
		if err := json.Unmarshal([]byte(c), &mc); err == nil {
			t.Errorf("expected error for %s", c)
		}
	}

	var mc MessageContent
	if err := json.Unmarshal([]byte(`null`), &mc); err != nil || !mc.IsEmpty() {
		t.Errorf("null should decode to empty content: %v", err)
	}
}

func TestUser_IsAnonymous(t *testing.T) {
	if !AnonymousUser().IsAnonymous() {
		t.Error("anonymous user")
	}
	if NewRegisteredUser("u1", "ann").IsAnonymous() {
		t.Error("registered user with id is not anonymous")
	}
	if !NewRegisteredUser("", "ghost").IsAnonymous() {
		t.Error("user without id counts as anonymous")
	}
}
