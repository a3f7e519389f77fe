package headers

import (
	"testing"
	"time"
)

func TestParseLine(t *testing.T) {
	cases := []struct {
		line      string
		wantName  string
		wantValue []string
	}{
		{"Content-Length: 23", "content-length", []string{"23"}},
		{"Transfer-Encoding: chunked, gzip", "transfer-encoding", []string{"chunked", "gzip"}},
		{"Date: Mon, 11 Jan 2021 10:00:00 GMT", "date", []string{"Mon, 11 Jan 2021 10:00:00 GMT"}},
	}

	for _, c := range cases {
		name, values, err := ParseLine(c.line)
		if err != nil {
			t.Fatalf("ParseLine(%q) error: %v", c.line, err)
		}
		if name != c.wantName {
			t.Errorf("ParseLine(%q) name = %q, want %q", c.line, name, c.wantName)
		}
		if len(values) != len(c.wantValue) {
			t.Fatalf("ParseLine(%q) values = %v, want %v", c.line, values, c.wantValue)
		}
		for i := range values {
			if values[i] != c.wantValue[i] {
				t.Errorf("ParseLine(%q) values[%d] = %q, want %q", c.line, i, values[i], c.wantValue[i])
			}
		}
	}
}

func TestParseLineRejectsMalformedName(t *testing.T) {
	if _, _, err := ParseLine("bad name: value"); err == nil {
		t.Fatal("expected error for header name containing space")
	}
	if _, _, err := ParseLine("noColonHere"); err == nil {
		t.Fatal("expected error for line without colon")
	}
}

func TestSetCookieNeverMerged(t *testing.T) {
	h := New()
	h.Add("set-cookie", "a=1")
	h.Add("set-cookie", "b=2")

	fields := h.HeaderFields()
	count := 0
	for _, f := range fields {
		if f.Name == "Set-Cookie" {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("expected 2 separate set-cookie fields, got %d: %v", count, fields)
	}
}

func TestOtherHeadersCommaJoined(t *testing.T) {
	h := New()
	h.Add("accept", "text/html", "application/json")

	v, ok := h.GetFirst("accept")
	if !ok || v != "text/html" {
		t.Fatalf("GetFirst = %q, %v", v, ok)
	}

	fields := h.HeaderFields()
	if len(fields) != 1 || fields[0].Value != "text/html, application/json" {
		t.Fatalf("HeaderFields = %v", fields)
	}
}

func TestSetReplacesExisting(t *testing.T) {
	h := New()
	h.Add("x-foo", "a")
	h.Add("x-foo", "b")
	h.Set("x-foo", "c")

	if v := h.Get("x-foo"); len(v) != 1 || v[0] != "c" {
		t.Fatalf("Get after Set = %v", v)
	}
}

func TestOrderPreserved(t *testing.T) {
	h := New()
	h.Add("z-header", "1")
	h.Add("a-header", "2")
	h.Add("m-header", "3")

	names := h.Names()
	want := []string{"z-header", "a-header", "m-header"}
	for i, n := range want {
		if names[i] != n {
			t.Fatalf("Names()[%d] = %q, want %q", i, names[i], n)
		}
	}
}

func TestRFC1123RoundTrip(t *testing.T) {
	in := time.Date(2021, time.January, 11, 10, 0, 0, 0, time.UTC)
	encoded := EncodeRFC1123(in)

	if want := "Mon, 11 Jan 2021 10:00:00 GMT"; encoded != want {
		t.Fatalf("EncodeRFC1123 = %q, want %q", encoded, want)
	}

	if !IsRFC1123DateTime(encoded) {
		t.Fatalf("IsRFC1123DateTime(%q) = false", encoded)
	}

	decoded, err := DecodeRFC1123(encoded)
	if err != nil {
		t.Fatalf("DecodeRFC1123 error: %v", err)
	}
	if !decoded.Equal(in) {
		t.Fatalf("DecodeRFC1123 = %v, want %v", decoded, in)
	}
}

func TestDateNotCommaSplit(t *testing.T) {
	value := "Mon, 11 Jan 2021 10:00:00 GMT"
	parts := SplitFieldValue(value)
	if len(parts) != 1 || parts[0] != value {
		t.Fatalf("SplitFieldValue(date) = %v, want single element", parts)
	}
}

func TestAddDate(t *testing.T) {
	h := New()
	h.AddDate("date", time.Date(2021, time.January, 11, 10, 0, 0, 0, time.UTC))

	v, ok := h.GetFirst("date")
	if !ok || v != "Mon, 11 Jan 2021 10:00:00 GMT" {
		t.Fatalf("GetFirst(date) = %q, %v", v, ok)
	}
}
