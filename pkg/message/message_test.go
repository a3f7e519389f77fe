package message

import "testing"

func TestNewRequestDefaults(t *testing.T) {
	r, err := NewRequest("", "http://example.com/foo?bar=1")
	if err != nil {
		t.Fatalf("NewRequest error: %v", err)
	}
	if r.Method != "GET" {
		t.Fatalf("Method = %q, want GET", r.Method)
	}
	if r.Scheme() != "http" || r.Authority() != "example.com" {
		t.Fatalf("Scheme/Authority = %q/%q", r.Scheme(), r.Authority())
	}
	if r.Path() != "/foo" || r.Query() != "bar=1" {
		t.Fatalf("Path/Query = %q/%q", r.Path(), r.Query())
	}
	if r.RelativeURL() != "/foo?bar=1" {
		t.Fatalf("RelativeURL = %q", r.RelativeURL())
	}
}

func TestSetURLDefaultsEmptyPath(t *testing.T) {
	r, err := NewRequest("GET", "http://example.com")
	if err != nil {
		t.Fatalf("NewRequest error: %v", err)
	}
	if r.Path() != "/" {
		t.Fatalf("Path() = %q, want /", r.Path())
	}
}

func TestSetURLRejectsMissingScheme(t *testing.T) {
	r, _ := NewRequest("GET", "http://example.com/")
	if err := r.SetURL("/just-a-path"); err == nil {
		t.Fatal("expected error for url without scheme")
	}
	// atomicity: a failed SetURL must not have mutated any derived field
	if r.Scheme() != "http" || r.Authority() != "example.com" {
		t.Fatalf("SetURL partially mutated request on failure: scheme=%q authority=%q", r.Scheme(), r.Authority())
	}
}

func TestResponseHasBody(t *testing.T) {
	cases := []struct {
		status int
		method string
		want   bool
	}{
		{100, "GET", false},
		{204, "GET", false},
		{304, "GET", false},
		{200, "GET", true},
		{200, "HEAD", false},
		{404, "GET", true},
	}

	for _, c := range cases {
		req, _ := NewRequest(c.method, "http://example.com/")
		resp := NewResponse(c.status, nil)
		resp.Request = req
		if got := resp.HasBody(); got != c.want {
			t.Errorf("HasBody() status=%d method=%s = %v, want %v", c.status, c.method, got, c.want)
		}
	}
}
