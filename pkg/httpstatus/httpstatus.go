// Package httpstatus holds the status-code reason-phrase table and the
// closed set of HTTP methods the Pipeline and Router recognize.
package httpstatus

// ReasonPhrases maps status codes to their reason phrase, covering the
// IANA-registered statuses in common use (RFC 7231 plus the extensions
// named alongside each entry).
var ReasonPhrases = map[int]string{
	100: "Continue",
	101: "Switching Protocols",
	102: "Processing",

	200: "OK",
	201: "Created",
	202: "Accepted",
	203: "Non-Authoritative Information",
	204: "No Content",
	205: "Reset Content",
	206: "Partial Content",
	207: "Multi-Status",
	208: "Already Reported",
	226: "IM Used",

	300: "Multiple Choices",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	304: "Not Modified",
	305: "Use Proxy",
	307: "Temporary Redirect",
	308: "Permanent Redirect",

	400: "Bad Request",
	401: "Unauthorized",
	402: "Payment Required",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	406: "Not Acceptable",
	407: "Proxy Authentication Required",
	408: "Request Timeout",
	409: "Conflict",
	410: "Gone",
	411: "Length Required",
	412: "Precondition Failed",
	413: "Payload Too Large",
	414: "URI Too Long",
	415: "Unsupported Media Type",
	416: "Range Not Satisfiable",
	417: "Expectation Failed",
	421: "Misdirected Request",
	422: "Unprocessable Entity",
	423: "Locked",
	424: "Failed Dependency",
	426: "Upgrade Required",
	428: "Precondition Required",
	429: "Too Many Requests",
	431: "Request Header Fields Too Large",

	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
	505: "HTTP Version Not Supported",
	506: "Variant Also Negotiates",
	507: "Insufficient Storage",
	508: "Loop Detected",
	510: "Not Extended",
	511: "Network Authentication Required",
}

// ReasonPhrase returns the canonical reason phrase for code, or "Unknown"
// if the code isn't in the table.
func ReasonPhrase(code int) string {
	if p, ok := ReasonPhrases[code]; ok {
		return p
	}
	return "Unknown"
}

// Methods is the closed set of HTTP methods the Pipeline and Router
// recognize, per the design decision to keep a closed method set unless
// requirements change (CONNECT and TRACE are deliberately excluded, as in
// the source's narrower server-side method set).
var Methods = map[string]bool{
	"GET":     true,
	"HEAD":    true,
	"POST":    true,
	"OPTIONS": true,
	"PUT":     true,
	"PATCH":   true,
	"DELETE":  true,
}

// IsMethod reports whether method belongs to the closed method set.
func IsMethod(method string) bool {
	return Methods[method]
}
