package message

// idempotentMethods is §3's I5 retry-eligible method set.
var idempotentMethods = map[string]bool{
	"GET":     true,
	"HEAD":    true,
	"PUT":     true,
	"DELETE":  true,
	"OPTIONS": true,
	"TRACE":   true,
}

// IsIdempotent reports whether method is retry-eligible per I5.
func IsIdempotent(method string) bool {
	return idempotentMethods[method]
}

// AllowsResponseBody reports whether, per §4.6, a response to a request
// with this method (and the given status) may carry a body at all.
func AllowsResponseBody(method string, status int) bool {
	if method == "HEAD" {
		return false
	}
	switch status {
	case 100, 101, 204, 304:
		return false
	}
	return true
}
