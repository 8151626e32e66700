package response

import "net/http"

// CodeOK marks success. Failures carry their HTTP status as the code so JSON
// clients can branch on either.
const CodeOK = 0

func message(code int) string {
	if code == CodeOK {
		return "OK"
	}
	return http.StatusText(code)
}
