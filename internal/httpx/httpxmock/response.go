package httpxmock

import (
    "io"
    "net/http"
    "strings"
)

// JSONResponse builds a response with the given status and body.
func JSONResponse(status int, body string) *http.Response {
    return &http.Response{
        StatusCode: status,
        Header:     http.Header{"Content-Type": []string{"application/json"}},
        Body:       io.NopCloser(strings.NewReader(body)),
    }
}
