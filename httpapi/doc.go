// Package httpapi is the browser-facing session surface: status, touch and
// clear endpoints, the optional authorization-code login flow, and the
// session cookie contract, served with gin.
//
// Every response carries Cache-Control: no-store and an x-request-id header.
// Policy checks come from the middleware package; this package only adapts
// them to gin and maps their errors to status codes.
//
// # What this package must NOT do
//
//   - Write token material into a response body or a cookie. The session
//     cookie holds the sid and nothing else.
//   - Answer 401 when the store is down. Store failures are 503.
package httpapi
