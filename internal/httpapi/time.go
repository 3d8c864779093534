package httpapi

import "time"

// rfc3339 is the wire format for every timestamp this surface returns.
const rfc3339 = time.RFC3339

// nowUTC is a thin indirection point so expires_in computations have a
// single place to stub the clock from in tests.
func nowUTC() time.Time {
	return time.Now().UTC()
}
