package bookmarks

import "github.com/tidwall/gjson"

// bundle_replay_data is an opaque JSON blob supplied by the pushrebase
// client; the core never needs to
// fully parse it, only to pick a couple of fields back out for logging and
// replay-matching. gjson does that single-field lookup without paying for
// a full unmarshal into a struct the core doesn't otherwise use.

// ReplayBundleHandle returns the "bundle_handle" field of a log entry's
// replay data, or ok=false if data is empty, not valid JSON, or has no
// such field.
func ReplayBundleHandle(data []byte) (handle string, ok bool) {
	if len(data) == 0 {
		return "", false
	}
	r := gjson.GetBytes(data, "bundle_handle")
	if !r.Exists() {
		return "", false
	}
	return r.String(), true
}

// ReplayRebasedHead returns the "rebased_head" field of a log entry's
// replay data (the commit the pushed bundle was rebased onto), or
// ok=false if absent.
func ReplayRebasedHead(data []byte) (hash string, ok bool) {
	if len(data) == 0 {
		return "", false
	}
	r := gjson.GetBytes(data, "rebased_head")
	if !r.Exists() {
		return "", false
	}
	return r.String(), true
}
