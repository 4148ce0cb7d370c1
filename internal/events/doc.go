// Package events fans supervisor lifecycle events out to live subscribers,
// such as the HTTP API's server-sent event stream.
package events
