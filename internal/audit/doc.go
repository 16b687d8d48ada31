// Package audit keeps a trail of admission decisions. A Hub buffers
// decision records off the request path and fans them out in batches to
// pluggable sinks such as structured logs or a Postgres table.
package audit
