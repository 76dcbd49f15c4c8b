// +build windows

package popen

// signalName has no local signal-number table on platforms without
// POSIX signal numbers; the raw SSH signal name is surfaced verbatim,
// per spec.md §9's documented fallback.
func signalName(name string) string {
	return name
}
