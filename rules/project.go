//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// StructuredLogging keeps library code on the module logger. Only the CLI
// under cmd/ writes to stdout directly.
func StructuredLogging(m dsl.Matcher) {
	m.Match(`log.Printf($*_)`, `log.Println($*_)`, `log.Print($*_)`, `log.Fatalf($*_)`, `log.Fatal($*_)`).
		Where(m.File().Imports("log")).
		Report("use internal/logger instead of the standard log package")

	m.Match(`fmt.Printf($*_)`, `fmt.Println($*_)`, `fmt.Print($*_)`).
		Where(m.File().PkgPath.Matches(`/internal/`) && !m.File().Name.Matches(`_test\.go$`)).
		Report("internal packages log through internal/logger")
}

// SharedHTTPClient routes outbound requests through internal/httpclient,
// which applies timeouts and the user agent.
func SharedHTTPClient(m dsl.Matcher) {
	m.Match(`http.DefaultClient`, `http.Get($*_)`, `http.Post($*_)`).
		Where(!m.File().Name.Matches(`_test\.go$`)).
		Report("use internal/httpclient for outbound requests")
}

// SleepInTests flags fixed sleeps; tests wait with require.Eventually or
// drive the fake clock.
func SleepInTests(m dsl.Matcher) {
	m.Match(`time.Sleep($_)`).
		Where(m.File().Name.Matches(`_test\.go$`)).
		Report("avoid time.Sleep in tests; use require.Eventually or a fake clock")
}

// StoreErrorsWrapped flags bare status checks against remotestore sentinel
// errors; wrapped store errors only match with errors.Is.
func StoreErrorsWrapped(m dsl.Matcher) {
	m.Match(`$err == remotestore.$sentinel`, `$err != remotestore.$sentinel`).
		Where(m["err"].Type.Implements("error") && m["sentinel"].Text.Matches(`^Err`)).
		Report("compare store errors with errors.Is")
}
