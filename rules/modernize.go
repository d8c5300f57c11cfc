//go:build ruleguard

// Package gorules contains custom linting rules for golangci-lint via ruleguard.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// WaitGroupGo flags the Add/Done goroutine pattern that sync.WaitGroup.Go
// replaces.
//
// Old pattern:
//
//	wg.Add(1)
//	go func() {
//	    defer wg.Done()
//	    work()
//	}()
//
// New pattern (Go 1.25+):
//
//	wg.Go(work)
func WaitGroupGo(m dsl.Matcher) {
	m.Match(`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { $body }) instead of Add/Done").
		Suggest("$wg.Go(func() { $body })")

	m.Match(`go func() { defer $wg.Done(); $*_ }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { ... }) instead of a deferred Done")
}

// MinMaxBuiltin flags float round trips used to pick the smaller or larger
// of two integers.
func MinMaxBuiltin(m dsl.Matcher) {
	m.Match(`int(math.Min(float64($a), float64($b)))`).
		Report("use min($a, $b)").
		Suggest("min($a, $b)")

	m.Match(`int(math.Max(float64($a), float64($b)))`).
		Report("use max($a, $b)").
		Suggest("max($a, $b)")
}

// SortSlices flags sort.Slice and friends where the slices package applies.
func SortSlices(m dsl.Matcher) {
	m.Match(`sort.Strings($s)`).
		Report("use slices.Sort($s)").
		Suggest("slices.Sort($s)")

	m.Match(`sort.Ints($s)`).
		Report("use slices.Sort($s)").
		Suggest("slices.Sort($s)")

	m.Match(`sort.Slice($s, $_)`).
		Report("use slices.SortFunc($s, ...) with cmp.Compare")
}

// StringsCut flags Index-and-slice pairs that strings.Cut expresses directly.
func StringsCut(m dsl.Matcher) {
	m.Match(`$i := strings.Index($s, $sep); if $i >= 0 { $*_ }`).
		Where(m["sep"].Type.Is("string")).
		Report("consider strings.Cut($s, $sep)")
}

// TestContext flags context.Background and context.TODO in tests, where
// t.Context is cancelled when the test ends.
func TestContext(m dsl.Matcher) {
	m.Match(`context.Background()`, `context.TODO()`).
		Where(m.File().Name.Matches(`_test\.go$`)).
		Report("use t.Context() in tests")
}

// TimeSince flags the long form of time.Since and time.Until.
func TimeSince(m dsl.Matcher) {
	m.Match(`time.Now().Sub($t)`).
		Report("use time.Since($t)").
		Suggest("time.Since($t)")

	m.Match(`$t.Sub(time.Now())`).
		Report("use time.Until($t)").
		Suggest("time.Until($t)")
}
