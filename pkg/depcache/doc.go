// Package depcache provides persistent, dependency-aware caches of derived
// artifacts.
//
// A cache definition declares its inputs in Link and produces its artifact in
// Compute. The engine keeps the latest snapshot of every definition, serves it
// to readers without blocking on recomputes, and schedules a background
// recompute when the inputs recorded by Link no longer match the snapshot.
//
// # Basic Usage
//
//	e, err := depcache.Open(ctx, depcache.Options{Dir: "/var/cache/app"})
//	if err != nil {
//	    return err
//	}
//	defer e.Close()
//
//	type wordList struct{ src *depcache.Binary }
//
//	func (w *wordList) Link(ctx context.Context) error { return w.src.Touch(ctx) }
//	func (w *wordList) Compute(ctx context.Context, path string) error {
//	    data, err := w.src.Get(ctx)
//	    ...
//	}
//
//	words := e.Binary(&wordList{src: e.Download(corpus)})
//	data, err := words.Get(ctx)
//	if depcache.IsEmpty(err) {
//	    // first value not computed yet
//	}
//
// # Variants
//
//   - [Engine.Binary]: Compute writes a file.
//   - [NewObject]: Compute returns a value stored through the codec registry.
//   - [NewComputed]: Compute returns a value kept in memory only.
//   - [Engine.Download]: the file is fetched from a URI.
//   - [NewLazy]: a value computed at most once per process.
//
// # Stability
//
// [Stability] tells consumers how likely an entry is to change soon. It is
// derived on every call: [Unstable] while inputs are missing, stale or being
// recomputed, [Failing] when the entry or a dependency settled on a failure,
// [Ready] otherwise.
//
// # Error Handling
//
// Empty caches ([ErrEmptyCache]) are expected and recoverable; filter them with
// [SilenceEmpty]. Compute failures ([*ComputeError]) and cancellations
// ([ErrCancelled]) are recorded in the snapshot and returned on every read
// until an input changes or [Binary.Refresh] is called.
package depcache
