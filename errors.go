package latencyz

import "github.com/cockroachdb/errors"

// ErrAlreadyInstalled is returned by MeasureLatencies/MeasureLatenciesProbed
// when a subscriber has already been installed as the process-wide default
// in this process (spec.md §7 CallbackInternalPanic's sibling,
// AlreadyInstalled). Only one measurement can be active per process for the
// life of that process, mirroring tracing::subscriber::set_global_default's
// own single-assignment behavior.
var ErrAlreadyInstalled = errors.New("latencyz: a subscriber is already installed as the process default")

// ErrNotProbed is returned by ProbedTrace.Join when it is called more than
// once. Probe returns no error and may still be called after Join.
var ErrNotProbed = errors.New("latencyz: probed trace has already been joined")
