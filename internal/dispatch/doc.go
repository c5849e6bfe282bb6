// Package dispatch runs a bulk send: it guards the start of a run, walks the
// recipients strictly in order (normalize, text, attachment, humanizing
// delays), records every outcome in the run status store, and always
// finalizes the run with a Report.
package dispatch
