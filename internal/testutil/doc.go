// Package testutil provides deterministic stand-ins for the pipeline's
// external collaborators: a scripted completion model, a scripted verifier
// and a fixed run-id generator. They are used by unit tests and by the
// scenario harness.
package testutil
