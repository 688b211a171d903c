// Package report writes the results of a pipeline run: a JSON report of
// every requirement, a Dafny stub file holding the obligations, and a short
// text summary for terminals.
package report
