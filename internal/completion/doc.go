// Package completion talks to the language-model completion service.
//
// A Model turns a prompt into raw text. The Client on top of it extracts the
// JSON object from that text and validates it against a CUE schema before
// anything downstream sees it. A response that does not satisfy its schema
// is reported as a *SchemaError, never defaulted; any other error from
// Complete means the service could not be reached or timed out.
package completion
