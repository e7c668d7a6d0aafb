// Package observability records what the context engine does to a JSON
// Lines event log and derives usage metrics and data-quality alerts from it
// on demand.
package observability
