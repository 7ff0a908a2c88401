// Package output renders reload history in pluggable formats and
// writes the result to stdout or a file. Formats are looked up through
// a Registry so commands stay decoupled from concrete renderers.
package output
