// Package internaldefs holds the metric names shared by the Prometheus and OTel
// exporters so both publish identical names and bucket boundaries.
//
// It performs no I/O and imports no exporter package.
package internaldefs
