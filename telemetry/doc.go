// Package telemetry reports tool calls to OpenTelemetry and wires the OTLP
// trace exporter.
package telemetry
