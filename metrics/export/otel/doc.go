// Package otel bridges castellan's in-process counters to OpenTelemetry.
//
// [NewExporter] registers one Int64ObservableCounter per castellan metric
// plus one for shed audit events. A single callback reads
// [castellan.Engine.MetricsSnapshot] on each collection cycle, so the
// engine's hot path stays free of OTel machinery.
//
// The package never owns the MeterProvider; callers supply the Meter.
package otel
