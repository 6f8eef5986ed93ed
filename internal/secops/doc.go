// Package secops is the security-operations domain on top of the hybrid
// coordinator: incidents and alerts with typed accessors.
//
// Incidents are stored under kind "incident" and alerts under kind "alert".
// Creating an incident publishes its id on the "incidents" channel. Active
// alerts are served from the materialized collection alert#active_alerts,
// which Register adds to a builder.
package secops
