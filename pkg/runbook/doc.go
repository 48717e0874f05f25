// Package runbook stores and reuses learned remediations. A runbook maps
// one exact failure signature to a templatized plan; lookup is exact-hash
// only, with no fuzzy matching. Templates carry {{cluster}}/{{namespace}}/
// {{resource}} placeholders so a plan learned on one workload rebinds to
// another with the same failure shape.
package runbook
