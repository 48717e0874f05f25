// Package analyzer turns collected evidence into a root-cause finding
// with a self-reported confidence and an optional suggested plan.
//
// The production setup chains a model-backed analyzer with a rules
// fallback so diagnosis keeps working when the model endpoint is down.
// Analyzers are advisory: the orchestrator owns the confidence threshold
// and the decision to act.
package analyzer
