// Package verifier decides whether a remediation actually worked by
// re-collecting evidence and checking that the original failure
// signature's signals no longer appear. Anything short of observed
// recovery within the verification window is not success.
package verifier
