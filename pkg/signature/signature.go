package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/types"
)

// Canonicalize normalizes raw signals into a FailureSignature: keys are
// case-folded, values trimmed, numeric values bucketed into tiers, duplicates
// dropped and the remainder sorted. The hash over the canonical form is the
// runbook lookup key and the episode dedup identity.
func Canonicalize(signals []types.Signal) types.FailureSignature {
	seen := make(map[string]struct{}, len(signals))
	canon := make([]types.Signal, 0, len(signals))

	for _, s := range signals {
		n := types.Signal{
			Kind:  strings.ToLower(strings.TrimSpace(s.Kind)),
			Key:   strings.ToLower(strings.TrimSpace(s.Key)),
			Value: normalizeValue(s.Value),
		}
		if n.Kind == "" || n.Key == "" {
			continue
		}
		k := n.Kind + "\x00" + n.Key + "\x00" + n.Value
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		canon = append(canon, n)
	}

	sort.Slice(canon, func(i, j int) bool {
		a, b := canon[i], canon[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		return a.Value < b.Value
	})

	return types.FailureSignature{Signals: canon, Hash: hash(canon)}
}

// normalizeValue case-folds the value and replaces numerics with a tier
// bucket, so "37 restarts" and "41 restarts" canonicalize identically.
func normalizeValue(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return bucket(f)
	}
	return v
}

// bucket maps a numeric value to a coarse magnitude tier.
func bucket(f float64) string {
	switch {
	case f <= 0:
		return "num:zero"
	case f < 10:
		return "num:lt10"
	case f < 100:
		return "num:lt100"
	case f < 1000:
		return "num:lt1k"
	default:
		return "num:ge1k"
	}
}

func hash(signals []types.Signal) string {
	h := sha256.New()
	for _, s := range signals {
		h.Write([]byte(s.Kind))
		h.Write([]byte{0})
		h.Write([]byte(s.Key))
		h.Write([]byte{0})
		h.Write([]byte(s.Value))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Equal reports whether two signatures identify the same failure condition.
func Equal(a, b types.FailureSignature) bool {
	return a.Hash != "" && a.Hash == b.Hash
}

// Cleared reports whether none of the original signature's tuples are still
// present in a freshly derived signature. The verifier treats a cleared
// signature as recovery.
func Cleared(original, fresh types.FailureSignature) bool {
	present := make(map[types.Signal]struct{}, len(fresh.Signals))
	for _, s := range fresh.Signals {
		present[s] = struct{}{}
	}
	for _, s := range original.Signals {
		if _, ok := present[s]; ok {
			return false
		}
	}
	return true
}
