// Package speaker holds the registered speaker profiles used for speaker
// verification and the similarity math applied to them.
//
// Profiles are loaded once at startup (from a directory of WAV enrolment
// samples or from PostgreSQL) and are immutable for the lifetime of the
// process. Verification itself lives in the recognition stage; this package
// only answers "which profiles match this name prefix" and "how similar are
// these two embeddings".
package speaker

import (
	"math"
	"strings"
)

// Profile is one registered speaker.
type Profile struct {
	// Name identifies the speaker. Name variants of one logical speaker share
	// a common prefix (e.g. "alice", "alice_noisy").
	Name string

	// Embedding is the speaker's voiceprint, normalised to unit length.
	Embedding []float32
}

// Registry holds profiles in registration order. It is immutable after
// construction and therefore safe for concurrent use.
type Registry struct {
	profiles []Profile
}

// NewRegistry builds a Registry from profiles, preserving their order.
func NewRegistry(profiles []Profile) *Registry {
	return &Registry{profiles: profiles}
}

// Len returns the number of registered profiles.
func (r *Registry) Len() int {
	return len(r.profiles)
}

// Names returns all profile names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.profiles))
	for i, p := range r.profiles {
		names[i] = p.Name
	}
	return names
}

// SelectPrefix returns all profiles whose name starts with prefix, in
// registration order. This groups name variants under one logical speaker.
func (r *Registry) SelectPrefix(prefix string) []Profile {
	var out []Profile
	for _, p := range r.profiles {
		if strings.HasPrefix(p.Name, prefix) {
			out = append(out, p)
		}
	}
	return out
}

// Normalize scales v to unit length in place and returns it. A zero vector is
// returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// Similarity maps the cosine of two unit vectors from [-1, 1] to [0, 1]:
//
//	similarity = (1 + dot(a, b)) / 2
//
// Both inputs must already be unit length; Similarity does not normalise.
func Similarity(a, b []float32) float64 {
	var dot float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return (1 + dot) / 2
}

// Round3 rounds a score to three decimals, the precision reported to clients.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
