package llm

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperty_ClampMaxTokens(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("never exceeds a positive limit", prop.ForAll(
		func(requested, limit int) bool {
			return ClampMaxTokens(requested, limit) <= limit
		},
		gen.IntRange(-100, 1_000_000),
		gen.IntRange(1, 200_000),
	))

	properties.Property("keeps positive requests within the limit unchanged", prop.ForAll(
		func(requested, limit int) bool {
			if requested > limit {
				return true
			}
			return ClampMaxTokens(requested, limit) == requested
		},
		gen.IntRange(1, 200_000),
		gen.IntRange(1, 200_000),
	))

	properties.Property("unset request falls back to the limit", prop.ForAll(
		func(requested, limit int) bool {
			return ClampMaxTokens(requested, limit) == limit
		},
		gen.IntRange(-100, 0),
		gen.IntRange(0, 200_000),
	))

	properties.Property("zero limit leaves positive requests alone", prop.ForAll(
		func(requested int) bool {
			return ClampMaxTokens(requested, 0) == requested
		},
		gen.IntRange(1, 1_000_000),
	))

	properties.TestingRun(t)
}

func TestProperty_ResolveTemperaturePrecedence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("request beats app beats global", prop.ForAll(
		func(requested, preferred, global float64, hasRequested, hasPreferred bool) bool {
			r := NewRegistry(WithDefaultTemperature(global))

			var req, pref *float64
			if hasRequested {
				req = &requested
			}
			if hasPreferred {
				pref = &preferred
			}

			got := r.ResolveTemperature(req, pref)
			switch {
			case hasRequested:
				return got == requested
			case hasPreferred:
				return got == preferred
			default:
				return got == global
			}
		},
		gen.Float64Range(0, 2),
		gen.Float64Range(0, 2),
		gen.Float64Range(0.01, 2),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
