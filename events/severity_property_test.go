package events

import (
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func catalogTypes() []Type {
	ts := Types()
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
	return ts
}

func TestProperty_Severity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	types := catalogTypes()

	properties.Property("failed status always yields failed severity", prop.ForAll(
		func(i int) bool {
			return SeverityOf(types[i], StatusFailed) == SeverityFailed
		},
		gen.IntRange(0, len(types)-1),
	))

	properties.Property("failed severity holds for types outside the catalog", prop.ForAll(
		func(raw string) bool {
			return SeverityOf(Type(raw), StatusFailed) == SeverityFailed
		},
		gen.AlphaString(),
	))

	properties.Property("success severity is deterministic and never failed", prop.ForAll(
		func(i int) bool {
			a := SeverityOf(types[i], StatusSuccess)
			b := SeverityOf(types[i], StatusSuccess)
			return a == b && a != SeverityFailed
		},
		gen.IntRange(0, len(types)-1),
	))

	properties.Property("display message is never empty", prop.ForAll(
		func(raw string, failed bool) bool {
			e := &AuthEvent{Type: Type(raw), Status: StatusSuccess}
			if failed {
				e.Status = StatusFailed
			}
			return Message(e) != ""
		},
		gen.AlphaString(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
