package testlib

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeTest(t *testing.T) {
	assert.Equal(t, "current/event/Test_Event_Count;", normalizeTest("current/event/Test_Event_Count"))
	assert.Equal(t, "a;", normalizeTest("a;"))
	assert.Equal(t, "a;", normalizeTest(" a;; "))
}

func TestNormalizeTestDirectory(t *testing.T) {
	assert.Equal(t, "current/event/;", normalizeTestDirectory("current/event"))
	assert.Equal(t, "current/event/;", normalizeTestDirectory("current/event/"))
	assert.Equal(t, "current/event/;", normalizeTestDirectory("current/event/;"))
}

func TestNames_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("tests end with a single ';'", prop.ForAll(
		func(name string) bool {
			got := normalizeTest(name)
			return strings.HasSuffix(got, ";") && !strings.HasSuffix(got, ";;")
		},
		gen.AnyString(),
	))

	properties.Property("directories end with '/;'", prop.ForAll(
		func(dir string) bool {
			return strings.HasSuffix(normalizeTestDirectory(dir), "/;")
		},
		gen.AnyString(),
	))

	properties.Property("normalizing twice is a no-op", prop.ForAll(
		func(name string) bool {
			once := normalizeTest(name)
			return normalizeTest(once) == once && normalizeTestDirectory(normalizeTestDirectory(name)) == normalizeTestDirectory(name)
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
