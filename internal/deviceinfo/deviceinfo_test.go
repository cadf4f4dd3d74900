package deviceinfo

import (
	"runtime"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestCollect_RuntimeAttributes(t *testing.T) {
	attrs := Collect(zerolog.Nop())

	assert.Equal(t, runtime.GOOS, attrs["platform"])
	assert.Equal(t, runtime.GOARCH, attrs["arch"])
	assert.Equal(t, runtime.Version(), attrs["go_version"])
}

func TestCollect_NoEmptyValues(t *testing.T) {
	for key, value := range Collect(zerolog.Nop()) {
		assert.NotEmpty(t, value, "attribute %q must not be empty", key)
	}
}
