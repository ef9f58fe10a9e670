package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", StatusClass(200))
	assert.Equal(t, "2xx", StatusClass(204))
	assert.Equal(t, "3xx", StatusClass(302))
	assert.Equal(t, "4xx", StatusClass(404))
	assert.Equal(t, "5xx", StatusClass(502))
	assert.Equal(t, "other", StatusClass(0))
}

func TestObserveReload_RecordsWithoutPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		ObserveReload("reloaded", 5*time.Millisecond)
		ObserveReload("error", time.Millisecond)
	})
}
