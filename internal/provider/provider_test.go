package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVIXTermStructureCompleteRequiresAllThreeLegs(t *testing.T) {
	nine, thirty, three := 15.0, 16.0, 17.0

	assert.False(t, VIXTermStructure{}.Complete())
	assert.False(t, VIXTermStructure{VIX9D: &nine, VIX30D: &thirty}.Complete())
	assert.True(t, VIXTermStructure{VIX9D: &nine, VIX30D: &thirty, VIX3M: &three}.Complete())
}

func TestRealClockNowIsCurrent(t *testing.T) {
	before := time.Now()
	got := RealClock{}.Now()
	after := time.Now()
	assert.False(t, got.Before(before))
	assert.False(t, got.After(after))
}
