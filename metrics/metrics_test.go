package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_Counts(t *testing.T) {
	c := New()
	c.Vote("recorded")
	c.Vote("recorded")
	c.Vote("duplicate")
	c.Resolution("deadline", "rejected")
	c.Distribution("created", 97.5)
	c.Distribution("replayed", 0)
	c.Claim("completed", 24.375)
	c.ClaimConflict()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.votes.WithLabelValues("recorded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.votes.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.resolutions.WithLabelValues("deadline", "rejected")))
	assert.Equal(t, 97.5, testutil.ToFloat64(c.distributed))
	assert.Equal(t, 24.375, testutil.ToFloat64(c.paidOut))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.claimConflict))

	families, err := c.Registry().Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestCollector_Nil(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.Vote("recorded")
		c.Resolution("quorum", "passed")
		c.Cascade("applied")
		c.Distribution("created", 1)
		c.Claim("failed", 0)
		c.ClaimConflict()
		_ = c.Registry()
	})
}
