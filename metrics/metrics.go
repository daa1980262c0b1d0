// Package metrics exposes ledger counters to Prometheus. A nil *Collector is
// valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "dao_ledger"

type Collector struct {
	registry *prometheus.Registry

	votes         *prometheus.CounterVec
	resolutions   *prometheus.CounterVec
	cascades      *prometheus.CounterVec
	distributions *prometheus.CounterVec
	distributed   prometheus.Counter
	claims        *prometheus.CounterVec
	claimConflict prometheus.Counter
	paidOut       prometheus.Counter
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_total",
			Help:      "Vote attempts by outcome.",
		}, []string{"outcome"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Proposal transitions out of active, by trigger and status.",
		}, []string{"trigger", "status"}),
		cascades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cascades_total",
			Help:      "Cascade effect applications by result.",
		}, []string{"result"}),
		distributions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "distributions_total",
			Help:      "Distribute calls by result.",
		}, []string{"result"}),
		distributed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "distributed_amount_total",
			Help:      "Net revenue credited to members.",
		}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Claim calls by result.",
		}, []string{"result"}),
		claimConflict: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claim_cursor_conflicts_total",
			Help:      "Payout cursor compare-and-swap misses.",
		}),
		paidOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "paid_out_amount_total",
			Help:      "Amount paid out by completed claims.",
		}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.votes, c.resolutions, c.cascades, c.distributions, c.distributed,
		c.claims, c.claimConflict, c.paidOut,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return prometheus.NewRegistry()
	}
	return c.registry
}

func (c *Collector) Vote(outcome string) {
	if c == nil {
		return
	}
	c.votes.WithLabelValues(outcome).Inc()
}

func (c *Collector) Resolution(trigger, status string) {
	if c == nil {
		return
	}
	c.resolutions.WithLabelValues(trigger, status).Inc()
}

func (c *Collector) Cascade(result string) {
	if c == nil {
		return
	}
	c.cascades.WithLabelValues(result).Inc()
}

// Distribution counts a distribute call; amount is added only for new sales.
func (c *Collector) Distribution(result string, amount float64) {
	if c == nil {
		return
	}
	c.distributions.WithLabelValues(result).Inc()
	if amount > 0 {
		c.distributed.Add(amount)
	}
}

func (c *Collector) Claim(result string, amount float64) {
	if c == nil {
		return
	}
	c.claims.WithLabelValues(result).Inc()
	if amount > 0 {
		c.paidOut.Add(amount)
	}
}

func (c *Collector) ClaimConflict() {
	if c == nil {
		return
	}
	c.claimConflict.Inc()
}
