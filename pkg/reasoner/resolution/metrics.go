package resolution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// answersTotal counts answers yielded to callers.
	// Labels: source (stored, derived)
	answersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reasoner_answers_total",
		Help: "Total answers yielded by resolution",
	}, []string{"source"})

	// ruleApplications counts rule states created.
	// Labels: rule
	ruleApplications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reasoner_rule_applications_total",
		Help: "Total rule applications attempted",
	}, []string{"rule"})

	// subgoalBlocks counts atoms resolved without rules because an
	// equivalent atom was already on the resolution path.
	subgoalBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reasoner_subgoal_blocks_total",
		Help: "Total atoms cut off by cycle detection",
	})

	// fruitlessRules counts rules marked as producing nothing.
	fruitlessRules = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reasoner_fruitless_rules_total",
		Help: "Total rules marked fruitless",
	})

	// resolutionPasses records how many passes a resolution needed.
	resolutionPasses = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reasoner_resolution_passes",
		Help:    "Passes needed to reach a fixpoint",
		Buckets: []float64{1, 2, 3, 4, 6, 8, 16, 32},
	})
)
