package queue

import "github.com/prometheus/client_golang/prometheus"

var (
	readyTasks = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "queue",
		Name:      "ready_tasks",
		Help:      "Tasks waiting to be claimed, by kind. Approximate across processes.",
	}, []string{"kind"})

	taskOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "queue",
		Name:      "task_outcomes_total",
		Help:      "Finished task attempts by kind and outcome (ok, retry, dlq).",
	}, []string{"kind", "outcome"})

	deadLetters = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "queue",
		Name:      "dead_letter_tasks",
		Help:      "Tasks moved to the dead letter list, by kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(readyTasks, taskOutcomes, deadLetters)
}
