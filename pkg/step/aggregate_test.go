package step_test

import (
	"testing"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/flowtree/pkg/step"
	"github.com/l7mp/flowtree/pkg/tree"
	"github.com/l7mp/flowtree/pkg/treepath"
)

func TestAggregate(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Aggregate Suite")
}

var _ = Describe("CommutativeAggregateStep (count)", func() {
	It("tracks the live child count per group, independent of any property value", func() {
		in := step.NewInput(logr.Discard())
		gb := step.NewGroupBy(in, treepath.Root(), []string{"g"}, "items", logr.Discard())
		count := step.NewCount(gb, treepath.SegPath{"items"}, "n", logr.Discard())

		var last any
		count.OnModified(treepath.Root(), "n", func(_ treepath.KeyPath, _ treepath.Key, _, newValue any) { last = newValue })

		in.Add("a", tree.Props{"g": "G"})
		Expect(last).To(Equal(1))
		in.Add("b", tree.Props{"g": "G"})
		Expect(last).To(Equal(2))
		in.Remove("a", tree.Props{"g": "G"})
		Expect(last).To(Equal(1))
	})
})

var _ = Describe("MinMaxAggregateStep (max)", func() {
	It("tracks the running maximum and recomputes when the current max is removed", func() {
		in := step.NewInput(logr.Discard())
		gb := step.NewGroupBy(in, treepath.Root(), []string{"g"}, "items", logr.Discard())
		max := step.NewMax(gb, treepath.SegPath{"items"}, "value", "maxVal", logr.Discard())

		var last any
		max.OnModified(treepath.Root(), "maxVal", func(_ treepath.KeyPath, _ treepath.Key, _, newValue any) { last = newValue })

		in.Add("a", tree.Props{"g": "G", "value": 10.0})
		Expect(last).To(Equal(10.0))
		in.Add("b", tree.Props{"g": "G", "value": 30.0})
		Expect(last).To(Equal(30.0))
		in.Add("c", tree.Props{"g": "G", "value": 20.0})
		Expect(last).To(Equal(30.0), "lower value must not overtake the current max")

		in.Remove("b", tree.Props{"g": "G", "value": 30.0})
		Expect(last).To(Equal(20.0), "removing the current max must fall back to the next-highest live value")
	})

	It("emits Absent once the last child of a group is removed", func() {
		in := step.NewInput(logr.Discard())
		gb := step.NewGroupBy(in, treepath.Root(), []string{"g"}, "items", logr.Discard())
		max := step.NewMax(gb, treepath.SegPath{"items"}, "value", "maxVal", logr.Discard())

		var last any
		max.OnModified(treepath.Root(), "maxVal", func(_ treepath.KeyPath, _ treepath.Key, _, newValue any) { last = newValue })

		in.Add("a", tree.Props{"g": "G", "value": 10.0})
		in.Remove("a", tree.Props{"g": "G", "value": 10.0})
		Expect(last).To(Equal(tree.Absent))
	})
})

var _ = Describe("AverageAggregateStep", func() {
	It("tracks the mean of live children and ignores non-numeric values", func() {
		in := step.NewInput(logr.Discard())
		gb := step.NewGroupBy(in, treepath.Root(), []string{"g"}, "items", logr.Discard())
		avg := step.NewAverage(gb, treepath.SegPath{"items"}, "value", "avgVal", logr.Discard())

		var last any
		avg.OnModified(treepath.Root(), "avgVal", func(_ treepath.KeyPath, _ treepath.Key, _, newValue any) { last = newValue })

		in.Add("a", tree.Props{"g": "G", "value": 10.0})
		Expect(last).To(Equal(10.0))
		in.Add("b", tree.Props{"g": "G", "value": 20.0})
		Expect(last).To(Equal(15.0))
		in.Add("c", tree.Props{"g": "G", "value": "not-a-number"})
		Expect(last).To(Equal(15.0), "non-numeric values must not shift the average")

		in.Remove("a", tree.Props{"g": "G", "value": 10.0})
		Expect(last).To(Equal(20.0))
	})
})
