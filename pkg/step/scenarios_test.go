package step_test

import (
	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/flowtree/pkg/binder"
	"github.com/l7mp/flowtree/pkg/builder"
	"github.com/l7mp/flowtree/pkg/statestore"
	"github.com/l7mp/flowtree/pkg/step"
	"github.com/l7mp/flowtree/pkg/tree"
	"github.com/l7mp/flowtree/pkg/treepath"
	"github.com/l7mp/flowtree/pkg/typedesc"
)

// harness binds a freshly built step graph's last step to a Store through a Binder,
// force-flushing synchronously before every read so assertions always read a settled
// tree.
type harness struct {
	store *statestore.Store
	b     *binder.Binder
}

func newHarness(last step.Step) *harness {
	store := statestore.New(logr.Discard())
	return &harness{store: store, b: binder.Bind(last, store, binder.DefaultBatchSize, 0, logr.Discard())}
}

func (h *harness) flush() *tree.Array {
	h.b.ForceFlush()
	return h.store.Snapshot()
}

var _ = Describe("Scenario S1: nested group-by", func() {
	It("groups towns under cities under states", func() {
		bld := builder.From(logr.Discard())
		bld.GroupBy([]string{"state"}, "cities").
			GroupBy([]string{"city"}, "towns")
		h := newHarness(bld.Build())

		in := bld.Input()
		in.Add("t1", tree.Props{"state": "TX", "city": "Dallas", "town": "Plano", "pop": 1.0})
		in.Add("t2", tree.Props{"state": "TX", "city": "Dallas", "town": "Richardson", "pop": 2.0})
		in.Add("t3", tree.Props{"state": "TX", "city": "Houston", "town": "Katy", "pop": 6.0})
		root := h.flush()

		Expect(root.Rows).To(HaveLen(1))
		stateRow := root.Rows[0]
		Expect(stateRow.Props["state"]).To(Equal("TX"))

		cities, ok := stateRow.Props["cities"].(*tree.Array)
		Expect(ok).To(BeTrue())
		Expect(cities.Rows).To(HaveLen(2))
		Expect(cities.Rows[0].Props["city"]).To(Equal("Dallas"))
		Expect(cities.Rows[1].Props["city"]).To(Equal("Houston"))

		dallasTowns := cities.Rows[0].Props["towns"].(*tree.Array)
		Expect(dallasTowns.Rows).To(HaveLen(2))
		Expect(dallasTowns.Rows[0].Props["town"]).To(Equal("Plano"))
		Expect(dallasTowns.Rows[1].Props["town"]).To(Equal("Richardson"))

		houstonTowns := cities.Rows[1].Props["towns"].(*tree.Array)
		Expect(houstonTowns.Rows).To(HaveLen(1))
		Expect(houstonTowns.Rows[0].Props["town"]).To(Equal("Katy"))
	})
})

var _ = Describe("Scenario S2: chained aggregates across two group-by levels", func() {
	It("derives categoryTotal from a 10%-surcharge adjustment of each product's order total", func() {
		bld := builder.From(logr.Discard())
		bld.GroupBy([]string{"cat"}, "products").
			GroupBy([]string{"prod"}, "orders").
			Sum("amount", "productTotal").
			DefineProperty("adj", func(view tree.Props) any {
				total, _ := view["productTotal"].(float64)
				if total > 100 {
					return total * 1.1
				}
				return total
			}, []string{"productTotal"}).
			Sum("adj", "categoryTotal")
		h := newHarness(bld.Build())

		in := bld.Input()
		in.Add("o1", tree.Props{"cat": "X", "prod": "A", "amount": 50.0})
		in.Add("o2", tree.Props{"cat": "X", "prod": "A", "amount": 100.0})
		root := h.flush()

		Expect(root.Rows).To(HaveLen(1))
		Expect(root.Rows[0].Props["categoryTotal"]).To(Equal(165.0))
	})
})

var _ = Describe("Scenario S3: group-by, sum, and a threshold filter", func() {
	It("only admits the customer once totalAmount crosses 100", func() {
		bld := builder.From(logr.Discard())
		bld.GroupBy([]string{"cust"}, "orders").
			Sum("amount", "totalAmount").
			Filter(func(view tree.Props) bool {
				total, _ := view["totalAmount"].(float64)
				return total > 100
			}, []string{"totalAmount"})
		h := newHarness(bld.Build())

		in := bld.Input()
		in.Add("o1", tree.Props{"cust": "C", "amount": 50.0})
		root := h.flush()
		Expect(root.Rows).To(BeEmpty())

		in.Add("o2", tree.Props{"cust": "C", "amount": 100.0})
		root = h.flush()
		Expect(root.Rows).To(HaveLen(1))
		Expect(root.Rows[0].Props["cust"]).To(Equal("C"))
		Expect(root.Rows[0].Props["totalAmount"]).To(Equal(150.0))
	})
})

var _ = Describe("Scenario S4: a mutable bucket fed by a sum re-groups its owner", func() {
	It("reassigns the id's bucket row as its total crosses a boundary", func() {
		bld := builder.From(logr.Discard())
		bld.GroupBy([]string{"id"}, "entries").
			Sum("amount", "total").
			DefineProperty("bucket", func(view tree.Props) any {
				total, _ := view["total"].(float64)
				switch {
				case total < 200:
					return "low"
				case total < 400:
					return "med"
				default:
					return "high"
				}
			}, []string{"total"}).
			GroupBy([]string{"bucket"}, "items")
		h := newHarness(bld.Build())

		in := bld.Input()
		in.Add("e1", tree.Props{"id": "X", "amount": 100.0})
		h.flush()
		in.Add("e2", tree.Props{"id": "X", "amount": 200.0})
		root := h.flush()

		Expect(root.Rows).To(HaveLen(1))
		Expect(root.Rows[0].Props["bucket"]).To(Equal("med"))

		items := root.Rows[0].Props["items"].(*tree.Array)
		Expect(items.Rows).To(HaveLen(1))
		Expect(items.Rows[0].Props["id"]).To(Equal("X"))
	})
})

var _ = Describe("Scenario S5: minimum aggregate tracks removal", func() {
	It("recomputes minVal once the current minimum is removed", func() {
		bld := builder.From(logr.Discard())
		bld.GroupBy([]string{"g"}, "items").Min("value", "minVal")
		h := newHarness(bld.Build())

		in := bld.Input()
		in.Add("a", tree.Props{"g": "G", "value": 10.0})
		in.Add("b", tree.Props{"g": "G", "value": 20.0})
		in.Add("c", tree.Props{"g": "G", "value": 30.0})
		h.flush()

		in.Remove("a", tree.Props{"g": "G", "value": 10.0})
		root := h.flush()

		Expect(root.Rows).To(HaveLen(1))
		Expect(root.Rows[0].Props["minVal"]).To(Equal(20.0))
	})
})

// mutableSource is a minimal hand-rolled step.Step, used only by this package's tests: it lets a test
// fire a modified event directly at the root, which InputStep deliberately cannot do
// (spec.md §3 treats input rows as immutable at the root). Standing in for "an
// upstream aggregate changed this row's effective price" (spec.md §8, scenario S6).
type mutableSource struct {
	addedSubs    []step.AddedHandler
	removedSubs  []step.RemovedHandler
	modifiedSubs map[string][]step.ModifiedHandler
	mutableProps []string
}

func newMutableSource(mutableProps ...string) *mutableSource {
	return &mutableSource{modifiedSubs: map[string][]step.ModifiedHandler{}, mutableProps: mutableProps}
}

func (m *mutableSource) OnAdded(segPath treepath.SegPath, h step.AddedHandler) {
	if len(segPath) == 0 {
		m.addedSubs = append(m.addedSubs, h)
	}
}

func (m *mutableSource) OnRemoved(segPath treepath.SegPath, h step.RemovedHandler) {
	if len(segPath) == 0 {
		m.removedSubs = append(m.removedSubs, h)
	}
}

func (m *mutableSource) OnModified(segPath treepath.SegPath, property string, h step.ModifiedHandler) {
	if len(segPath) == 0 {
		m.modifiedSubs[property] = append(m.modifiedSubs[property], h)
	}
}

func (m *mutableSource) TypeDescriptor() *typedesc.Descriptor {
	d := typedesc.New()
	for _, p := range m.mutableProps {
		d = d.WithMutable(p)
	}
	return d
}

func (m *mutableSource) Add(key treepath.Key, props tree.Props) {
	for _, h := range m.addedSubs {
		h(nil, key, props)
	}
}

func (m *mutableSource) Set(key treepath.Key, property string, oldValue, newValue any) {
	for _, h := range m.modifiedSubs[property] {
		h(nil, key, oldValue, newValue)
	}
}

var _ = Describe("Scenario S6: pick-by-minimum re-picks as the current pick's price changes", func() {
	It("switches the pick once A's effective price rises above B's", func() {
		src := newMutableSource("price")
		gb := step.NewGroupBy(src, treepath.Root(), []string{"cat"}, "items", logr.Discard())
		pick := step.NewPickByMin(gb, treepath.SegPath{"items"}, "price", "cheapest", logr.Discard())
		h := newHarness(pick)

		src.Add("i1", tree.Props{"cat": "X", "prodId": "A", "price": 10.0})
		src.Add("i2", tree.Props{"cat": "X", "prodId": "B", "price": 20.0})
		root := h.flush()

		Expect(root.Rows).To(HaveLen(1))
		cheapest := root.Rows[0].Props["cheapest"].(tree.Props)
		Expect(cheapest["prodId"]).To(Equal("A"))

		src.Set("i1", "price", 10.0, 25.0)
		root = h.flush()

		cheapest = root.Rows[0].Props["cheapest"].(tree.Props)
		Expect(cheapest["prodId"]).To(Equal("B"))
	})
})

var _ = Describe("Invariant 7: type_descriptor is pure", func() {
	It("returns structurally identical descriptors across repeated calls", func() {
		bld := builder.From(logr.Discard())
		bld.GroupBy([]string{"cust"}, "orders").
			Sum("amount", "totalAmount").
			Filter(func(view tree.Props) bool {
				total, _ := view["totalAmount"].(float64)
				return total > 100
			}, []string{"totalAmount"})
		last := bld.Build()

		d1 := last.TypeDescriptor()
		d2 := last.TypeDescriptor()
		Expect(d1.Equal(d2)).To(BeTrue())
	})
})

var _ = Describe("Invariant 2: order stability", func() {
	It("keeps surviving siblings in insertion order after an interior removal", func() {
		bld := builder.From(logr.Discard())
		bld.GroupBy([]string{"g"}, "items")
		h := newHarness(bld.Build())

		in := bld.Input()
		in.Add("a", tree.Props{"g": "G", "n": "a"})
		in.Add("b", tree.Props{"g": "G", "n": "b"})
		in.Add("c", tree.Props{"g": "G", "n": "c"})
		h.flush()

		in.Remove("b", tree.Props{"g": "G", "n": "b"})
		root := h.flush()

		items := root.Rows[0].Props["items"].(*tree.Array)
		Expect(items.Rows).To(HaveLen(2))
		Expect(items.Rows[0].Props["n"]).To(Equal("a"))
		Expect(items.Rows[1].Props["n"]).To(Equal("c"))
	})
})

var _ = Describe("Invariant 4: round-trip on inverse operations", func() {
	It("returns to the prior tree once an add is undone by a matching remove", func() {
		bld := builder.From(logr.Discard())
		bld.GroupBy([]string{"g"}, "items").Count("count")
		h := newHarness(bld.Build())

		in := bld.Input()
		in.Add("a", tree.Props{"g": "G"})
		before := h.flush()
		Expect(before.Rows[0].Props["count"]).To(Equal(1))

		in.Add("b", tree.Props{"g": "G"})
		in.Remove("b", tree.Props{"g": "G"})
		after := h.flush()

		Expect(after.Rows).To(HaveLen(1))
		Expect(after.Rows[0].Props["count"]).To(Equal(before.Rows[0].Props["count"]))
	})
})
