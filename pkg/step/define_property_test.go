package step_test

import (
	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/flowtree/pkg/step"
	"github.com/l7mp/flowtree/pkg/tree"
	"github.com/l7mp/flowtree/pkg/treepath"
)

var _ = Describe("DefinePropertyStep", func() {
	It("computes the new property once at add time", func() {
		in := step.NewInput(logr.Discard())
		def := step.NewDefineProperty(in, treepath.Root(), "doubled", func(v tree.Props) any {
			n, _ := v["n"].(float64)
			return n * 2
		}, nil, logr.Discard())

		var got tree.Props
		def.OnAdded(treepath.Root(), func(_ treepath.KeyPath, _ treepath.Key, props tree.Props) { got = props })

		in.Add("a", tree.Props{"n": 21.0})
		Expect(got["doubled"]).To(Equal(42.0))
	})

	It("recomputes and re-emits modified only when the computed value actually changes", func() {
		src := newMutableSource("n")
		def := step.NewDefineProperty(src, treepath.Root(), "bucket", func(v tree.Props) any {
			n, _ := v["n"].(float64)
			if n < 10 {
				return "low"
			}
			return "high"
		}, []string{"n"}, logr.Discard())

		var modCount int
		var last any
		def.OnModified(treepath.Root(), "bucket", func(_ treepath.KeyPath, _ treepath.Key, _, newValue any) {
			modCount++
			last = newValue
		})

		src.Add("a", tree.Props{"n": 1.0})
		src.Set("a", "n", 1.0, 2.0) // still "low": no observable change, silent no-op
		Expect(modCount).To(Equal(0))

		src.Set("a", "n", 2.0, 20.0) // crosses into "high"
		Expect(modCount).To(Equal(1))
		Expect(last).To(Equal("high"))
	})

	It("marks the property mutable in its descriptor only when it has mutable dependencies", func() {
		in := step.NewInput(logr.Discard())
		stable := step.NewDefineProperty(in, treepath.Root(), "const", func(tree.Props) any { return 1 }, nil, logr.Discard())
		Expect(stable.TypeDescriptor().IsMutable("const")).To(BeFalse())

		src := newMutableSource("n")
		tracked := step.NewDefineProperty(src, treepath.Root(), "derived", func(tree.Props) any { return 1 }, []string{"n"}, logr.Discard())
		Expect(tracked.TypeDescriptor().IsMutable("derived")).To(BeTrue())
	})
})
