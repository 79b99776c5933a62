package step_test

import (
	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/flowtree/pkg/step"
	"github.com/l7mp/flowtree/pkg/tree"
	"github.com/l7mp/flowtree/pkg/treepath"
)

var _ = Describe("DropPropertyStep", func() {
	It("strips the named property from added and removed payloads", func() {
		in := step.NewInput(logr.Discard())
		drop := step.NewDropProperty(in, treepath.Root(), "secret", logr.Discard())

		var gotAdded, gotRemoved tree.Props
		drop.OnAdded(treepath.Root(), func(_ treepath.KeyPath, _ treepath.Key, props tree.Props) {
			gotAdded = props
		})
		drop.OnRemoved(treepath.Root(), func(_ treepath.KeyPath, _ treepath.Key, props tree.Props) {
			gotRemoved = props
		})

		in.Add("a", tree.Props{"x": 1, "secret": "hide-me"})
		Expect(gotAdded).To(Equal(tree.Props{"x": 1}))

		in.Remove("a", tree.Props{"x": 1, "secret": "hide-me"})
		Expect(gotRemoved).To(Equal(tree.Props{"x": 1}))
	})

	It("removes the property from the mutable set in its descriptor", func() {
		src := newMutableSource("secret")
		drop := step.NewDropProperty(src, treepath.Root(), "secret", logr.Discard())

		Expect(src.TypeDescriptor().IsMutable("secret")).To(BeTrue())
		Expect(drop.TypeDescriptor().IsMutable("secret")).To(BeFalse())
	})
})
