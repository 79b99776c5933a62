package tree

import (
	"testing"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/flowtree/pkg/treepath"
)

func TestTree(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Tree Suite")
}

var _ = Describe("ApplyAdded", func() {
	It("inserts a root-level row", func() {
		root, err := ApplyAdded(NewArray(), treepath.Root(), nil, "a", Props{"x": 1}, logr.Discard())
		Expect(err).NotTo(HaveOccurred())
		row, ok := root.Get("a")
		Expect(ok).To(BeTrue())
		Expect(row.Props).To(Equal(Props{"x": 1}))
	})

	It("preserves insertion order across siblings", func() {
		root := NewArray()
		var err error
		for _, k := range []string{"a", "b", "c"} {
			root, err = ApplyAdded(root, treepath.Root(), nil, k, Props{}, logr.Discard())
			Expect(err).NotTo(HaveOccurred())
		}
		keys := make([]string, len(root.Rows))
		for i, r := range root.Rows {
			keys[i] = r.Key
		}
		Expect(keys).To(Equal([]string{"a", "b", "c"}))
	})

	It("creates a nested array on demand once its parent row exists", func() {
		root, err := ApplyAdded(NewArray(), treepath.Root(), nil, "TX", Props{"state": "TX"}, logr.Discard())
		Expect(err).NotTo(HaveOccurred())

		root, err = ApplyAdded(root, treepath.SegPath{"cities"}, treepath.KeyPath{"TX"}, "Dallas", Props{"city": "Dallas"}, logr.Discard())
		Expect(err).NotTo(HaveOccurred())

		Expect(Has(root, treepath.SegPath{"cities"}, treepath.KeyPath{"TX"}, "Dallas")).To(BeTrue())
	})

	It("does not mutate siblings outside the touched path (copy-on-write)", func() {
		root, _ := ApplyAdded(NewArray(), treepath.Root(), nil, "a", Props{"x": 1}, logr.Discard())
		before := root
		after, err := ApplyAdded(root, treepath.Root(), nil, "b", Props{"x": 2}, logr.Discard())
		Expect(err).NotTo(HaveOccurred())
		Expect(len(before.Rows)).To(Equal(1), "prior snapshot must be unaffected")
		Expect(len(after.Rows)).To(Equal(2))
	})

	It("throws a contract violation when the parent row at a non-root path is missing", func() {
		_, err := ApplyAdded(NewArray(), treepath.SegPath{"cities"}, treepath.KeyPath{"TX"}, "Dallas", Props{}, logr.Discard())
		Expect(err).To(HaveOccurred())
		var cv *ContractViolationError
		Expect(err).To(BeAssignableToTypeOf(cv))
	})

	It("throws a contract violation on a duplicate key", func() {
		root, _ := ApplyAdded(NewArray(), treepath.Root(), nil, "a", Props{}, logr.Discard())
		_, err := ApplyAdded(root, treepath.Root(), nil, "a", Props{}, logr.Discard())
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("ApplyRemoved", func() {
	It("collapses the removed row's slot, preserving remaining order", func() {
		root := NewArray()
		for _, k := range []string{"a", "b", "c"} {
			root, _ = ApplyAdded(root, treepath.Root(), nil, k, Props{}, logr.Discard())
		}
		root, err := ApplyRemoved(root, treepath.Root(), nil, "b", logr.Discard())
		Expect(err).NotTo(HaveOccurred())
		keys := make([]string, len(root.Rows))
		for i, r := range root.Rows {
			keys[i] = r.Key
		}
		Expect(keys).To(Equal([]string{"a", "c"}))
	})

	It("is a best-effort no-op skip for an unknown row, not an error", func() {
		root := NewArray()
		after, err := ApplyRemoved(root, treepath.Root(), nil, "ghost", logr.Discard())
		Expect(err).NotTo(HaveOccurred())
		Expect(after.Rows).To(BeEmpty())
	})

	It("is a best-effort skip when the parent itself does not exist", func() {
		_, err := ApplyRemoved(NewArray(), treepath.SegPath{"cities"}, treepath.KeyPath{"TX"}, "Dallas", logr.Discard())
		Expect(err).NotTo(HaveOccurred())
	})
})

var _ = Describe("ApplyModified", func() {
	It("sets the named property on the target row", func() {
		root, _ := ApplyAdded(NewArray(), treepath.Root(), nil, "a", Props{"total": 1}, logr.Discard())
		root, err := ApplyModified(root, treepath.Root(), nil, "a", "total", 2, logr.Discard())
		Expect(err).NotTo(HaveOccurred())
		row, _ := root.Get("a")
		Expect(row.Props["total"]).To(Equal(2))
	})

	It("deletes the property when the new value is Absent", func() {
		root, _ := ApplyAdded(NewArray(), treepath.Root(), nil, "a", Props{"total": 1}, logr.Discard())
		root, err := ApplyModified(root, treepath.Root(), nil, "a", "total", Absent, logr.Discard())
		Expect(err).NotTo(HaveOccurred())
		row, _ := root.Get("a")
		_, exists := row.Props["total"]
		Expect(exists).To(BeFalse())
	})

	It("is a best-effort skip for an unknown row", func() {
		root := NewArray()
		_, err := ApplyModified(root, treepath.Root(), nil, "ghost", "total", 1, logr.Discard())
		Expect(err).NotTo(HaveOccurred())
	})

	It("leaves the other rows' Props maps untouched (copy-on-write)", func() {
		root, _ := ApplyAdded(NewArray(), treepath.Root(), nil, "a", Props{"total": 1}, logr.Discard())
		root, _ = ApplyAdded(root, treepath.Root(), nil, "b", Props{"total": 5}, logr.Discard())
		before, _ := root.Get("b")

		root, err := ApplyModified(root, treepath.Root(), nil, "a", "total", 2, logr.Discard())
		Expect(err).NotTo(HaveOccurred())

		after, _ := root.Get("b")
		Expect(after.Props["total"]).To(Equal(before.Props["total"]))
	})
})
