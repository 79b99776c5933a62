package binder_test

import (
	"runtime"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/flowtree/pkg/binder"
	"github.com/l7mp/flowtree/pkg/statestore"
	"github.com/l7mp/flowtree/pkg/tree"
	"github.com/l7mp/flowtree/pkg/treepath"
)

var _ = Describe("weak-reference disposal", func() {
	It("reclaims an updater's pending queue once its handle becomes unreachable", func() {
		store := statestore.New(logr.Discard())
		u := binder.NewBatchedUpdater(store, 100, time.Hour, logr.Discard())
		u.Enqueue(func(root *tree.Array) (*tree.Array, error) {
			return tree.ApplyAdded(root, treepath.Root(), nil, "a", tree.Props{}, logr.Discard())
		})

		func() {
			h := binder.Register(u)
			_ = h // the handle goes out of scope at the end of this closure
		}()

		Eventually(func() bool {
			runtime.GC()
			return u.Closed()
		}, 2*time.Second, 10*time.Millisecond).Should(BeTrue(), "updater should be closed once its handle is collected")

		// A closed updater drops its queue rather than flushing it.
		u.ForceFlush()
		Expect(store.Snapshot().Rows).To(BeEmpty())
	})
})
