package state_test

import (
	"errors"

	"github.com/dogmatiq/conductor/internal/testing/boltdbtest"
	"github.com/dogmatiq/conductor/internal/x/bboltx"
	"github.com/dogmatiq/conductor/keys"
	. "github.com/dogmatiq/conductor/state"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// openStore returns a store backed by a temporary database.
func openStore() *Store {
	db, close := boltdbtest.Open()
	DeferCleanup(close)
	return New(db)
}

// update calls fn within a committed transaction.
func update(store *Store, fn func(tx *Tx)) {
	Expect(store.Update(fn)).To(Succeed())
}

// view calls fn within a read-only transaction.
func view(store *Store, fn func(tx *Tx)) {
	Expect(store.View(fn)).To(Succeed())
}

var _ = Describe("type Store", func() {
	var store *Store

	BeforeEach(func() {
		store = openStore()
	})

	Describe("func View()", func() {
		It("returns default values when the state is empty", func() {
			view(store, func(tx *Tx) {
				Expect(tx.LastProcessedPosition()).To(BeEquivalentTo(-1))
				Expect(tx.LastWrittenPosition()).To(BeEquivalentTo(-1))

				_, ok := tx.Jobs().Get(1)
				Expect(ok).To(BeFalse())
			})
		})

		It("returns errors raised by the database as errors", func() {
			err := store.View(func(tx *Tx) {
				bboltx.Must(errors.New("<error>"))
			})
			Expect(err).To(MatchError("<error>"))
		})
	})

	Describe("func Begin()", func() {
		It("discards changes when the transaction is rolled back", func() {
			tx, err := store.Begin()
			Expect(err).ShouldNot(HaveOccurred())

			tx.SetPositions(10, 20)
			tx.Rollback()

			view(store, func(tx *Tx) {
				Expect(tx.LastProcessedPosition()).To(BeEquivalentTo(-1))
			})
		})

		It("makes changes visible when the transaction is committed", func() {
			tx, err := store.Begin()
			Expect(err).ShouldNot(HaveOccurred())

			tx.SetPositions(10, 20)
			Expect(tx.Commit()).To(Succeed())

			view(store, func(tx *Tx) {
				Expect(tx.LastProcessedPosition()).To(BeEquivalentTo(10))
				Expect(tx.LastWrittenPosition()).To(BeEquivalentTo(20))
			})
		})
	})
})

var _ = Describe("func Tx.NextKey()", func() {
	It("returns strictly increasing keys that encode the partition", func() {
		store := openStore()

		var first, second int64
		update(store, func(tx *Tx) {
			first = tx.NextKey(3)
		})
		update(store, func(tx *Tx) {
			second = tx.NextKey(3)
		})

		Expect(second).To(BeNumerically(">", first))
		Expect(keys.PartitionID(first)).To(BeEquivalentTo(3))
		Expect(keys.Counter(first)).To(BeEquivalentTo(1))
		Expect(keys.Counter(second)).To(BeEquivalentTo(2))
	})
})
