package store_test

import (
	"os"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/dtnx/bpd/store"
)

var _ = Describe("Store", func() {
	var (
		root string
		s    *store.Store
	)

	BeforeEach(func() {
		var err error
		root, err = os.MkdirTemp("", "bpd-store-")
		Expect(err).NotTo(HaveOccurred())
		s, err = store.Open(root)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(root)
	})

	It("creates, writes, and reads back an object", func() {
		fo, err := s.NewObject("bundle-1")
		Expect(err).NotTo(HaveOccurred())

		n, err := fo.WriteBytes(0, []byte("hello"))
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(5))

		got, err := fo.ReadBytes(0, 5)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal([]byte("hello")))
	})

	It("refuses to recreate an existing key", func() {
		_, err := s.NewObject("bundle-2")
		Expect(err).NotTo(HaveOccurred())
		_, err = s.NewObject("bundle-2")
		Expect(err).To(MatchError(store.ErrAlreadyExists))
	})

	It("reports not-found for delete of a missing key", func() {
		err := s.Delete("no-such-key")
		Expect(err).To(MatchError(store.ErrNotFound))
	})

	It("lists every committed key and excludes transaction siblings", func() {
		_, err := s.NewObject("a")
		Expect(err).NotTo(HaveOccurred())
		_, err = s.NewObject("b")
		Expect(err).NotTo(HaveOccurred())

		fo, err := s.GetHandle("a")
		Expect(err).NotTo(HaveOccurred())
		tx, err := fo.BeginTx(store.TxCopyOriginal)
		Expect(err).NotTo(HaveOccurred())
		defer tx.Abort()

		keys, err := s.ListKeys()
		Expect(err).NotTo(HaveOccurred())
		Expect(keys).To(ConsistOf("a", "b"))
	})

	Describe("transactions", func() {
		It("commit atomically replaces the original", func() {
			fo, err := s.NewObject("tx-1")
			Expect(err).NotTo(HaveOccurred())
			_, err = fo.WriteBytes(0, []byte("v1"))
			Expect(err).NotTo(HaveOccurred())

			tx, err := fo.BeginTx(store.TxCopyOriginal)
			Expect(err).NotTo(HaveOccurred())
			_, err = tx.Object().WriteBytes(0, []byte("v2"))
			Expect(err).NotTo(HaveOccurred())
			Expect(tx.Commit()).To(Succeed())

			got, err := fo.ReadBytes(0, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal([]byte("v2")))
		})

		It("abort leaves the original untouched", func() {
			fo, err := s.NewObject("tx-2")
			Expect(err).NotTo(HaveOccurred())
			_, err = fo.WriteBytes(0, []byte("v1"))
			Expect(err).NotTo(HaveOccurred())

			tx, err := fo.BeginTx(store.TxCopyOriginal)
			Expect(err).NotTo(HaveOccurred())
			_, err = tx.Object().WriteBytes(0, []byte("v2"))
			Expect(err).NotTo(HaveOccurred())
			Expect(tx.Abort()).To(Succeed())

			got, err := fo.ReadBytes(0, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal([]byte("v1")))
		})

		It("refuses a second concurrent transaction", func() {
			fo, err := s.NewObject("tx-3")
			Expect(err).NotTo(HaveOccurred())
			tx, err := fo.BeginTx(store.TxCopyOriginal)
			Expect(err).NotTo(HaveOccurred())
			defer tx.Abort()

			_, err = fo.BeginTx(store.TxCopyOriginal)
			Expect(err).To(MatchError(store.ErrTxInFlight))
		})
	})
})
