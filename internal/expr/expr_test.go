package expr_test

import (
	. "github.com/dogmatiq/conductor/internal/expr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Evaluator", func() {
	var (
		evaluator *Evaluator
		vars      map[string]any
	)

	BeforeEach(func() {
		evaluator = NewEvaluator()
		vars = map[string]any{
			"count": float64(5),
			"key":   "123",
			"order": map[string]any{
				"total": float64(99.5),
			},
		}
	})

	Describe("func Condition()", func() {
		DescribeTable(
			"it evaluates the condition against the variables",
			func(src string, expect bool) {
				ok, err := evaluator.Condition(src, vars)
				Expect(err).ShouldNot(HaveOccurred())
				Expect(ok).To(Equal(expect))
			},
			Entry("true comparison", "count > 3", true),
			Entry("false comparison", "count < 3", false),
			Entry("string equality", `key == "123"`, true),
			Entry("nested field", "order.total > 50", true),
			Entry("dollar prefix", "$.count > 3", true),
		)

		It("returns an error if a variable is missing", func() {
			_, err := evaluator.Condition("missing > 3", vars)
			Expect(err).Should(HaveOccurred())
		})

		It("returns an error if the result is not a boolean", func() {
			_, err := evaluator.Condition("count", vars)
			Expect(err).Should(HaveOccurred())
		})
	})

	Describe("func Value()", func() {
		It("returns the value of the expression", func() {
			v, err := evaluator.Value("key", vars)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(v).To(Equal("123"))
		})

		It("returns structured values of a bare variable reference", func() {
			v, err := evaluator.Value("order", vars)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(v).To(Equal(map[string]any{"total": 99.5}))
		})

		It("accepts a dollar prefix", func() {
			v, err := evaluator.Value("$.key", vars)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(v).To(Equal("123"))
		})

		It("returns an error if a variable is missing", func() {
			_, err := evaluator.Value("missing", vars)
			Expect(err).Should(HaveOccurred())
		})
	})

	Describe("func CorrelationKey()", func() {
		It("returns string values unchanged", func() {
			k, err := evaluator.CorrelationKey("key", vars)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(k).To(Equal("123"))
		})

		It("formats numeric values", func() {
			k, err := evaluator.CorrelationKey("count", vars)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(k).To(Equal("5"))
		})

		It("returns an error for other values", func() {
			_, err := evaluator.CorrelationKey("order", vars)
			Expect(err).Should(HaveOccurred())
		})
	})
})

var _ = Describe("func Check()", func() {
	It("accepts valid expressions", func() {
		Expect(Check(`a > 1 && b == "x"`)).To(Succeed())
	})

	It("rejects empty expressions", func() {
		Expect(Check("  ")).ShouldNot(Succeed())
	})

	It("rejects invalid syntax", func() {
		Expect(Check("a >")).ShouldNot(Succeed())
	})
})
