package stores

import (
	"encoding/json"
	"sort"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Normalizer", func() {
	var (
		normalizer Normalizer
		known      []string
	)

	BeforeEach(func() {
		normalizer = NewNormalizer(DefaultThreshold)
		known = []string{"Whole Foods Market"}
	})

	Describe("Normalize", func() {
		It("should reject empty and whitespace names", func() {
			for _, raw := range []string{"", "   ", "\t\n"} {
				name, ok := normalizer.Normalize(raw, known)
				Expect(ok).To(BeFalse())
				Expect(name).To(BeEmpty())
			}
		})

		It("should title-case the first store ever seen", func() {
			name, ok := normalizer.Normalize("whole foods mkt", nil)
			Expect(ok).To(BeTrue())
			Expect(name).To(Equal("Whole Foods Mkt"))
		})

		It("should resolve reordered tokens to the known name", func() {
			a, _ := normalizer.Normalize("Foods Whole Market", known)
			b, _ := normalizer.Normalize("Whole Foods Market", known)
			Expect(a).To(Equal("Whole Foods Market"))
			Expect(b).To(Equal("Whole Foods Market"))
		})

		It("should match an abbreviated spelling", func() {
			name, _ := normalizer.Normalize("  WHOLE FOODS MKT ", known)
			Expect(name).To(Equal("Whole Foods Market"))
		})

		It("should mint Wfm for initials scoring below 51", func() {
			Expect(TokenSortRatio("WFM", "Whole Foods Market")).To(Equal(19))
			name, ok := normalizer.Normalize("WFM", known)
			Expect(ok).To(BeTrue())
			Expect(name).To(Equal("Wfm"))
		})

		It("should keep the first of equally scored names", func() {
			name, _ := NewNormalizer(50).Normalize("ab", []string{"ac", "ad"})
			Expect(name).To(Equal("ac"))
		})

		It("should respect a higher threshold", func() {
			name, _ := NewNormalizer(80).Normalize("Whole Foods", known)
			Expect(name).To(Equal("Whole Foods"))

			name, _ = NewNormalizer(51).Normalize("Whole Foods", known)
			Expect(name).To(Equal("Whole Foods Market"))
		})

		It("should return a canonical name unchanged once it is known", func() {
			for _, raw := range []string{"trader joe's", "WHOLE FOODS MKT", "cvs/pharmacy #123", "Costco"} {
				first, _ := normalizer.Normalize(raw, known)
				known = append(known, first)
				again, _ := normalizer.Normalize(first, known)
				Expect(again).To(Equal(first), raw)
			}
		})

		It("should be deterministic for the same known set", func() {
			known = []string{"Whole Foods Market", "Trader Joe's", "Target", "Safeway"}
			for _, raw := range []string{"TRADER JOES", "target store", "Safe Way", "Sprouts"} {
				a, _ := normalizer.Normalize(raw, known)
				b, _ := normalizer.Normalize(raw, known)
				Expect(a).To(Equal(b))
			}
		})

		It("should use the default threshold for the zero value", func() {
			name, _ := Normalizer{}.Normalize("WFM", known)
			Expect(name).To(Equal("Wfm"))
		})
	})

	Describe("Analyze", func() {
		BeforeEach(func() {
			known = []string{
				"Target",
				"Whole Foods Market",
				"Trader Joe's",
				"Whole Foods",
				"Walgreens",
				"CVS Pharmacy",
				"Safeway",
			}
		})

		It("should report the top five matches best first", func() {
			analysis := normalizer.Analyze("whole foods", known, 0)
			Expect(analysis.Input).To(Equal("whole foods"))
			Expect(analysis.Matches).To(HaveLen(DefaultTopK))
			Expect(analysis.Matches[0]).To(Equal(Match{Name: "Whole Foods", Score: 100}))
			Expect(analysis.Matches[1]).To(Equal(Match{Name: "Whole Foods Market", Score: 76}))
			Expect(sort.SliceIsSorted(analysis.Matches, func(i, j int) bool {
				return analysis.Matches[i].Score > analysis.Matches[j].Score
			})).To(BeTrue())
		})

		It("should include the normalized name", func() {
			analysis := NewNormalizer(DefaultAnalysisThreshold).Analyze("WHOLE FOODS MKT", known, 3)
			Expect(analysis.Matches).To(HaveLen(3))
			Expect(analysis.Normalized).To(HaveValue(Equal("Whole Foods Market")))
			Expect(analysis.Matched).To(BeTrue())
			Expect(analysis.Threshold).To(Equal(80))
		})

		It("should not change the known names", func() {
			before := append([]string(nil), known...)
			normalizer.Analyze("Sprouts Farmers Market", known, 5)
			Expect(known).To(Equal(before))
		})

		It("should return no matches for an empty name", func() {
			analysis := normalizer.Analyze("  ", known, 5)
			Expect(analysis.Matches).To(BeEmpty())
			Expect(analysis.Normalized).To(BeNil())
			Expect(analysis.Matched).To(BeFalse())
		})

		It("should encode a missing normalized name as null", func() {
			data, err := json.Marshal(normalizer.Analyze("", known, 5))
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(MatchJSON(`{"input": "", "normalized": null, "matched": false, "threshold": 51, "top_matches": []}`))

			data, err = json.Marshal(normalizer.Analyze("Safeway", []string{"Safeway"}, 5))
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(MatchJSON(`{"input": "Safeway", "normalized": "Safeway", "matched": true, "threshold": 51, "top_matches": [{"store": "Safeway", "score": 100}]}`))
		})

		It("should keep input order for equal scores", func() {
			analysis := normalizer.Analyze("ab", []string{"ad", "ac", "zz"}, 5)
			Expect(analysis.Matches).To(Equal([]Match{{"ad", 50}, {"ac", 50}, {"zz", 0}}))
		})
	})
})
