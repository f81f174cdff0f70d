package stores

import (
	"context"
	"errors"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// readOnlySource is a Source that is not a Claimer
type readOnlySource struct {
	names []string
	err   error
	calls int
}

func (s *readOnlySource) KnownStoreNames(ctx context.Context) ([]string, error) {
	s.calls++
	return s.names, s.err
}

const aliasYAML = `
stores:
  - name: Whole Foods Market
    aliases: [WFM, "365 WFM", Whole Foods]
  - name: Trader Joe's
    aliases:
      - TJ's
      - Trader Joes
`

var _ = Describe("Resolver", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	When("the source can claim names", func() {
		var source *StaticSource

		BeforeEach(func() {
			source = NewStaticSource()
		})

		It("should record the first store and match later spellings to it", func() {
			resolver := NewResolver(NewNormalizer(DefaultThreshold), source)

			first, err := resolver.Resolve(ctx, "whole foods market")
			Expect(err).NotTo(HaveOccurred())
			Expect(first).To(Equal("Whole Foods Market"))

			second, err := resolver.Resolve(ctx, "WHOLE FOODS MKT")
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(Equal("Whole Foods Market"))

			Expect(source.KnownStoreNames(ctx)).To(Equal([]string{"Whole Foods Market"}))
		})

		It("should mint one name for near-duplicates resolved concurrently", func() {
			resolver := NewResolver(NewNormalizer(DefaultThreshold), source)
			raws := []string{"Whole Foods Market", "WHOLE FOODS MKT", "whole foods market", "Foods Whole Market"}

			var wg sync.WaitGroup
			results := make([]string, len(raws)*5)
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					name, err := resolver.Resolve(ctx, raws[i%len(raws)])
					Expect(err).NotTo(HaveOccurred())
					results[i] = name
				}(i)
			}
			wg.Wait()

			known, _ := source.KnownStoreNames(ctx)
			Expect(known).To(HaveLen(1))
			for _, r := range results {
				Expect(r).To(Equal(known[0]))
			}
		})
	})

	When("the raw name is blank", func() {
		It("should return ErrEmptyStoreName", func() {
			_, err := NewResolver(NewNormalizer(0), NewStaticSource()).Resolve(ctx, "  ")
			Expect(err).To(MatchError(ErrEmptyStoreName))
		})
	})

	When("the source is read-only", func() {
		It("should decide against a fresh snapshot each time", func() {
			source := &readOnlySource{names: []string{"Target"}}
			resolver := NewResolver(NewNormalizer(DefaultThreshold), source)

			name, err := resolver.Resolve(ctx, "TARGET")
			Expect(err).NotTo(HaveOccurred())
			Expect(name).To(Equal("Target"))

			name, err = resolver.Resolve(ctx, "costco wholesale")
			Expect(err).NotTo(HaveOccurred())
			Expect(name).To(Equal("Costco Wholesale"))
			Expect(source.calls).To(Equal(2))
		})

		It("should wrap source errors", func() {
			source := &readOnlySource{err: errors.New("db closed")}
			_, err := NewResolver(NewNormalizer(0), source).Resolve(ctx, "Target")
			Expect(err).To(MatchError(ContainSubstring("listing known stores: db closed")))
		})
	})

	When("the source is an alias table", func() {
		var resolver *Resolver

		BeforeEach(func() {
			table, err := ParseAliasTable(strings.NewReader(aliasYAML))
			Expect(err).NotTo(HaveOccurred())
			resolver = NewResolver(NewNormalizer(DefaultThreshold), table)
		})

		It("should map exact aliases ignoring case and punctuation", func() {
			Expect(resolver.Resolve(ctx, "wfm")).To(Equal("Whole Foods Market"))
			Expect(resolver.Resolve(ctx, "TJ'S")).To(Equal("Trader Joe's"))
		})

		It("should fall back to fuzzy matching the canonical names", func() {
			Expect(resolver.Resolve(ctx, "WHOLE FOODS MKT")).To(Equal("Whole Foods Market"))
		})

		It("should title-case unknown stores without recording them", func() {
			Expect(resolver.Resolve(ctx, "sprouts")).To(Equal("Sprouts"))
			known, _ := resolver.source.KnownStoreNames(ctx)
			Expect(known).To(Equal([]string{"Whole Foods Market", "Trader Joe's"}))
		})
	})

	Describe("ResolveAndCommit", func() {
		var commitErr error

		BeforeEach(func() {
			commitErr = errors.New("save failed")
		})

		failing := func(context.Context, string) error { return commitErr }

		It("should pass the chosen name to commit", func() {
			source := NewStaticSource("Whole Foods Market")
			var committed string
			name, err := NewResolver(NewNormalizer(DefaultThreshold), source).ResolveAndCommit(ctx, "WHOLE FOODS MKT", func(_ context.Context, name string) error {
				committed = name
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(name).To(Equal("Whole Foods Market"))
			Expect(committed).To(Equal("Whole Foods Market"))
		})

		It("should not record a new name when commit fails", func() {
			source := NewStaticSource("Whole Foods Market")
			_, err := NewResolver(NewNormalizer(DefaultThreshold), source).ResolveAndCommit(ctx, "TRADER JOES", failing)
			Expect(err).To(MatchError(commitErr))
			Expect(source.KnownStoreNames(ctx)).To(Equal([]string{"Whole Foods Market"}))
		})

		It("should return commit errors for a read-only source", func() {
			source := &readOnlySource{names: []string{"Target"}}
			_, err := NewResolver(NewNormalizer(DefaultThreshold), source).ResolveAndCommit(ctx, "TARGET", failing)
			Expect(err).To(MatchError(commitErr))
		})

		It("should return commit errors for an alias hit", func() {
			table, err := ParseAliasTable(strings.NewReader(aliasYAML))
			Expect(err).NotTo(HaveOccurred())
			_, err = NewResolver(NewNormalizer(DefaultThreshold), table).ResolveAndCommit(ctx, "wfm", failing)
			Expect(err).To(MatchError(commitErr))
		})

		It("should not call commit for a blank name", func() {
			called := false
			_, err := NewResolver(NewNormalizer(DefaultThreshold), NewStaticSource()).ResolveAndCommit(ctx, " ", func(context.Context, string) error {
				called = true
				return nil
			})
			Expect(err).To(MatchError(ErrEmptyStoreName))
			Expect(called).To(BeFalse())
		})
	})

	Describe("Analyze", func() {
		It("should use the analysis threshold", func() {
			source := NewStaticSource("Whole Foods Market", "Target")
			resolver := NewResolver(NewNormalizer(DefaultThreshold), source).WithAnalysisThreshold(DefaultAnalysisThreshold)

			analysis, err := resolver.Analyze(ctx, "Whole Foods", 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(analysis.Normalized).To(HaveValue(Equal("Whole Foods")))
			Expect(analysis.Matched).To(BeFalse())
			Expect(analysis.Matches[0]).To(Equal(Match{Name: "Whole Foods Market", Score: 76}))

			name, err := resolver.Resolve(ctx, "Whole Foods")
			Expect(err).NotTo(HaveOccurred())
			Expect(name).To(Equal("Whole Foods Market"))
		})
	})
})

var _ = Describe("AliasTable", func() {
	It("should reject an alias claimed by two stores", func() {
		_, err := NewAliasTable([]AliasEntry{
			{Name: "Whole Foods Market", Aliases: []string{"WF"}},
			{Name: "Wegmans Food", Aliases: []string{"wf"}},
		})
		Expect(err).To(MatchError(ContainSubstring("maps to both")))
	})

	It("should reject entries without a name", func() {
		_, err := NewAliasTable([]AliasEntry{{Aliases: []string{"x"}}})
		Expect(err).To(HaveOccurred())
	})

	It("should accept an empty document", func() {
		table, err := ParseAliasTable(strings.NewReader(""))
		Expect(err).NotTo(HaveOccurred())
		Expect(table.KnownStoreNames(context.Background())).To(BeEmpty())
	})
})
