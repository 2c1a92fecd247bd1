package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mondtic/corporate-access/internal/models"
	"github.com/mondtic/corporate-access/internal/regexcache"
)

func newRegexRuleFixture(t *testing.T) (*RegexRuleService, *regexcache.Cache, *models.Catalog) {
	t.Helper()

	db := newTestDB(t)
	regexes, err := regexcache.New(db)
	require.NoError(t, err)

	service, err := NewRegexRuleService(db, regexes)
	require.NoError(t, err)

	catalog := seedCatalog(t, db, "acme", models.CatalogKindCorporate)
	return service, regexes, catalog
}

func TestRegexRuleCreateAnchorsPattern(t *testing.T) {
	service, regexes, catalog := newRegexRuleFixture(t)

	rule, err := service.Create(context.Background(), catalog.ID, `.*@acme\.com`)
	require.NoError(t, err)
	require.Equal(t, `^.*@acme\.com$`, rule.Pattern)

	require.True(t, regexes.Matches(catalog.ID, "bob@acme.com"))
	require.False(t, regexes.Matches(catalog.ID, "bob@acme.com.evil.org"))
}

func TestRegexRuleCreateRejectsInvalidPattern(t *testing.T) {
	service, _, catalog := newRegexRuleFixture(t)

	_, err := service.Create(context.Background(), catalog.ID, `(`)
	require.Error(t, err)

	_, err = service.Create(context.Background(), catalog.ID, "")
	require.Error(t, err)

	_, err = service.Create(context.Background(), catalog.ID, `(a+)+`)
	require.Error(t, err)
}

func TestRegexRuleCreateUnknownCatalog(t *testing.T) {
	service, _, _ := newRegexRuleFixture(t)

	_, err := service.Create(context.Background(), "no-such-catalog", `.*@acme\.com`)
	require.Error(t, err)
}

func TestRegexRuleUpdateInvalidatesCache(t *testing.T) {
	service, regexes, catalog := newRegexRuleFixture(t)

	rule, err := service.Create(context.Background(), catalog.ID, `.*@acme\.com`)
	require.NoError(t, err)
	require.True(t, regexes.Matches(catalog.ID, "bob@acme.com"))

	_, err = service.Update(context.Background(), rule.ID, `.*@initech\.com`)
	require.NoError(t, err)

	require.False(t, regexes.Matches(catalog.ID, "bob@acme.com"))
	require.True(t, regexes.Matches(catalog.ID, "bob@initech.com"))
}

func TestRegexRuleUpdateUnknownRule(t *testing.T) {
	service, _, _ := newRegexRuleFixture(t)

	_, err := service.Update(context.Background(), 999, `.*@acme\.com`)
	require.ErrorIs(t, err, ErrRegexRuleNotFound)
}

func TestRegexRuleDeleteInvalidatesCache(t *testing.T) {
	service, regexes, catalog := newRegexRuleFixture(t)

	rule, err := service.Create(context.Background(), catalog.ID, `.*@acme\.com`)
	require.NoError(t, err)
	require.True(t, regexes.Matches(catalog.ID, "bob@acme.com"))

	require.NoError(t, service.Delete(context.Background(), rule.ID))
	require.False(t, regexes.Matches(catalog.ID, "bob@acme.com"))

	require.ErrorIs(t, service.Delete(context.Background(), rule.ID), ErrRegexRuleNotFound)
}

func TestRegexRuleList(t *testing.T) {
	service, _, catalog := newRegexRuleFixture(t)

	_, err := service.Create(context.Background(), catalog.ID, `.*@acme\.com`)
	require.NoError(t, err)
	_, err = service.Create(context.Background(), catalog.ID, `.*@initech\.com`)
	require.NoError(t, err)

	rules, err := service.List(context.Background(), catalog.ID)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	require.Equal(t, `^.*@acme\.com$`, rules[0].Pattern)
}
