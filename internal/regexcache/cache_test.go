package regexcache

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mondtic/corporate-access/internal/models"
)

func openRegexTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.CorporatePartner{},
		&models.Catalog{},
		&models.CatalogEmailRegex{},
	))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

func seedCatalog(t *testing.T, db *gorm.DB, patterns ...string) *models.Catalog {
	t.Helper()

	catalog := &models.Catalog{Slug: "acme-" + t.Name(), Name: "Acme", Kind: models.CatalogKindCorporate}
	require.NoError(t, db.Create(catalog).Error)
	for _, p := range patterns {
		require.NoError(t, db.Create(&models.CatalogEmailRegex{CatalogID: catalog.ID, Pattern: p}).Error)
	}
	return catalog
}

func TestMatchesIsAnchoredFullString(t *testing.T) {
	db := openRegexTestDB(t)
	catalog := seedCatalog(t, db, `.*@acme\.com`)

	cache, err := New(db)
	require.NoError(t, err)

	require.True(t, cache.Matches(catalog.ID, "bob@acme.com"))
	require.True(t, cache.Matches(catalog.ID, "Bob@ACME.com"), "matching is case-insensitive")
	require.False(t, cache.Matches(catalog.ID, "bob@acme.com.evil.org"), "anchoring forbids partial matches")
	require.False(t, cache.Matches(catalog.ID, ""))
}

func TestInvalidPatternsAreSkipped(t *testing.T) {
	db := openRegexTestDB(t)
	catalog := seedCatalog(t, db, `([`, `.*@acme\.com`)

	cache, err := New(db)
	require.NoError(t, err)

	compiled, err := cache.ForCatalog(catalog.ID)
	require.NoError(t, err)
	require.Len(t, compiled, 1)
	require.True(t, cache.Matches(catalog.ID, "x@acme.com"))
}

func TestCachedUntilInvalidated(t *testing.T) {
	db := openRegexTestDB(t)
	catalog := seedCatalog(t, db, `.*@acme\.com`)

	cache, err := New(db)
	require.NoError(t, err)
	require.True(t, cache.Matches(catalog.ID, "bob@acme.com"))
	require.False(t, cache.Matches(catalog.ID, "bob@other.com"))

	// A new rule is not observed until the catalog entry is invalidated.
	require.NoError(t, db.Create(&models.CatalogEmailRegex{CatalogID: catalog.ID, Pattern: `.*@other\.com`}).Error)
	require.False(t, cache.Matches(catalog.ID, "bob@other.com"))

	cache.Invalidate(catalog.ID)
	require.True(t, cache.Matches(catalog.ID, "bob@other.com"))
}

func TestInvalidateAll(t *testing.T) {
	db := openRegexTestDB(t)
	catalog := seedCatalog(t, db, `.*@acme\.com`)

	cache, err := New(db)
	require.NoError(t, err)
	require.True(t, cache.Matches(catalog.ID, "bob@acme.com"))

	require.NoError(t, db.Where("catalog_id = ?", catalog.ID).Delete(&models.CatalogEmailRegex{}).Error)
	cache.InvalidateAll()
	require.False(t, cache.Matches(catalog.ID, "bob@acme.com"))
}

func TestCapacityEvictsOldest(t *testing.T) {
	db := openRegexTestDB(t)
	first := seedCatalog(t, db, `.*@one\.com`)

	cache, err := New(db, WithCapacity(1))
	require.NoError(t, err)
	_, err = cache.ForCatalog(first.ID)
	require.NoError(t, err)

	second := &models.Catalog{Slug: "second-" + t.Name(), Name: "Second", Kind: models.CatalogKindCorporate}
	require.NoError(t, db.Create(second).Error)
	_, err = cache.ForCatalog(second.ID)
	require.NoError(t, err)

	cache.mu.Lock()
	_, firstCached := cache.entries[first.ID]
	_, secondCached := cache.entries[second.ID]
	cache.mu.Unlock()

	require.False(t, firstCached)
	require.True(t, secondCached)
}

func TestEvictionPrefersLeastRecentlyUsed(t *testing.T) {
	db := openRegexTestDB(t)
	first := seedCatalog(t, db, `.*@one\.com`)

	second := &models.Catalog{Slug: "second-" + t.Name(), Name: "Second", Kind: models.CatalogKindCorporate}
	require.NoError(t, db.Create(second).Error)
	third := &models.Catalog{Slug: "third-" + t.Name(), Name: "Third", Kind: models.CatalogKindCorporate}
	require.NoError(t, db.Create(third).Error)

	cache, err := New(db, WithCapacity(2))
	require.NoError(t, err)

	_, err = cache.ForCatalog(first.ID)
	require.NoError(t, err)
	_, err = cache.ForCatalog(second.ID)
	require.NoError(t, err)

	// A hit on first leaves second as the coldest entry.
	_, err = cache.ForCatalog(first.ID)
	require.NoError(t, err)

	_, err = cache.ForCatalog(third.ID)
	require.NoError(t, err)

	cache.mu.Lock()
	_, firstCached := cache.entries[first.ID]
	_, secondCached := cache.entries[second.ID]
	_, thirdCached := cache.entries[third.ID]
	cache.mu.Unlock()

	require.True(t, firstCached)
	require.False(t, secondCached)
	require.True(t, thirdCached)
}

func TestNormalizePattern(t *testing.T) {
	require.Equal(t, `^.*@acme\.com$`, NormalizePattern(`.*@acme\.com`))
	require.Equal(t, `^already$`, NormalizePattern(`^already$`))
	require.Equal(t, `partial$`, NormalizePattern(`partial$`))
}

func TestValidatePattern(t *testing.T) {
	normalized, err := ValidatePattern(`.*@acme\.com`)
	require.NoError(t, err)
	require.Equal(t, `^.*@acme\.com$`, normalized)

	_, err = ValidatePattern("")
	require.Error(t, err)

	_, err = ValidatePattern(`([`)
	require.Error(t, err)

	_, err = ValidatePattern(`(.*)+@acme\.com`)
	require.Error(t, err, "nested quantifiers are rejected")
}
