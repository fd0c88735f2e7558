package file

import "github.com/samber/lo"

func buildStats(totals []categoryTotal) *StorageStats {
	stats := &StorageStats{
		SizeByCategory:  make(map[Category]int64, len(totals)),
		CountByCategory: make(map[Category]int64, len(totals)),
	}
	for _, t := range totals {
		cat := t.Category
		if cat == "" {
			cat = CategoryOther
		}
		stats.SizeByCategory[cat] += t.Size
		stats.CountByCategory[cat] += t.Count
	}
	stats.TotalFiles = lo.Sum(lo.Values(stats.CountByCategory))
	stats.TotalSize = lo.Sum(lo.Values(stats.SizeByCategory))
	if stats.TotalFiles > 0 {
		stats.AverageSize = float64(stats.TotalSize) / float64(stats.TotalFiles)
	}
	return stats
}
