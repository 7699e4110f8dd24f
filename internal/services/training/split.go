package training

import (
	"math/rand"
	"sort"
)

// StratifiedSplit partitions row indices into train and test sets, keeping the class ratio of
// labels in both. testSize is the fraction of each class sent to the test set. The result is
// deterministic for a given seed.
func StratifiedSplit(labels []int, testSize float64, seed int64) (train, test []int) {
	rng := rand.New(rand.NewSource(seed))

	for _, class := range byClass(labels) {
		rng.Shuffle(len(class), func(i, j int) { class[i], class[j] = class[j], class[i] })

		n := int(float64(len(class))*testSize + 0.5)
		if n == 0 && len(class) > 1 && testSize > 0 {
			n = 1
		}
		test = append(test, class[:n]...)
		train = append(train, class[n:]...)
	}

	sort.Ints(train)
	sort.Ints(test)
	return train, test
}

// StratifiedKFold deals rows into k folds class by class, so each fold holds about 1/k of
// every class. rows are indices into labels.
func StratifiedKFold(rows []int, labels []int, k int, seed int64) [][]int {
	rng := rand.New(rand.NewSource(seed))

	sub := make([]int, len(rows))
	for i, r := range rows {
		sub[i] = labels[r]
	}

	folds := make([][]int, k)
	next := 0
	for _, class := range byClass(sub) {
		rng.Shuffle(len(class), func(i, j int) { class[i], class[j] = class[j], class[i] })
		for _, i := range class {
			folds[next%k] = append(folds[next%k], rows[i])
			next++
		}
	}

	for _, f := range folds {
		sort.Ints(f)
	}
	return folds
}

// complement returns rows not in fold. Both must be sorted.
func complement(rows, fold []int) []int {
	out := make([]int, 0, len(rows)-len(fold))
	j := 0
	for _, r := range rows {
		if j < len(fold) && fold[j] == r {
			j++
			continue
		}
		out = append(out, r)
	}
	return out
}

// byClass groups indices by label, negatives first.
func byClass(labels []int) [][]int {
	var neg, pos []int
	for i, y := range labels {
		if y == 1 {
			pos = append(pos, i)
		} else {
			neg = append(neg, i)
		}
	}
	return [][]int{neg, pos}
}
