package classifier

import "fmt"

// Confusion counts binary predictions against labels. Class 1 is the positive class.
type Confusion struct {
	TN int `json:"tn"`
	FP int `json:"fp"`
	FN int `json:"fn"`
	TP int `json:"tp"`
}

// Evaluate builds the confusion counts of predicted against actual.
func Evaluate(actual, predicted []int) (Confusion, error) {
	var c Confusion
	if len(actual) != len(predicted) {
		return c, ShapeError(fmt.Sprintf("%d labels for %d predictions", len(actual), len(predicted)))
	}
	for i := range actual {
		switch {
		case actual[i] == 1 && predicted[i] == 1:
			c.TP++
		case actual[i] == 1:
			c.FN++
		case predicted[i] == 1:
			c.FP++
		default:
			c.TN++
		}
	}
	return c, nil
}

// Precision is TP/(TP+FP), 0 when nothing was predicted positive.
func (c Confusion) Precision() float64 {
	return ratio(c.TP, c.TP+c.FP)
}

// Recall is TP/(TP+FN), 0 when there are no positives.
func (c Confusion) Recall() float64 {
	return ratio(c.TP, c.TP+c.FN)
}

// F1 is the harmonic mean of precision and recall, 0 when both are 0.
func (c Confusion) F1() float64 {
	return ratio(2*c.TP, 2*c.TP+c.FP+c.FN)
}

// Matrix returns the counts laid out as [[TN FP] [FN TP]], rows actual, columns predicted.
func (c Confusion) Matrix() [2][2]int {
	return [2][2]int{{c.TN, c.FP}, {c.FN, c.TP}}
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
