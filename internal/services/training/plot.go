package training

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"fraud-detection-pipeline/internal/classifier"
)

const (
	cellSize   = 120
	plotMargin = 110
	plotTitle  = "Confusion matrix - XGBoost (test set)"
)

var classLabels = [2]string{"Not fraud", "Fraud"}

// ConfusionMatrixPNG renders the confusion counts as a 2x2 heat map with true labels on
// the rows and predicted labels on the columns.
func ConfusionMatrixPNG(c classifier.Confusion) ([]byte, error) {
	counts := c.Matrix()
	width := plotMargin + 2*cellSize + 20
	height := plotMargin + 2*cellSize + 40

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	peak := 1
	for _, row := range counts {
		for _, n := range row {
			peak = max(peak, n)
		}
	}

	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			x0 := plotMargin + j*cellSize
			y0 := plotMargin + i*cellSize
			shade := cellColor(float64(counts[i][j]) / float64(peak))
			draw.Draw(img, image.Rect(x0, y0, x0+cellSize-2, y0+cellSize-2), image.NewUniform(shade), image.Point{}, draw.Src)

			ink := color.Black
			if shade.B > 0 && shade.R < 128 {
				ink = color.White
			}
			label := fmt.Sprintf("%d", counts[i][j])
			drawText(img, label, x0+cellSize/2-textWidth(label)/2, y0+cellSize/2+4, ink)
		}
	}

	drawText(img, plotTitle, 10, 20, color.Black)
	drawText(img, "Predicted label", plotMargin+cellSize-textWidth("Predicted label")/2, plotMargin+2*cellSize+30, color.Black)
	drawText(img, "True label", 10, plotMargin-40, color.Black)
	for k, name := range classLabels {
		drawText(img, name, plotMargin+k*cellSize+cellSize/2-textWidth(name)/2, plotMargin-8, color.Black)
		drawText(img, name, 10, plotMargin+k*cellSize+cellSize/2+4, color.Black)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode confusion matrix: %w", err)
	}
	return buf.Bytes(), nil
}

// cellColor interpolates from a pale to a dark blue.
func cellColor(t float64) color.RGBA {
	lerp := func(a, b uint8) uint8 { return uint8(float64(a) + (float64(b)-float64(a))*t) }
	return color.RGBA{R: lerp(247, 8), G: lerp(251, 48), B: lerp(255, 107), A: 255}
}

func drawText(img draw.Image, s string, x, y int, c color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func textWidth(s string) int {
	return font.MeasureString(basicfont.Face7x13, s).Round()
}
